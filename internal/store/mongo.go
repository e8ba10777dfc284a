package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

const (
	usersCollection     = "users"
	conflictsCollection = "emotion_conflicts"
)

// userDocument is a user with the conversation history embedded in it.
type userDocument struct {
	ID            primitive.ObjectID     `bson:"_id,omitempty"`
	Name          string                 `bson:"name"`
	Age           int                    `bson:"age"`
	Problem       string                 `bson:"problem"`
	CreatedAt     time.Time              `bson:"createdAt"`
	Conversations []conversationDocument `bson:"conversations"`
}

type conversationDocument struct {
	ID        string            `bson:"id"`
	Timestamp time.Time         `bson:"timestamp"`
	UserInput string            `bson:"user_input"`
	AIOutput  string            `bson:"AI_output"`
	Modality  string            `bson:"modality"`
	Emotions  map[string]string `bson:"emotion_data,omitempty"`
}

type conflictDocument struct {
	ID        string            `bson:"_id"`
	UserID    string            `bson:"user_id"`
	Emotions  map[string]string `bson:"emotions"`
	Dominant  string            `bson:"dominant"`
	Timestamp time.Time         `bson:"timestamp"`
}

// MongoStore keeps one document per user with conversations embedded, plus a
// separate emotion_conflicts collection.
type MongoStore struct {
	users     *mongo.Collection
	conflicts *mongo.Collection
	tracer    trace.Tracer
	now       func() time.Time
}

// NewMongoStore ensures the unique name index exists and returns the store.
func NewMongoStore(ctx context.Context, db *mongo.Database, tracer trace.Tracer) (*MongoStore, error) {
	if db == nil {
		return nil, errors.New("store: mongo database cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("heartline.internal.store.mongo")
	}
	s := &MongoStore{
		users:     db.Collection(usersCollection),
		conflicts: db.Collection(conflictsCollection),
		tracer:    tracer,
		now:       time.Now,
	}

	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to create user name index: %w", err)
	}
	_, err = s.conflicts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to create conflict index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, profile chat.UserProfile) (chat.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "store.create_user")
	defer span.End()

	oid := primitive.NewObjectID()
	created, err := prepareUser(profile, oid.Hex(), s.now())
	if err != nil {
		return chat.UserProfile{}, err
	}

	doc := userDocument{
		ID:            oid,
		Name:          created.Name,
		Age:           created.Age,
		Problem:       created.Problem,
		CreatedAt:     created.CreatedAt,
		Conversations: []conversationDocument{},
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return chat.UserProfile{}, ErrDuplicateUser
		}
		span.RecordError(err)
		return chat.UserProfile{}, fmt.Errorf("store: failed to create user: %w", err)
	}
	return created, nil
}

func (s *MongoStore) FindUserByName(ctx context.Context, name string) (chat.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "store.find_user")
	defer span.End()

	var doc userDocument
	opts := options.FindOne().SetProjection(bson.M{"conversations": 0})
	if err := s.users.FindOne(ctx, bson.M{"name": name}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.UserProfile{}, ErrUserNotFound
		}
		span.RecordError(err)
		return chat.UserProfile{}, fmt.Errorf("store: failed to load user: %w", err)
	}
	return profileFromDocument(doc), nil
}

func (s *MongoStore) AppendTurn(ctx context.Context, userID string, turn chat.Turn) error {
	ctx, span := s.tracer.Start(ctx, "store.append_turn")
	defer span.End()

	prepared, err := prepareTurn(turn)
	if err != nil {
		return err
	}
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return ErrUserNotFound
	}

	// The $ne guard makes a retried append of the same turn id a no-op.
	filter := bson.M{"_id": oid, "conversations.id": bson.M{"$ne": prepared.ID}}
	result, err := s.users.UpdateOne(ctx, filter, appendTurnUpdate(conversationFromTurn(prepared)))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to append turn: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	count, err := s.users.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to check user: %w", err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

// appendTurnUpdate pushes doc and keeps the array in timestamp order, so a late retry of an
// earlier turn lands in its place rather than at the end.
func appendTurnUpdate(doc conversationDocument) bson.M {
	return bson.M{"$push": bson.M{"conversations": bson.M{
		"$each": bson.A{doc},
		"$sort": bson.M{"timestamp": 1},
	}}}
}

func (s *MongoStore) ListRecentTurns(ctx context.Context, userID string, limit int) ([]chat.Turn, error) {
	ctx, span := s.tracer.Start(ctx, "store.list_turns")
	defer span.End()

	if limit <= 0 {
		return []chat.Turn{}, nil
	}
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return []chat.Turn{}, nil
	}

	var doc userDocument
	opts := options.FindOne().SetProjection(bson.M{"conversations": bson.M{"$slice": -limit}})
	if err := s.users.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []chat.Turn{}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to list turns: %w", err)
	}

	turns := make([]chat.Turn, 0, len(doc.Conversations))
	for _, c := range doc.Conversations {
		turns = append(turns, turnFromConversation(c))
	}
	return turns, nil
}

func (s *MongoStore) AppendConflict(ctx context.Context, record chat.ConflictRecord) error {
	ctx, span := s.tracer.Start(ctx, "store.append_conflict")
	defer span.End()

	doc := conflictFromRecord(record)
	if doc.ID == "" {
		doc.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.conflicts.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("store: failed to append conflict: %w", err)
	}
	return nil
}

func (s *MongoStore) ListConflicts(ctx context.Context, userID string, limit int) ([]chat.ConflictRecord, error) {
	ctx, span := s.tracer.Start(ctx, "store.list_conflicts")
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.conflicts.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to list conflicts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []conflictDocument
	if err := cursor.All(ctx, &docs); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to decode conflicts: %w", err)
	}

	records := make([]chat.ConflictRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, recordFromConflict(d))
	}
	reverseConflicts(records)
	return records, nil
}

func profileFromDocument(doc userDocument) chat.UserProfile {
	return chat.UserProfile{
		ID:        doc.ID.Hex(),
		Name:      doc.Name,
		Age:       doc.Age,
		Problem:   doc.Problem,
		CreatedAt: Timestamp(doc.CreatedAt),
	}
}

func conversationFromTurn(turn chat.Turn) conversationDocument {
	return conversationDocument{
		ID:        turn.ID,
		Timestamp: Timestamp(turn.Timestamp),
		UserInput: turn.Input,
		AIOutput:  turn.Reply,
		Modality:  string(turn.Modality),
		Emotions:  observationToMap(turn.Emotions),
	}
}

func turnFromConversation(doc conversationDocument) chat.Turn {
	modality := chat.Modality(doc.Modality)
	if !modality.Valid() {
		modality = chat.ModalityText
	}
	return chat.Turn{
		ID:        doc.ID,
		Input:     doc.UserInput,
		Modality:  modality,
		Emotions:  observationFromMap(doc.Emotions),
		Reply:     doc.AIOutput,
		Timestamp: Timestamp(doc.Timestamp),
	}
}

func conflictFromRecord(record chat.ConflictRecord) conflictDocument {
	return conflictDocument{
		ID:        record.ID,
		UserID:    record.UserID,
		Emotions:  observationToMap(record.Observation),
		Dominant:  record.Dominant,
		Timestamp: Timestamp(record.Timestamp),
	}
}

func recordFromConflict(doc conflictDocument) chat.ConflictRecord {
	return chat.ConflictRecord{
		ID:          doc.ID,
		UserID:      doc.UserID,
		Observation: observationFromMap(doc.Emotions),
		Dominant:    doc.Dominant,
		Timestamp:   Timestamp(doc.Timestamp),
	}
}

func observationToMap(obs emotion.Observation) map[string]string {
	if obs == nil {
		return nil
	}
	out := make(map[string]string, len(obs))
	for ch, label := range obs {
		out[string(ch)] = label
	}
	return out
}

func observationFromMap(m map[string]string) emotion.Observation {
	if m == nil {
		return nil
	}
	out := make(emotion.Observation, len(m))
	for ch, label := range m {
		out[emotion.Channel(ch)] = label
	}
	return out
}
