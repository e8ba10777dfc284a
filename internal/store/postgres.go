package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists history in the tables created by the migrations package.
type PostgresStore struct {
	db     Querier
	tracer trace.Tracer
	now    func() time.Time
}

func NewPostgresStore(db Querier, tracer trace.Tracer) *PostgresStore {
	if db == nil {
		panic("store: postgres querier cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("heartline.internal.store.postgres")
	}
	return &PostgresStore{db: db, tracer: tracer, now: time.Now}
}

func (s *PostgresStore) CreateUser(ctx context.Context, profile chat.UserProfile) (chat.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "store.create_user")
	defer span.End()

	created, err := prepareUser(profile, uuid.NewString(), s.now())
	if err != nil {
		return chat.UserProfile{}, err
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO users (id, name, age, problem, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO NOTHING`,
		created.ID, created.Name, created.Age, created.Problem, created.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return chat.UserProfile{}, fmt.Errorf("store: failed to create user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chat.UserProfile{}, ErrDuplicateUser
	}
	return created, nil
}

func (s *PostgresStore) FindUserByName(ctx context.Context, name string) (chat.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "store.find_user")
	defer span.End()

	var profile chat.UserProfile
	err := s.db.QueryRow(ctx, `
		SELECT id::text, name, age, problem, created_at
		FROM users
		WHERE name = $1`, name).
		Scan(&profile.ID, &profile.Name, &profile.Age, &profile.Problem, &profile.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.UserProfile{}, ErrUserNotFound
		}
		span.RecordError(err)
		return chat.UserProfile{}, fmt.Errorf("store: failed to load user: %w", err)
	}
	profile.CreatedAt = Timestamp(profile.CreatedAt)
	return profile, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, userID string, turn chat.Turn) error {
	ctx, span := s.tracer.Start(ctx, "store.append_turn")
	defer span.End()

	if !isUserID(userID) {
		return ErrUserNotFound
	}
	prepared, err := prepareTurn(turn)
	if err != nil {
		return err
	}
	emotions, err := json.Marshal(prepared.Emotions)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to marshal emotions: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO turns (id, user_id, input, modality, emotions, reply, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		prepared.ID, userID, prepared.Input, string(prepared.Modality), emotions, prepared.Reply, prepared.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrUserNotFound
		}
		span.RecordError(err)
		return fmt.Errorf("store: failed to append turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecentTurns(ctx context.Context, userID string, limit int) ([]chat.Turn, error) {
	ctx, span := s.tracer.Start(ctx, "store.list_turns")
	defer span.End()

	if limit <= 0 {
		return []chat.Turn{}, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id::text, input, modality, emotions, reply, created_at
		FROM turns
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0, limit)
	for rows.Next() {
		var (
			turn     chat.Turn
			modality string
			emotions []byte
		)
		if err := rows.Scan(&turn.ID, &turn.Input, &modality, &emotions, &turn.Reply, &turn.Timestamp); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("store: failed to scan turn: %w", err)
		}
		turn.Modality = chat.Modality(modality)
		turn.Timestamp = Timestamp(turn.Timestamp)
		if err := decodeObservation(emotions, &turn.Emotions); err != nil {
			span.RecordError(err)
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to iterate turns: %w", err)
	}
	reverseTurns(turns)
	return turns, nil
}

func (s *PostgresStore) AppendConflict(ctx context.Context, record chat.ConflictRecord) error {
	ctx, span := s.tracer.Start(ctx, "store.append_conflict")
	defer span.End()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	observation, err := json.Marshal(record.Observation)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to marshal observation: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO emotion_conflicts (id, user_id, observation, dominant, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		record.ID, record.UserID, observation, record.Dominant, Timestamp(record.Timestamp))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to append conflict: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConflicts(ctx context.Context, userID string, limit int) ([]chat.ConflictRecord, error) {
	ctx, span := s.tracer.Start(ctx, "store.list_conflicts")
	defer span.End()

	if !isUserID(userID) {
		return nil, ErrUserNotFound
	}

	query := `
		SELECT id::text, user_id::text, observation, dominant, created_at
		FROM emotion_conflicts
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += "\n\t\tLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var records []chat.ConflictRecord
	for rows.Next() {
		var (
			record      chat.ConflictRecord
			observation []byte
		)
		if err := rows.Scan(&record.ID, &record.UserID, &observation, &record.Dominant, &record.Timestamp); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("store: failed to scan conflict: %w", err)
		}
		record.Timestamp = Timestamp(record.Timestamp)
		if err := decodeObservation(observation, &record.Observation); err != nil {
			span.RecordError(err)
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to iterate conflicts: %w", err)
	}
	reverseConflicts(records)
	if records == nil {
		records = []chat.ConflictRecord{}
	}
	return records, nil
}

func decodeObservation(raw []byte, dst *emotion.Observation) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("store: failed to decode observation: %w", err)
	}
	return nil
}

// isUserID reports whether id can name a row in users; anything else would fail the uuid cast.
func isUserID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
