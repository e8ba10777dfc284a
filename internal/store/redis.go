package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

const redisKeyPrefix = "heartline"

// createUserScript claims the name and writes the id index in one step, so a profile is
// never visible by name without being reachable by id.
var createUserScript = redis.NewScript(`
if not redis.call("SET", KEYS[1], ARGV[1], "NX") then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2])
return 1
`)

// RedisStore keeps profiles as JSON strings, turns in a hash indexed by a sorted set
// scored by timestamp, and conflicts in an append-only list.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("store: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("heartline.internal.store.redis")
	}
	return &RedisStore{redis: client, tracer: tracer, now: time.Now}
}

func (s *RedisStore) CreateUser(ctx context.Context, profile chat.UserProfile) (chat.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "store.create_user")
	defer span.End()

	created, err := prepareUser(profile, uuid.NewString(), s.now())
	if err != nil {
		return chat.UserProfile{}, err
	}
	data, err := json.Marshal(created)
	if err != nil {
		span.RecordError(err)
		return chat.UserProfile{}, fmt.Errorf("store: failed to marshal user: %w", err)
	}

	keys := []string{userNameKey(created.Name), userIDKey(created.ID)}
	claimed, err := createUserScript.Run(ctx, s.redis, keys, data, created.Name).Int()
	if err != nil {
		span.RecordError(err)
		return chat.UserProfile{}, fmt.Errorf("store: failed to create user: %w", err)
	}
	if claimed == 0 {
		return chat.UserProfile{}, ErrDuplicateUser
	}
	return created, nil
}

func (s *RedisStore) FindUserByName(ctx context.Context, name string) (chat.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "store.find_user")
	defer span.End()

	data, err := s.redis.Get(ctx, userNameKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return chat.UserProfile{}, ErrUserNotFound
		}
		span.RecordError(err)
		return chat.UserProfile{}, fmt.Errorf("store: failed to load user: %w", err)
	}

	var profile chat.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		span.RecordError(err)
		return chat.UserProfile{}, fmt.Errorf("store: failed to decode user: %w", err)
	}
	return profile, nil
}

func (s *RedisStore) AppendTurn(ctx context.Context, userID string, turn chat.Turn) error {
	ctx, span := s.tracer.Start(ctx, "store.append_turn")
	defer span.End()

	prepared, err := prepareTurn(turn)
	if err != nil {
		return err
	}

	exists, err := s.redis.Exists(ctx, userIDKey(userID)).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to check user: %w", err)
	}
	if exists == 0 {
		return ErrUserNotFound
	}

	data, err := json.Marshal(prepared)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to marshal turn: %w", err)
	}

	// Both writes are NX so a retried append of the same turn is a no-op.
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, turnDataKey(userID), prepared.ID, data)
		pipe.ZAddNX(ctx, turnIndexKey(userID), redis.Z{
			Score:  float64(prepared.Timestamp.UnixMilli()),
			Member: prepared.ID,
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to append turn: %w", err)
	}
	return nil
}

func (s *RedisStore) ListRecentTurns(ctx context.Context, userID string, limit int) ([]chat.Turn, error) {
	ctx, span := s.tracer.Start(ctx, "store.list_turns")
	defer span.End()

	if limit <= 0 {
		return []chat.Turn{}, nil
	}

	ids, err := s.redis.ZRevRange(ctx, turnIndexKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to list turns: %w", err)
	}
	if len(ids) == 0 {
		return []chat.Turn{}, nil
	}

	values, err := s.redis.HMGet(ctx, turnDataKey(userID), ids...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to load turns: %w", err)
	}

	turns := make([]chat.Turn, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var turn chat.Turn
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("store: failed to decode turn: %w", err)
		}
		turns = append(turns, turn)
	}
	reverseTurns(turns)
	return turns, nil
}

func (s *RedisStore) AppendConflict(ctx context.Context, record chat.ConflictRecord) error {
	ctx, span := s.tracer.Start(ctx, "store.append_conflict")
	defer span.End()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Timestamp = Timestamp(record.Timestamp)

	data, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to marshal conflict: %w", err)
	}
	if err := s.redis.RPush(ctx, conflictKey(record.UserID), data).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to append conflict: %w", err)
	}
	return nil
}

func (s *RedisStore) ListConflicts(ctx context.Context, userID string, limit int) ([]chat.ConflictRecord, error) {
	ctx, span := s.tracer.Start(ctx, "store.list_conflicts")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	values, err := s.redis.LRange(ctx, conflictKey(userID), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: failed to list conflicts: %w", err)
	}

	records := make([]chat.ConflictRecord, 0, len(values))
	for _, raw := range values {
		var record chat.ConflictRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("store: failed to decode conflict: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func userNameKey(name string) string {
	return fmt.Sprintf("%s:user:name:%s", redisKeyPrefix, name)
}

func userIDKey(id string) string {
	return fmt.Sprintf("%s:user:id:%s", redisKeyPrefix, id)
}

func turnDataKey(userID string) string {
	return fmt.Sprintf("%s:turns:%s:data", redisKeyPrefix, userID)
}

func turnIndexKey(userID string) string {
	return fmt.Sprintf("%s:turns:%s:index", redisKeyPrefix, userID)
}

func conflictKey(userID string) string {
	return fmt.Sprintf("%s:conflicts:%s", redisKeyPrefix, userID)
}
