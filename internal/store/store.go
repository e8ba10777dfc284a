// Package store persists user profiles, conversation turns and emotion conflicts.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

var (
	// ErrDuplicateUser is returned when a profile with the same name already exists.
	ErrDuplicateUser = errors.New("store: user already exists")
	// ErrUserNotFound is returned when no profile matches the lookup.
	ErrUserNotFound = errors.New("store: user not found")
	// ErrInvalidTurn is returned for turns without an id.
	ErrInvalidTurn = errors.New("store: turn id is required")
	// ErrInvalidUser is returned for profiles without a name.
	ErrInvalidUser = errors.New("store: user name is required")
)

// HistoryStore is the durable home of profiles, turns and conflict records.
//
// Implementations must be safe for concurrent use. AppendTurn is idempotent on Turn.ID:
// re-appending a turn that is already stored succeeds without creating a second copy.
// List operations return records oldest-first.
type HistoryStore interface {
	CreateUser(ctx context.Context, profile chat.UserProfile) (chat.UserProfile, error)
	FindUserByName(ctx context.Context, name string) (chat.UserProfile, error)
	AppendTurn(ctx context.Context, userID string, turn chat.Turn) error
	ListRecentTurns(ctx context.Context, userID string, limit int) ([]chat.Turn, error)
	AppendConflict(ctx context.Context, record chat.ConflictRecord) error
	ListConflicts(ctx context.Context, userID string, limit int) ([]chat.ConflictRecord, error)
}

// Timestamp normalises t to the precision every backend round-trips exactly.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func prepareUser(profile chat.UserProfile, id string, now time.Time) (chat.UserProfile, error) {
	profile.Name = strings.TrimSpace(profile.Name)
	if profile.Name == "" {
		return chat.UserProfile{}, ErrInvalidUser
	}
	profile.ID = id
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.CreatedAt = Timestamp(profile.CreatedAt)
	return profile, nil
}

func prepareTurn(turn chat.Turn) (chat.Turn, error) {
	if strings.TrimSpace(turn.ID) == "" {
		return chat.Turn{}, ErrInvalidTurn
	}
	turn.Timestamp = Timestamp(turn.Timestamp)
	turn.Emotions = turn.Emotions.Clone()
	return turn, nil
}

func reverseTurns(turns []chat.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}

func reverseConflicts(records []chat.ConflictRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
