package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// MemoryStore keeps everything in process memory. Used by tests and the default
// development configuration.
type MemoryStore struct {
	mu        sync.RWMutex
	byName    map[string]chat.UserProfile
	byID      map[string]chat.UserProfile
	turns     map[string][]chat.Turn
	turnIDs   map[string]map[string]struct{}
	conflicts map[string][]chat.ConflictRecord
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byName:    make(map[string]chat.UserProfile),
		byID:      make(map[string]chat.UserProfile),
		turns:     make(map[string][]chat.Turn),
		turnIDs:   make(map[string]map[string]struct{}),
		conflicts: make(map[string][]chat.ConflictRecord),
		now:       time.Now,
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, profile chat.UserProfile) (chat.UserProfile, error) {
	created, err := prepareUser(profile, uuid.NewString(), s.now())
	if err != nil {
		return chat.UserProfile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[created.Name]; exists {
		return chat.UserProfile{}, ErrDuplicateUser
	}
	s.byName[created.Name] = created
	s.byID[created.ID] = created
	return created, nil
}

func (s *MemoryStore) FindUserByName(_ context.Context, name string) (chat.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.byName[name]
	if !ok {
		return chat.UserProfile{}, ErrUserNotFound
	}
	return profile, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, userID string, turn chat.Turn) error {
	prepared, err := prepareTurn(turn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[userID]; !ok {
		return ErrUserNotFound
	}
	seen := s.turnIDs[userID]
	if seen == nil {
		seen = make(map[string]struct{})
		s.turnIDs[userID] = seen
	}
	if _, dup := seen[prepared.ID]; dup {
		return nil
	}
	seen[prepared.ID] = struct{}{}

	// Keep the slice ordered by timestamp so a late retried commit lands in place.
	turns := s.turns[userID]
	idx := sort.Search(len(turns), func(i int) bool {
		return turns[i].Timestamp.After(prepared.Timestamp)
	})
	turns = append(turns, chat.Turn{})
	copy(turns[idx+1:], turns[idx:])
	turns[idx] = prepared
	s.turns[userID] = turns
	return nil
}

func (s *MemoryStore) ListRecentTurns(_ context.Context, userID string, limit int) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[userID]
	if limit <= 0 || len(turns) == 0 {
		return []chat.Turn{}, nil
	}
	if limit > len(turns) {
		limit = len(turns)
	}
	recent := turns[len(turns)-limit:]
	out := make([]chat.Turn, len(recent))
	for i, t := range recent {
		t.Emotions = t.Emotions.Clone()
		out[i] = t
	}
	return out, nil
}

func (s *MemoryStore) AppendConflict(_ context.Context, record chat.ConflictRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Timestamp = Timestamp(record.Timestamp)
	record.Observation = record.Observation.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conflicts[record.UserID] = append(s.conflicts[record.UserID], record)
	return nil
}

func (s *MemoryStore) ListConflicts(_ context.Context, userID string, limit int) ([]chat.ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.conflicts[userID]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	recent := records[len(records)-limit:]
	out := make([]chat.ConflictRecord, len(recent))
	for i, r := range recent {
		r.Observation = r.Observation.Clone()
		out[i] = r
	}
	return out, nil
}
