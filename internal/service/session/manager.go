// Package session binds users to running conversation engines.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/model/persona"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	"github.com/zhouzirui/heartline/backend/internal/service/workflow"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNameRequired    = errors.New("user name is required")
	ErrInvalidAge      = errors.New("age must be between 0 and 150")
)

// Session is a live handle: one user bound to one engine.
type Session struct {
	chat.Session
	Engine *workflow.Engine `json:"-"`
}

// Config controls how sessions are seeded.
type Config struct {
	SeedTurns int
	PersonaID string
	Workflow  workflow.Config
}

// Manager owns every live session. Store is shared across sessions; engines are not.
type Manager struct {
	store    store.HistoryStore
	prompts  *ai.Prompts
	personas persona.Store
	engine   workflow.Dependencies
	cfg      Config
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager wires the manager. engine holds the collaborators shared by every engine;
// its Store field is replaced with historyStore.
func NewManager(historyStore store.HistoryStore, prompts *ai.Prompts, personas persona.Store, engine workflow.Dependencies, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prompts == nil {
		prompts = ai.NewPrompts()
	}
	if personas == nil {
		personas = persona.NewMemoryStore(persona.Seed())
	}
	if cfg.SeedTurns < 0 {
		cfg.SeedTurns = 0
	}
	engine.Store = historyStore
	if engine.Logger == nil {
		engine.Logger = logger
	}
	return &Manager{
		store:    historyStore,
		prompts:  prompts,
		personas: personas,
		engine:   engine,
		cfg:      cfg,
		logger:   logger.Named("session"),
		sessions: make(map[string]*Session),
	}
}

// Start opens a session for an existing user, seeded with their most recent turns.
func (m *Manager) Start(ctx context.Context, name string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	profile, err := m.store.FindUserByName(ctx, name)
	if err != nil {
		return nil, err
	}

	var seed []chat.Turn
	if m.cfg.SeedTurns > 0 {
		seed, err = m.store.ListRecentTurns(ctx, profile.ID, m.cfg.SeedTurns)
		if err != nil {
			return nil, fmt.Errorf("load recent turns: %w", err)
		}
	}
	return m.open(ctx, profile, seed)
}

// Register creates a user and opens a fresh session. The first turn with empty input
// produces the greeting.
func (m *Manager) Register(ctx context.Context, name string, age int, problem string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if age < 0 || age > 150 {
		return nil, ErrInvalidAge
	}

	profile, err := m.store.CreateUser(ctx, chat.UserProfile{
		Name:    name,
		Age:     age,
		Problem: strings.TrimSpace(problem),
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("user registered", zap.String("user_id", profile.ID))
	return m.open(ctx, profile, nil)
}

func (m *Manager) open(ctx context.Context, profile chat.UserProfile, seed []chat.Turn) (*Session, error) {
	who, ok := persona.Resolve(m.personas, m.cfg.PersonaID)
	if !ok {
		return nil, errors.New("no counselor persona configured")
	}

	preamble, err := m.prompts.Preamble(ctx, who, profile, seed)
	if err != nil {
		return nil, err
	}
	greeting, err := m.prompts.Greeting(ctx, who, profile)
	if err != nil {
		return nil, err
	}

	engine, err := workflow.New(workflow.Seed{
		Profile:  profile,
		Preamble: preamble,
		Turns:    seed,
		Greeting: greeting,
	}, m.engine, m.cfg.Workflow)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		Session: chat.Session{
			ID:        uuid.NewString(),
			User:      profile,
			PersonaID: who.ID,
			CreatedAt: time.Now().UTC(),
		},
		Engine: engine,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("user_id", profile.ID),
		zap.Int("seed_turns", len(seed)),
	)
	return sess, nil
}

// Get resolves a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// End closes the session's engine and forgets it. Persisted turns are untouched.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.Engine.Close()
	if pending := len(sess.Engine.PendingTurns()); pending > 0 {
		m.logger.Warn("session ended with uncommitted turns",
			zap.String("session_id", id),
			zap.Int("pending", pending),
		)
	}
	m.logger.Info("session ended", zap.String("session_id", id))
	return nil
}

// Shutdown ends every live session.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.End(id)
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Conflicts lists recorded emotion conflicts for a user, oldest first.
func (m *Manager) Conflicts(ctx context.Context, userID string, limit int) ([]chat.ConflictRecord, error) {
	return m.store.ListConflicts(ctx, userID, limit)
}

// Personas lists the available counselor personas.
func (m *Manager) Personas() []persona.Persona {
	return m.personas.List()
}
