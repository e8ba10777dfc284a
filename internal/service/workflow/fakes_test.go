package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/knowledge"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

// fakeChannel serves as text, speech or facial channel.
type fakeChannel struct {
	label string
	err   error
	// block makes the call wait for its context to end.
	block bool
	calls atomic.Int32
	refs  []string
	mu    sync.Mutex
}

func (f *fakeChannel) Classify(ctx context.Context, input string) (string, error) {
	f.mu.Lock()
	f.refs = append(f.refs, input)
	f.mu.Unlock()
	return f.Sample(ctx)
}

func (f *fakeChannel) Sample(ctx context.Context) (string, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.label, f.err
}

type scriptedJudge struct {
	verdict     emotion.Verdict
	verdictErr  error
	dominant    string
	dominantErr error
	// block makes every call wait for its context to end.
	block bool

	consistencyCalls atomic.Int32
	dominantCalls    atomic.Int32
}

func (j *scriptedJudge) Consistency(ctx context.Context, _ emotion.Observation) (emotion.Verdict, error) {
	j.consistencyCalls.Add(1)
	if j.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return j.verdict, j.verdictErr
}

func (j *scriptedJudge) Dominant(ctx context.Context, _ emotion.Observation, _ string) (string, error) {
	j.dominantCalls.Add(1)
	if j.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return j.dominant, j.dominantErr
}

type fakeGenerator struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests [][]chat.Message
	// started, when set, is closed on the first call; release then gates the reply.
	started chan struct{}
	release chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, messages []chat.Message) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, append([]chat.Message(nil), messages...))
	started, release := g.started, g.release
	g.started = nil
	g.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "I hear you.", nil
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

func (g *fakeGenerator) lastRequest() []chat.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return nil
	}
	return g.requests[len(g.requests)-1]
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// flakyStore fails turn or conflict appends while the matching flag is set.
type flakyStore struct {
	*store.MemoryStore
	failTurns     atomic.Bool
	failConflicts atomic.Bool
	failList      atomic.Bool
	turnAttempts  atomic.Int32
}

var errStoreDown = errors.New("store unavailable")

func (s *flakyStore) AppendTurn(ctx context.Context, userID string, turn chat.Turn) error {
	s.turnAttempts.Add(1)
	if s.failTurns.Load() {
		return errStoreDown
	}
	return s.MemoryStore.AppendTurn(ctx, userID, turn)
}

func (s *flakyStore) AppendConflict(ctx context.Context, record chat.ConflictRecord) error {
	if s.failConflicts.Load() {
		return errStoreDown
	}
	return s.MemoryStore.AppendConflict(ctx, record)
}

func (s *flakyStore) ListRecentTurns(ctx context.Context, userID string, limit int) ([]chat.Turn, error) {
	if s.failList.Load() {
		return nil, errStoreDown
	}
	return s.MemoryStore.ListRecentTurns(ctx, userID, limit)
}

type harness struct {
	engine    *Engine
	store     *flakyStore
	profile   chat.UserProfile
	text      *fakeChannel
	speech    *fakeChannel
	facial    *fakeChannel
	generator *fakeGenerator
}

type harnessOption func(*Seed, *Dependencies, *Config)

func withJudge(j Judge) harnessOption {
	return func(_ *Seed, d *Dependencies, _ *Config) { d.Judge = j }
}

func withGreeting(prompt string) harnessOption {
	return func(s *Seed, _ *Dependencies, _ *Config) { s.Greeting = chat.UserMessage(prompt) }
}

func withSeedTurns(turns ...chat.Turn) harnessOption {
	return func(s *Seed, _ *Dependencies, _ *Config) { s.Turns = turns }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	mem := store.NewMemoryStore()
	profile, err := mem.CreateUser(context.Background(), chat.UserProfile{Name: "Alex", Age: 29, Problem: "exam stress"})
	require.NoError(t, err)

	h := &harness{
		store:     &flakyStore{MemoryStore: mem},
		profile:   profile,
		text:      &fakeChannel{label: emotion.Unknown},
		speech:    &fakeChannel{label: emotion.Neutral},
		facial:    &fakeChannel{label: emotion.Unknown},
		generator: &fakeGenerator{},
	}

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	seed := Seed{
		Profile:  profile,
		Preamble: chat.SystemMessage("You are a warm counselor."),
	}
	deps := Dependencies{
		Text:      h.text,
		Speech:    h.speech,
		Facial:    h.facial,
		Judge:     emotion.RuleJudge{},
		Generator: h.generator,
		Store:     h.store,
		Knowledge: knowledge.NewRetriever(),
		Now: func() time.Time {
			return clock.Add(time.Duration(tick.Add(1)) * time.Second)
		},
	}
	cfg := Config{ChannelTimeout: 200 * time.Millisecond, GenerationTimeout: time.Second, ContextTurns: 5}
	for _, opt := range opts {
		opt(&seed, &deps, &cfg)
	}

	h.engine, err = New(seed, deps, cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) turns(t *testing.T) []chat.Turn {
	t.Helper()
	turns, err := h.store.ListRecentTurns(context.Background(), h.profile.ID, 100)
	require.NoError(t, err)
	return turns
}

func (h *harness) conflicts(t *testing.T) []chat.ConflictRecord {
	t.Helper()
	records, err := h.store.ListConflicts(context.Background(), h.profile.ID, 0)
	require.NoError(t, err)
	return records
}
