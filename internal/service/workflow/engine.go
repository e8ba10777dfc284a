package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/observability/metrics"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

// Apology is the reply shown when generation fails.
const Apology = "I'm sorry, I'm having trouble responding right now. Could you say that again in a moment?"

// Dependencies are the collaborators an engine talks to. Generator, Store and Judge are required.
type Dependencies struct {
	Text      TextClassifier
	Speech    SpeechClassifier
	Facial    FacialSampler
	Judge     Judge
	Generator Generator
	Store     HistoryStore
	Knowledge KnowledgeRetriever
	Metrics   *metrics.WorkflowMetrics
	Tracer    trace.Tracer
	Logger    *zap.Logger
	Now       func() time.Time
}

// Config bounds the engine's external calls.
type Config struct {
	ChannelTimeout    time.Duration
	// JudgeTimeout bounds each consistency or dominance call. Defaults to ChannelTimeout.
	JudgeTimeout      time.Duration
	GenerationTimeout time.Duration
	CommitTimeout     time.Duration
	ContextTurns      int
}

func (c Config) withDefaults() Config {
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 5 * time.Second
	}
	if c.JudgeTimeout <= 0 {
		c.JudgeTimeout = c.ChannelTimeout
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 30 * time.Second
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 10 * time.Second
	}
	if c.ContextTurns < 0 {
		c.ContextTurns = 0
	}
	return c
}

// Seed is the state a session starts from.
type Seed struct {
	Profile  chat.UserProfile
	// Preamble opens the history and carries any previous conversation.
	Preamble chat.Message
	// Turns are the most recent persisted turns, oldest first. They prime the context window.
	Turns []chat.Turn
	// Greeting is the request sent for the opening turn. A zero value disables the greeting.
	Greeting chat.Message
}

// Input is one user contribution. Observe, when set, is told about every state the turn enters.
type Input struct {
	Text     string
	Modality chat.Modality
	AudioRef string
	Observe  func(State)
}

// Reply is what a turn hands back to the caller.
type Reply struct {
	TurnID      string              `json:"turnId,omitempty"`
	Text        string              `json:"text"`
	Emotion     string              `json:"emotion,omitempty"`
	Observation emotion.Observation `json:"observation,omitempty"`
	Consistent  bool                `json:"consistent"`
	Greeting    bool                `json:"greeting,omitempty"`
	Farewell    bool                `json:"farewell,omitempty"`
	// Failure is set when no reply could be generated; Text then holds the apology.
	Failure error `json:"-"`
	// Warning is set when the reply is valid but could not be fully persisted.
	Warning error `json:"-"`
	// Pending marks a turn that is kept in memory until RetryCommit succeeds.
	Pending bool `json:"pending,omitempty"`
}

// Engine runs the conversation workflow for one user. It processes one turn at a time.
type Engine struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	turnMu sync.Mutex

	mu          sync.RWMutex
	state       State
	profile     chat.UserProfile
	history     []chat.Message
	recent      []chat.Turn
	greeting    chat.Message
	greeted     bool
	lastEmotion string
	lastReply   string
	pending     map[string]chat.Turn
	closed      bool
}

// New binds an engine to one user.
func New(seed Seed, deps Dependencies, cfg Config) (*Engine, error) {
	if deps.Generator == nil {
		return nil, errors.New("workflow: generator is required")
	}
	if deps.Store == nil {
		return nil, errors.New("workflow: history store is required")
	}
	if deps.Judge == nil {
		return nil, errors.New("workflow: judge is required")
	}
	if strings.TrimSpace(seed.Profile.ID) == "" {
		return nil, errors.New("workflow: profile id is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("heartline.internal.service.workflow")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	// Seed turns are already rendered into the preamble; they are not replayed as messages.
	history := make([]chat.Message, 0, 3)
	if strings.TrimSpace(seed.Preamble.Content) != "" {
		history = append(history, seed.Preamble)
	}

	return &Engine{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("workflow").With(zap.String("user_id", seed.Profile.ID)),
		tracer:   tracer,
		state:    StateIdle,
		profile:  seed.Profile,
		history:  history,
		recent:   append([]chat.Turn(nil), seed.Turns...),
		greeting: seed.Greeting,
		greeted:  strings.TrimSpace(seed.Greeting.Content) == "",
		pending:  make(map[string]chat.Turn),
	}, nil
}

// Profile returns the user the engine is bound to.
func (e *Engine) Profile() chat.UserProfile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// History returns a copy of the running message history.
func (e *Engine) History() []chat.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]chat.Message, len(e.history))
	copy(out, e.history)
	return out
}

// LastEmotion returns the working emotion of the last successful turn.
func (e *Engine) LastEmotion() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastEmotion
}

// LastReply returns the last generated reply.
func (e *Engine) LastReply() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReply
}

// PendingTurns returns turns whose reply was delivered but whose commit failed.
func (e *Engine) PendingTurns() []chat.Turn {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]chat.Turn, 0, len(e.pending))
	for _, turn := range e.pending {
		out = append(out, turn)
	}
	return out
}

// Close stops the engine from accepting further turns. It waits for an in-flight turn to finish.
func (e *Engine) Close() {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// ProcessTurn runs one full pass of the workflow.
//
// The returned error is reserved for turns that were rejected or abandoned before generation
// began; in that case nothing was written. Once generation starts the caller always gets a
// Reply: Reply.Failure is set when generation failed and Reply.Warning when persistence did.
func (e *Engine) ProcessTurn(ctx context.Context, in Input) (Reply, error) {
	if !e.turnMu.TryLock() {
		e.deps.Metrics.ObserveTurn(metrics.OutcomeRejected)
		return Reply{}, ErrTurnInProgress
	}
	defer e.turnMu.Unlock()

	e.mu.RLock()
	closed, greeted := e.closed, e.greeted
	e.mu.RUnlock()
	if closed {
		e.deps.Metrics.ObserveTurn(metrics.OutcomeRejected)
		return Reply{}, ErrSessionClosed
	}

	in.Text = strings.TrimSpace(in.Text)
	if in.Modality == "" {
		in.Modality = chat.ModalityText
	}
	if !in.Modality.Valid() {
		e.deps.Metrics.ObserveTurn(metrics.OutcomeRejected)
		return Reply{}, fmt.Errorf("%w: modality %q", ErrInvalidInput, in.Modality)
	}
	if in.Modality == chat.ModalityAudio && strings.TrimSpace(in.AudioRef) == "" {
		e.deps.Metrics.ObserveTurn(metrics.OutcomeRejected)
		return Reply{}, fmt.Errorf("%w: audio turn without audio reference", ErrInvalidInput)
	}
	// Only a typed empty input asks for the greeting; a spoken turn must carry its transcript.
	if in.Modality == chat.ModalityAudio && in.Text == "" {
		e.deps.Metrics.ObserveTurn(metrics.OutcomeRejected)
		return Reply{}, fmt.Errorf("%w: audio turn with empty transcript", ErrInvalidInput)
	}

	ctx, span := e.tracer.Start(ctx, "workflow.ProcessTurn", trace.WithAttributes(
		attribute.String("user.id", e.profile.ID),
		attribute.String("turn.modality", string(in.Modality)),
	))
	defer span.End()

	if in.Text == "" {
		if greeted {
			e.deps.Metrics.ObserveTurn(metrics.OutcomeRejected)
			span.SetStatus(codes.Error, ErrEmptyInput.Error())
			return Reply{}, ErrEmptyInput
		}
		return e.greet(ctx, in, span)
	}
	return e.converse(ctx, in, span)
}

func (e *Engine) converse(ctx context.Context, in Input, span trace.Span) (Reply, error) {
	// Analyzing
	e.enter(StateAnalyzing, in.Observe)
	started := time.Now()
	obs := e.analyze(ctx, in)
	e.deps.Metrics.ObserveStage(StateAnalyzing.String(), time.Since(started))
	span.AddEvent("analyzed", trace.WithAttributes(attribute.String("observation", obs.String())))
	if err := ctx.Err(); err != nil {
		return e.abandon(StateAnalyzing, err, span)
	}

	// Reconciling
	e.enter(StateReconciling, in.Observe)
	started = time.Now()
	res := e.reconcile(ctx, obs, historyText(e.History(), e.cfg.ContextTurns))
	e.deps.Metrics.ObserveStage(StateReconciling.String(), time.Since(started))
	span.AddEvent("reconciled", trace.WithAttributes(
		attribute.Bool("consistent", res.consistent),
		attribute.String("emotion", res.emotion),
	))
	if err := ctx.Err(); err != nil {
		return e.abandon(StateReconciling, err, span)
	}

	// Assembling
	e.enter(StateAssembling, in.Observe)
	started = time.Now()
	turns := e.contextTurns(ctx)
	snippet := ""
	if e.deps.Knowledge != nil {
		snippet = e.deps.Knowledge.ForLabel(res.emotion)
	}
	contextMsg := chat.SystemMessage(BuildContext(e.Profile(), res.emotion, turns, snippet))
	e.deps.Metrics.ObserveStage(StateAssembling.String(), time.Since(started))
	if err := ctx.Err(); err != nil {
		return e.abandon(StateAssembling, err, span)
	}

	// Past this point the turn runs to completion regardless of the caller.
	detached := context.WithoutCancel(ctx)
	reply := Reply{
		Emotion:     res.emotion,
		Observation: obs.Clone(),
		Consistent:  res.consistent,
		Farewell:    emotion.IsFarewell(in.Text),
	}

	if !res.consistent {
		if err := e.recordConflict(detached, obs, res.emotion); err != nil {
			reply.Warning = err
		}
	}

	// Generating
	e.enter(StateGenerating, in.Observe)
	request := append(e.History(), contextMsg, chat.UserMessage(in.Text))
	text, err := e.generate(detached, request)
	if err != nil {
		return e.generationFailed(reply, err, in.Observe, span), nil
	}
	reply.Text = text

	e.mu.Lock()
	e.history = append(e.history, chat.UserMessage(in.Text), chat.AssistantMessage(text))
	e.lastEmotion = res.emotion
	e.lastReply = text
	e.greeted = true
	e.mu.Unlock()

	// Committing
	e.enter(StateCommitting, in.Observe)
	turn := chat.Turn{
		ID:        uuid.NewString(),
		Input:     in.Text,
		Modality:  in.Modality,
		Emotions:  obs.Clone(),
		Reply:     text,
		Timestamp: store.Timestamp(e.deps.Now()),
	}
	reply.TurnID = turn.ID
	if err := e.commit(detached, turn); err != nil {
		reply.Warning = errors.Join(reply.Warning, err)
		reply.Pending = true
	}

	e.enter(StateIdle, in.Observe)
	outcome := metrics.OutcomeOK
	if reply.Warning != nil {
		outcome = metrics.OutcomePersistWarning
		span.SetStatus(codes.Error, reply.Warning.Error())
	}
	e.deps.Metrics.ObserveTurn(outcome)
	e.logger.Info("turn processed",
		zap.String("turn_id", turn.ID),
		zap.String("emotion", res.emotion),
		zap.Bool("consistent", res.consistent),
		zap.Bool("pending", reply.Pending),
	)
	return reply, nil
}

func (e *Engine) greet(ctx context.Context, in Input, span trace.Span) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return e.abandon(StateIdle, err, span)
	}

	e.enter(StateGenerating, in.Observe)
	detached := context.WithoutCancel(ctx)
	e.mu.RLock()
	request := append(append([]chat.Message(nil), e.history...), e.greeting)
	e.mu.RUnlock()

	reply := Reply{Greeting: true}
	text, err := e.generate(detached, request)
	if err != nil {
		return e.generationFailed(reply, err, in.Observe, span), nil
	}
	reply.Text = text

	e.mu.Lock()
	e.history = append(e.history, chat.AssistantMessage(text))
	e.lastReply = text
	e.greeted = true
	e.mu.Unlock()

	e.enter(StateIdle, in.Observe)
	e.deps.Metrics.ObserveTurn(metrics.OutcomeGreeting)
	e.logger.Info("greeting generated")
	return reply, nil
}

// RetryCommit re-appends a pending turn. The store ignores turns it already holds.
func (e *Engine) RetryCommit(ctx context.Context, turnID string) error {
	if !e.turnMu.TryLock() {
		return ErrTurnInProgress
	}
	defer e.turnMu.Unlock()

	e.mu.RLock()
	turn, ok := e.pending[turnID]
	e.mu.RUnlock()
	if !ok {
		return ErrUnknownTurn
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
	defer cancel()
	if err := e.deps.Store.AppendTurn(ctx, e.profile.ID, turn); err != nil {
		e.logger.Warn("retrying commit failed", zap.String("turn_id", turnID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	e.mu.Lock()
	delete(e.pending, turnID)
	e.rememberTurn(turn)
	e.mu.Unlock()
	e.logger.Info("pending turn committed", zap.String("turn_id", turnID))
	return nil
}

func (e *Engine) enter(next State, observe func(State)) {
	e.mu.Lock()
	if !CanTransition(e.state, next) {
		e.logger.DPanic("illegal state transition",
			zap.Stringer("from", e.state),
			zap.Stringer("to", next),
		)
	}
	e.state = next
	e.mu.Unlock()
	if observe != nil {
		observe(next)
	}
}

func (e *Engine) abandon(stage State, err error, span trace.Span) (Reply, error) {
	if stage != StateIdle {
		e.enter(StateIdle, nil)
	}
	e.deps.Metrics.ObserveTurn(metrics.OutcomeCancelled)
	span.RecordError(err)
	span.SetStatus(codes.Error, "turn abandoned")
	e.logger.Info("turn abandoned", zap.Stringer("stage", stage), zap.Error(err))
	return Reply{}, &TurnError{Stage: stage, Err: err}
}

func (e *Engine) generate(ctx context.Context, messages []chat.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()
	started := time.Now()
	text, err := e.deps.Generator.Generate(ctx, messages)
	e.deps.Metrics.ObserveStage(StateGenerating.String(), time.Since(started))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty reply")
	}
	return text, nil
}

func (e *Engine) generationFailed(reply Reply, err error, observe func(State), span trace.Span) Reply {
	err = &TurnError{Stage: StateGenerating, Err: fmt.Errorf("%w: %w", ErrGeneration, err)}
	e.enter(StateIdle, observe)
	e.deps.Metrics.ObserveTurn(metrics.OutcomeGenerationFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "generation failed")
	e.logger.Error("reply generation failed", zap.Error(err))
	reply.Text = Apology
	reply.Failure = err
	return reply
}

func (e *Engine) recordConflict(ctx context.Context, obs emotion.Observation, dominant string) error {
	record := chat.ConflictRecord{
		ID:          uuid.NewString(),
		UserID:      e.profile.ID,
		Observation: obs.Clone(),
		Dominant:    dominant,
		Timestamp:   store.Timestamp(e.deps.Now()),
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
	defer cancel()
	if err := e.deps.Store.AppendConflict(ctx, record); err != nil {
		e.logger.Warn("recording emotion conflict failed", zap.Stringer("observation", obs), zap.Error(err))
		return &TurnError{Stage: StateAssembling, Err: fmt.Errorf("%w: conflict record: %w", ErrPersistence, err)}
	}
	e.deps.Metrics.ObserveConflict()
	e.logger.Info("emotion conflict recorded",
		zap.Stringer("observation", obs),
		zap.String("dominant", dominant),
	)
	return nil
}

func (e *Engine) commit(ctx context.Context, turn chat.Turn) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
	defer cancel()
	started := time.Now()
	err := e.deps.Store.AppendTurn(ctx, e.profile.ID, turn)
	e.deps.Metrics.ObserveStage(StateCommitting.String(), time.Since(started))

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.pending[turn.ID] = turn
		e.logger.Warn("committing turn failed, keeping it pending", zap.String("turn_id", turn.ID), zap.Error(err))
		return &TurnError{Stage: StateCommitting, Err: fmt.Errorf("%w: %w", ErrPersistence, err)}
	}
	e.rememberTurn(turn)
	return nil
}

// rememberTurn keeps the local window of persisted turns. Callers hold e.mu.
func (e *Engine) rememberTurn(turn chat.Turn) {
	e.recent = append(e.recent, turn)
	if limit := e.cfg.ContextTurns; limit > 0 && len(e.recent) > limit {
		e.recent = append([]chat.Turn(nil), e.recent[len(e.recent)-limit:]...)
	}
}

// contextTurns loads the last K persisted turns, falling back to the local window when the
// store is unreachable.
func (e *Engine) contextTurns(ctx context.Context) []chat.Turn {
	limit := e.cfg.ContextTurns
	if limit == 0 {
		return nil
	}
	turns, err := e.deps.Store.ListRecentTurns(ctx, e.profile.ID, limit)
	if err == nil {
		return turns
	}
	e.logger.Warn("loading recent turns failed, using session window", zap.Error(err))

	e.mu.RLock()
	defer e.mu.RUnlock()
	local := e.recent
	if len(local) > limit {
		local = local[len(local)-limit:]
	}
	return append([]chat.Turn(nil), local...)
}
