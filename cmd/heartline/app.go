package main

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/config"
	"github.com/zhouzirui/heartline/backend/internal/model/persona"
	"github.com/zhouzirui/heartline/backend/internal/observability/metrics"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	emotionsvc "github.com/zhouzirui/heartline/backend/internal/service/emotion"
	"github.com/zhouzirui/heartline/backend/internal/service/knowledge"
	"github.com/zhouzirui/heartline/backend/internal/service/session"
	"github.com/zhouzirui/heartline/backend/internal/service/signal"
	"github.com/zhouzirui/heartline/backend/internal/service/speech"
	"github.com/zhouzirui/heartline/backend/internal/service/workflow"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

// app is everything a command needs to run conversations.
type app struct {
	personas *persona.MemoryStore
	sessions *session.Manager
	speech   *speech.Service
	registry *prometheus.Registry

	// background runs the facial-affect source until the command's context ends.
	background func(ctx context.Context) error
	closeStore store.CloseFunc
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if !cfg.AI.Enabled() {
		return nil, fmt.Errorf("generation needs an Ark model: set ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY) and Model")
	}
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	historyStore, closeStore, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	retriever, err := knowledge.LoadFile(cfg.Knowledge.File)
	if err != nil {
		_ = closeStore(ctx)
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := workflow.Dependencies{
		Generator: ai.NewGenerator(chatModel, ai.GeneratorConfig{
			Retries: cfg.AI.GenerationRetries,
			Backoff: cfg.AI.RetryBackoff,
		}, logger),
		Knowledge: retriever,
		Metrics:   metrics.NewWorkflowMetrics(registry),
		Logger:    logger,
	}

	deps.Judge, err = buildJudge(ctx, cfg.AI, chatModel, logger)
	if err != nil {
		_ = closeStore(ctx)
		return nil, err
	}
	deps.Text, err = buildTextClassifier(ctx, cfg, chatModel, logger)
	if err != nil {
		_ = closeStore(ctx)
		return nil, err
	}
	if cfg.Channels.SpeechAffectURL != "" {
		deps.Speech = signal.NewHTTPSpeechClassifier(cfg.Channels.SpeechAffectURL, cfg.Channels.Timeout)
	}

	background := func(context.Context) error { return nil }
	if cfg.Channels.FacialAffectWSURL != "" || cfg.Channels.FacialAffectURL != "" {
		cache := signal.NewFacialCache(cfg.Channels.FacialMaxAge)
		deps.Facial = cache
		background = facialSource(cfg.Channels, cache, logger)
	}

	personas := persona.NewMemoryStore(persona.Seed())
	sessions := session.NewManager(historyStore, ai.NewPrompts(), personas, deps, session.Config{
		SeedTurns: cfg.Session.SeedTurns,
		PersonaID: cfg.Session.PersonaID,
		Workflow: workflow.Config{
			ChannelTimeout:    cfg.Channels.Timeout,
			JudgeTimeout:      cfg.Channels.JudgeTimeout,
			GenerationTimeout: cfg.AI.GenerationTimeout,
			ContextTurns:      cfg.Session.ContextTurns,
		},
	}, logger)

	return &app{
		personas:   personas,
		sessions:   sessions,
		speech:     speech.NewService(cfg.Speech.TranscribeURL, cfg.Speech.RenderURL, cfg.Speech.Timeout),
		registry:   registry,
		background: background,
		closeStore: closeStore,
	}, nil
}

func (a *app) close(ctx context.Context) error {
	a.sessions.Shutdown()
	return a.closeStore(ctx)
}

func buildJudge(ctx context.Context, cfg config.AIConfig, chatModel model.ChatModel, logger *zap.Logger) (workflow.Judge, error) {
	if !cfg.LLMJudgeEnabled {
		logger.Info("using rule-based emotion judge")
		return emotion.RuleJudge{}, nil
	}
	judge, err := emotionsvc.NewLLMJudge(ctx, chatModel, logger)
	if err != nil {
		return nil, fmt.Errorf("create llm judge: %w", err)
	}
	return judge, nil
}

// buildTextClassifier prefers the external sentiment service, then the chat model,
// then keywords.
func buildTextClassifier(ctx context.Context, cfg *config.Config, chatModel model.ChatModel, logger *zap.Logger) (workflow.TextClassifier, error) {
	if cfg.Channels.TextClassifierURL != "" {
		logger.Info("using external text classifier", zap.String("url", cfg.Channels.TextClassifierURL))
		return signal.NewHTTPTextClassifier(cfg.Channels.TextClassifierURL, cfg.Channels.Timeout), nil
	}
	if !cfg.AI.LLMTextEnabled {
		chatModel = nil
	}
	classifier, err := emotionsvc.NewTextClassifier(ctx, chatModel, logger)
	if err != nil {
		return nil, fmt.Errorf("create text classifier: %w", err)
	}
	return classifier, nil
}

// facialSource feeds the facial cache from the push feed when configured, else by polling.
func facialSource(cfg config.ChannelConfig, cache *signal.FacialCache, logger *zap.Logger) func(ctx context.Context) error {
	if cfg.FacialAffectWSURL != "" {
		return signal.NewFacialFeed(cfg.FacialAffectWSURL, cache, logger).Run
	}
	return signal.NewFacialPoller(cfg.FacialAffectURL, cfg.FacialPollInterval, cache, logger).Run
}
