package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("ai: model returned an empty response")

// GeneratorConfig tunes retries around the chat model.
type GeneratorConfig struct {
	Retries int
	Backoff time.Duration
}

// Generator turns an ordered message history into one reply.
type Generator struct {
	chatModel model.ChatModel
	cfg       GeneratorConfig
	logger    *zap.Logger
}

// NewGenerator wraps chatModel. A negative Retries is treated as zero.
func NewGenerator(chatModel model.ChatModel, cfg GeneratorConfig, logger *zap.Logger) *Generator {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{chatModel: chatModel, cfg: cfg, logger: logger.Named("generator")}
}

// Generate sends messages to the model, retrying failed or empty answers with a
// linear backoff. The context bounds every attempt and every wait.
func (g *Generator) Generate(ctx context.Context, messages []chat.Message) (string, error) {
	if g.chatModel == nil {
		return "", errors.New("ai: chat model not configured")
	}
	input := toSchemaMessages(messages)

	var lastErr error
	for attempt := 0; attempt <= g.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("ai: generation aborted: %w", ctx.Err())
			case <-time.After(g.cfg.Backoff * time.Duration(attempt)):
			}
		}

		reply, err := g.chatModel.Generate(ctx, input)
		if err == nil && reply != nil && strings.TrimSpace(reply.Content) != "" {
			return strings.TrimSpace(reply.Content), nil
		}
		if err == nil {
			err = ErrEmptyResponse
		}
		lastErr = err
		g.logger.Warn("generation attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", fmt.Errorf("ai: generation failed after %d attempt(s): %w", g.cfg.Retries+1, lastErr)
}

func toSchemaMessages(messages []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		case chat.RoleUser:
			out = append(out, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return out
}
