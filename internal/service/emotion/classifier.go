package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	analysis "github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
)

// TextClassifier labels the verbal content of a turn. It prefers a chat model and
// falls back to the keyword classifier when the model is absent or misbehaves.
type TextClassifier struct {
	classifier compose.Runnable[map[string]any, *schema.Message]
	fallback   analysis.KeywordClassifier
	logger     *zap.Logger
}

// NewTextClassifier builds a classifier. A nil chatModel yields a keyword-only classifier.
func NewTextClassifier(ctx context.Context, chatModel model.ChatModel, logger *zap.Logger) (*TextClassifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &TextClassifier{logger: logger.Named("text_classifier")}
	if chatModel == nil {
		return c, nil
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage("Utterance:\n{text}"),
	)
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile text classifier chain: %w", err)
	}
	c.classifier = runnable
	return c, nil
}

// ModelBacked reports whether a chat model is wired in.
func (c *TextClassifier) ModelBacked() bool {
	return c != nil && c.classifier != nil
}

// Classify never returns an error: model failures degrade to the keyword classifier.
func (c *TextClassifier) Classify(ctx context.Context, text string) (string, error) {
	if !c.ModelBacked() {
		return c.fallback.Classify(text), nil
	}

	msg, err := c.classifier.Invoke(ctx, map[string]any{"text": strings.TrimSpace(text)})
	if err != nil {
		c.logger.Warn("classifier invoke failed, use fallback", zap.Error(err))
		return c.fallback.Classify(text), nil
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return c.fallback.Classify(text), nil
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		c.logger.Warn("classifier output parse failed, use fallback", zap.Error(err))
		return c.fallback.Classify(text), nil
	}
	label := strings.ToLower(strings.TrimSpace(payload.Emotion))
	if label == "" {
		return c.fallback.Classify(text), nil
	}
	return label, nil
}

type classifierPayload struct {
	Emotion    string  `json:"emotion"`
	Confidence float32 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// parseClassifierOutput extracts the first JSON object from the model's answer.
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

const classifierSystemPrompt = "You label the emotion expressed in a single utterance from someone talking to a mental health counselor. Return only a JSON object with the fields emotion (one of happy, sad, angry, fearful, surprised, neutral), confidence (0 to 1) and reason (one short sentence). Output nothing else."
