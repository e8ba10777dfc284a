package emotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	analysis "github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
)

// ErrEmptyJudgment is returned when the model gives no usable answer.
var ErrEmptyJudgment = errors.New("emotion: model returned no judgment")

// LLMJudge asks a chat model whether channel labels agree and which one dominates.
type LLMJudge struct {
	consistency compose.Runnable[map[string]any, *schema.Message]
	dominant    compose.Runnable[map[string]any, *schema.Message]
	logger      *zap.Logger
}

// NewLLMJudge compiles the two judgment chains against chatModel.
func NewLLMJudge(ctx context.Context, chatModel model.ChatModel, logger *zap.Logger) (*LLMJudge, error) {
	if chatModel == nil {
		return nil, errors.New("emotion: chat model is required for the LLM judge")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	consistency, err := compileChain(ctx, chatModel, consistencyPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile consistency chain: %w", err)
	}
	dominant, err := compileChain(ctx, chatModel, dominantPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile dominant emotion chain: %w", err)
	}

	return &LLMJudge{
		consistency: consistency,
		dominant:    dominant,
		logger:      logger.Named("llm_judge"),
	}, nil
}

// Consistency returns exactly one verdict or an error; free text is never passed through.
func (j *LLMJudge) Consistency(ctx context.Context, obs analysis.Observation) (analysis.Verdict, error) {
	msg, err := j.consistency.Invoke(ctx, map[string]any{"emotions": obs.String()})
	if err != nil {
		return "", fmt.Errorf("emotion: consistency judgment failed: %w", err)
	}
	if msg == nil {
		return "", ErrEmptyJudgment
	}
	verdict, err := analysis.ParseVerdict(msg.Content)
	if err != nil {
		j.logger.Debug("unparseable verdict", zap.String("content", msg.Content))
		return "", err
	}
	return verdict, nil
}

// Dominant returns a single lower-case emotion word chosen by the model.
func (j *LLMJudge) Dominant(ctx context.Context, obs analysis.Observation, history string) (string, error) {
	if strings.TrimSpace(history) == "" {
		history = "None"
	}
	msg, err := j.dominant.Invoke(ctx, map[string]any{
		"emotions": obs.String(),
		"history":  history,
	})
	if err != nil {
		return "", fmt.Errorf("emotion: dominant judgment failed: %w", err)
	}
	if msg == nil {
		return "", ErrEmptyJudgment
	}
	word := firstWord(msg.Content)
	if word == "" {
		return "", ErrEmptyJudgment
	}
	return word, nil
}

func compileChain(ctx context.Context, chatModel model.ChatModel, userPrompt string) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(judgeSystemPrompt),
		schema.UserMessage(userPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)
	return chain.Compile(ctx)
}

// firstWord extracts the first alphabetic run, lower-cased.
func firstWord(content string) string {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	for _, f := range fields {
		if f = strings.Trim(f, "-"); f != "" {
			return f
		}
	}
	return ""
}

const judgeSystemPrompt = "You analyse emotion signals reported by independent channels (text sentiment, speech affect, facial expression) for a mental health support conversation. Follow the requested answer format exactly."

const consistencyPrompt = `Analyze the following emotional signals and determine if they are consistent or inconsistent:

{emotions}

If the emotions are generally aligned or complementary, respond with "consistent".
If the emotions conflict or contradict each other, respond with "inconsistent".

Answer with only one word: consistent or inconsistent.`

const dominantPrompt = `Based on these detected emotions:
{emotions}

Recent conversation:
{history}

Which emotion seems most dominant or reliable? Consider:
1. The person's verbal content
2. The consistency across channels
3. The context of the conversation

Answer with a single emotion word.`
