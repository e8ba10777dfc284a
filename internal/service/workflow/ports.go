package workflow

import (
	"context"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// TextClassifier labels the verbal content of a turn.
type TextClassifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// SpeechClassifier labels the prosody of a recorded turn.
type SpeechClassifier interface {
	Classify(ctx context.Context, audioRef string) (string, error)
}

// FacialSampler returns the latest ambient facial-affect label.
type FacialSampler interface {
	Sample(ctx context.Context) (string, error)
}

// Judge decides whether channel labels agree and, if not, which one dominates.
// emotion.RuleJudge and the LLM judge in the emotion service both satisfy it.
type Judge interface {
	Consistency(ctx context.Context, obs emotion.Observation) (emotion.Verdict, error)
	Dominant(ctx context.Context, obs emotion.Observation, history string) (string, error)
}

// Generator produces a reply from the ordered message history.
type Generator interface {
	Generate(ctx context.Context, messages []chat.Message) (string, error)
}

// HistoryStore is the part of the store the engine writes through.
type HistoryStore interface {
	AppendTurn(ctx context.Context, userID string, turn chat.Turn) error
	ListRecentTurns(ctx context.Context, userID string, limit int) ([]chat.Turn, error)
	AppendConflict(ctx context.Context, record chat.ConflictRecord) error
}

// KnowledgeRetriever returns the topical snippet for a raw emotion label.
type KnowledgeRetriever interface {
	ForLabel(label string) string
}
