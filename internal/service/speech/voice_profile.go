package speech

import (
	"strings"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
)

// replyStyles maps the user's working emotion to the delivery the reply should use.
var replyStyles = map[string]string{
	"angry":     "calm",
	"sad":       "comfort",
	"fearful":   "reassuring",
	"happy":     "happy",
	"surprised": "gentle",
}

// ComputeEmotionParameters picks a delivery style for voices that support emotional rendering.
// Neutral or unknown emotions and plain voices render without a style.
func ComputeEmotionParameters(voice, workingEmotion string) (enable bool, style string, scale float32) {
	if !supportsEmotion(voice) || emotion.IsSentinel(workingEmotion) {
		return false, "", 0
	}
	style, ok := replyStyles[emotion.KnowledgeKey(workingEmotion)]
	if !ok {
		return false, "", 0
	}
	return true, style, 3
}

func supportsEmotion(voice string) bool {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if normalized == "" {
		return false
	}
	return strings.Contains(normalized, "_emo") || strings.HasSuffix(normalized, "_calm") ||
		strings.HasSuffix(normalized, "_bright") || strings.HasSuffix(normalized, "_soft")
}
