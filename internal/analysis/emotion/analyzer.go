package emotion

import (
	"strings"
)

// Label is a canonical emotion class produced by the keyword classifier.
type Label string

const (
	Happy     Label = "happy"
	Sad       Label = "sad"
	Angry     Label = "angry"
	Fearful   Label = "fearful"
	Surprised Label = "surprised"
	Calm      Label = "neutral"
)

// Decision is the keyword classifier's best guess and its raw score.
type Decision struct {
	Emotion Label
	Score   int
}

var keywordBuckets = map[Label][]string{
	Happy: {
		"happy", "glad", "great", "awesome", "amazing", "wonderful", "excited", "thank you", "thanks",
		"love", "relieved", "proud", "grateful", "joy", "fantastic", "better today", "开心", "高兴",
	},
	Sad: {
		"sad", "unhappy", "down", "depressed", "lonely", "alone", "cry", "crying", "hopeless", "miss",
		"lost", "empty", "tired of", "hurt", "grief", "upset", "难过", "伤心",
	},
	Angry: {
		"angry", "furious", "mad", "annoyed", "hate", "rage", "pissed", "frustrated", "unfair",
		"fed up", "sick of", "irritated", "生气", "愤怒",
	},
	Fearful: {
		"afraid", "scared", "fear", "anxious", "anxiety", "panic", "worried", "nervous", "stress",
		"stressed", "terrified", "overwhelmed", "dread", "害怕", "焦虑",
	},
	Surprised: {
		"surprised", "shocked", "unexpected", "can't believe", "didn't expect", "wow", "suddenly",
	},
}

// bucketOrder keeps tie-breaking deterministic.
var bucketOrder = []Label{Angry, Sad, Fearful, Happy, Surprised}

var punctuationBoost = map[Label]int{
	Surprised: 1,
	Angry:     1,
}

// Analyze scores an utterance against the keyword buckets. Empty or unmatched text is neutral.
func Analyze(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: Calm}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, strings.ToLower(word)) {
				scores[label] += 3
			}
		}
	}

	if exclamations := strings.Count(text, "!"); exclamations > 0 && len(scores) > 0 {
		for label, boost := range punctuationBoost {
			if scores[label] > 0 {
				scores[label] += exclamations * boost
			}
		}
	}

	best := Calm
	bestScore := 0
	for _, label := range bucketOrder {
		if s := scores[label]; s > bestScore {
			best = label
			bestScore = s
		}
	}
	return Decision{Emotion: best, Score: bestScore}
}

// KeywordClassifier exposes Analyze as a text-sentiment channel.
type KeywordClassifier struct{}

// Classify never fails; unmatched text yields "neutral".
func (KeywordClassifier) Classify(text string) string {
	return string(Analyze(text).Emotion)
}

var farewells = []string{"exit", "quit", "goodbye", "bye", "see you", "good night", "that's all", "thanks, bye"}

// IsFarewell reports whether the user is closing the conversation.
func IsFarewell(text string) bool {
	normalized := strings.Trim(strings.ToLower(strings.TrimSpace(text)), ".!? ")
	if normalized == "" {
		return false
	}
	for _, word := range farewells {
		if normalized == word || strings.HasPrefix(normalized, word+" ") || strings.HasSuffix(normalized, " "+word) {
			return true
		}
	}
	return false
}
