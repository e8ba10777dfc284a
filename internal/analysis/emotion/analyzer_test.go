package emotion

import "testing"

func TestAnalyzeSadUtterance(t *testing.T) {
	decision := Analyze("I've been so lonely and sad lately")
	if decision.Emotion != Sad {
		t.Fatalf("expected sad emotion, got %s", decision.Emotion)
	}
	if decision.Score <= 0 {
		t.Fatalf("expected positive score, got %d", decision.Score)
	}
}

func TestAnalyzeAngryWithExclamations(t *testing.T) {
	decision := Analyze("This is so unfair, I'm furious!!")
	if decision.Emotion != Angry {
		t.Fatalf("expected angry emotion, got %s", decision.Emotion)
	}
}

func TestAnalyzeNeutralForUnmatchedText(t *testing.T) {
	for _, text := range []string{"", "   ", "I feel okay", "what time is it"} {
		if got := Analyze(text).Emotion; got != Calm {
			t.Fatalf("Analyze(%q) = %s, want neutral", text, got)
		}
	}
}

func TestAnalyzeUnhappyPrefersSad(t *testing.T) {
	if got := Analyze("I am unhappy").Emotion; got != Sad {
		t.Fatalf("expected sad for unhappy, got %s", got)
	}
}

func TestKeywordClassifierNeverEmpty(t *testing.T) {
	var c KeywordClassifier
	if got := c.Classify(""); got != "neutral" {
		t.Fatalf("expected neutral, got %q", got)
	}
	if got := c.Classify("exam stress is killing me"); got != "fearful" {
		t.Fatalf("expected fearful, got %q", got)
	}
}

func TestIsFarewell(t *testing.T) {
	cases := map[string]bool{
		"bye":                   true,
		"Goodbye!":              true,
		"ok, bye":               true,
		"exit":                  true,
		"byebye":                false,
		"I want to quit my job": false,
		"":                      false,
	}
	for text, want := range cases {
		if got := IsFarewell(text); got != want {
			t.Fatalf("IsFarewell(%q) = %v, want %v", text, got, want)
		}
	}
}
