package emotion

import (
	"context"
	"fmt"
	"strings"
)

// Verdict is the outcome of a consistency judgment. Only the two tokens below are valid.
type Verdict string

const (
	Consistent   Verdict = "consistent"
	Inconsistent Verdict = "inconsistent"
)

// ParseVerdict accepts a bare verdict word. Surrounding whitespace, punctuation and quotes
// are ignored; any other wording is rejected.
func ParseVerdict(raw string) (Verdict, error) {
	normalized := strings.ToLower(strings.Trim(raw, verdictCutset))
	switch Verdict(normalized) {
	case Consistent:
		return Consistent, nil
	case Inconsistent:
		return Inconsistent, nil
	default:
		return "", fmt.Errorf("emotion: unrecognised verdict %q", raw)
	}
}

const verdictCutset = " \t\r\n.,;:!?'\"`*()[]"

// synonymClasses groups raw vocabulary from the three channels into comparable classes.
// Star ratings come from the text-sentiment model, the rest from speech and facial providers.
var synonymClasses = map[Label][]string{
	Happy:     {"happy", "joy", "glad", "excited", "content", "pleased", "4-star", "5-star", "positive"},
	Sad:       {"sad", "sorrow", "depressed", "grief", "down", "1-star", "2-star", "negative"},
	Angry:     {"angry", "anger", "mad", "furious", "disgust", "annoyed", "frustrated"},
	Fearful:   {"fear", "afraid", "scared", "anxious", "nervous", "panic"},
	Surprised: {"surprise", "shocked", "astonished"},
	Calm:      {"calm", "neutral", "3-star", "relaxed"},
}

// classOrder fixes the lookup order so "unhappy" resolves before "happy".
var classOrder = []Label{Sad, Angry, Fearful, Surprised, Happy, Calm}

var negatedHappy = []string{"unhappy", "not happy"}

// antagonistic lists class pairs that cannot describe the same state at once.
var antagonistic = map[[2]Label]struct{}{
	{Happy, Sad}:     {},
	{Happy, Angry}:   {},
	{Happy, Fearful}: {},
	{Calm, Angry}:    {},
	{Calm, Fearful}:  {},
}

// ClassOf maps a raw label to its curated synonym class.
func ClassOf(label string) (Label, bool) {
	normalized := normalize(label)
	if normalized == "" {
		return "", false
	}
	for _, neg := range negatedHappy {
		if strings.Contains(normalized, neg) {
			return Sad, true
		}
	}
	for _, class := range classOrder {
		for _, word := range synonymClasses[class] {
			if strings.Contains(normalized, word) {
				return class, true
			}
		}
	}
	return "", false
}

// Antagonistic reports whether two raw labels fall into opposing classes.
func Antagonistic(a, b string) bool {
	ca, okA := ClassOf(a)
	cb, okB := ClassOf(b)
	if !okA || !okB || ca == cb {
		return false
	}
	if _, ok := antagonistic[[2]Label{ca, cb}]; ok {
		return true
	}
	_, ok := antagonistic[[2]Label{cb, ca}]
	return ok
}

// RuleJudge is the deterministic judgment provider. It never fails and never calls a model.
type RuleJudge struct{}

// Consistency marks the observation inconsistent when any two informative labels are antagonistic.
func (RuleJudge) Consistency(_ context.Context, obs Observation) (Verdict, error) {
	informative := obs.Informative()
	for i := 0; i < len(informative); i++ {
		for j := i + 1; j < len(informative); j++ {
			if Antagonistic(obs[informative[i]], obs[informative[j]]) {
				return Inconsistent, nil
			}
		}
	}
	return Consistent, nil
}

// Dominant prefers the verbal channel, then speech, then facial, taking the first label
// that maps to a known class. Unclassifiable observations fall back to the first informative label.
func (RuleJudge) Dominant(_ context.Context, obs Observation, _ string) (string, error) {
	for _, ch := range obs.Informative() {
		if class, ok := ClassOf(obs[ch]); ok {
			return string(class), nil
		}
	}
	if label, ok := obs.FirstInformative(); ok {
		return normalize(label), nil
	}
	return Neutral, nil
}
