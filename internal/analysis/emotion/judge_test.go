package emotion

import (
	"context"
	"testing"
)

func TestParseVerdict(t *testing.T) {
	cases := map[string]Verdict{
		"consistent":      Consistent,
		"Inconsistent.":   Inconsistent,
		"  CONSISTENT\n":  Consistent,
		`"Inconsistent."`: Inconsistent,
		"**consistent**":  Consistent,
	}
	for raw, want := range cases {
		got, err := ParseVerdict(raw)
		if err != nil {
			t.Fatalf("ParseVerdict(%q) err: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseVerdict(%q) = %s, want %s", raw, got, want)
		}
	}
	for _, raw := range []string{"maybe", "", "not consistent", "The signals are consistent", "inconsistent (text vs face)", "consistently"} {
		if got, err := ParseVerdict(raw); err == nil {
			t.Fatalf("ParseVerdict(%q) = %s, want error", raw, got)
		}
	}
}

func TestRuleJudgeAntagonisticPair(t *testing.T) {
	var judge RuleJudge
	ctx := context.Background()

	verdict, err := judge.Consistency(ctx, Observation{ChannelText: "angry", ChannelFacial: "happy"})
	if err != nil {
		t.Fatalf("Consistency err: %v", err)
	}
	if verdict != Inconsistent {
		t.Fatalf("expected inconsistent, got %s", verdict)
	}
}

func TestRuleJudgeCompatibleLabels(t *testing.T) {
	var judge RuleJudge
	ctx := context.Background()

	cases := []Observation{
		{ChannelText: "sad", ChannelFacial: "sad"},
		{ChannelText: "1-star sentiment", ChannelFacial: "sad"},
		{ChannelText: "surprised", ChannelFacial: "happy"},
		{ChannelText: "angry", ChannelFacial: "unknown"},
	}
	for _, obs := range cases {
		verdict, err := judge.Consistency(ctx, obs)
		if err != nil {
			t.Fatalf("Consistency err: %v", err)
		}
		if verdict != Consistent {
			t.Fatalf("expected consistent for %s, got %s", obs, verdict)
		}
	}
}

func TestRuleJudgeStarRatingsAgainstFace(t *testing.T) {
	var judge RuleJudge
	verdict, _ := judge.Consistency(context.Background(), Observation{
		ChannelText:   "5-star sentiment",
		ChannelSpeech: "neutral",
		ChannelFacial: "sad",
	})
	if verdict != Inconsistent {
		t.Fatalf("expected 5-star vs sad to be inconsistent, got %s", verdict)
	}
}

func TestRuleJudgeDominantPrefersText(t *testing.T) {
	var judge RuleJudge
	got, err := judge.Dominant(context.Background(), Observation{ChannelText: "Angry", ChannelFacial: "happy"}, "")
	if err != nil {
		t.Fatalf("Dominant err: %v", err)
	}
	if got != "angry" {
		t.Fatalf("expected angry, got %q", got)
	}
}

func TestRuleJudgeDominantSkipsUnclassifiable(t *testing.T) {
	var judge RuleJudge
	got, _ := judge.Dominant(context.Background(), Observation{ChannelText: "meh", ChannelFacial: "fear"}, "")
	if got != "fearful" {
		t.Fatalf("expected fearful, got %q", got)
	}
	got, _ = judge.Dominant(context.Background(), Observation{ChannelText: "meh"}, "")
	if got != "meh" {
		t.Fatalf("expected raw fallback meh, got %q", got)
	}
}

func TestClassOfNegation(t *testing.T) {
	if class, ok := ClassOf("not happy at all"); !ok || class != Sad {
		t.Fatalf("expected sad class, got %s (%v)", class, ok)
	}
}
