package emotion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analysis "github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
)

var conflicted = analysis.Observation{
	analysis.ChannelText:   "angry",
	analysis.ChannelSpeech: "neutral",
	analysis.ChannelFacial: "happy",
}

func newJudge(t *testing.T, m *fakeModel) *LLMJudge {
	t.Helper()
	j, err := NewLLMJudge(context.Background(), m, nil)
	require.NoError(t, err)
	return j
}

func TestLLMJudgeConsistency(t *testing.T) {
	tests := []struct {
		reply string
		want  analysis.Verdict
	}{
		{"consistent", analysis.Consistent},
		{"Inconsistent.", analysis.Inconsistent},
		{" \"INCONSISTENT\"\n", analysis.Inconsistent},
	}
	for _, tt := range tests {
		m := &fakeModel{reply: tt.reply}
		got, err := newJudge(t, m).Consistency(context.Background(), conflicted)
		require.NoError(t, err, tt.reply)
		assert.Equal(t, tt.want, got, tt.reply)
		assert.Contains(t, m.lastUserContent(), "text=angry, speech=neutral, facial=happy")
	}
}

func TestLLMJudgeConsistencyRejectsFreeText(t *testing.T) {
	_, err := newJudge(t, &fakeModel{reply: "not consistent"}).Consistency(context.Background(), conflicted)
	require.Error(t, err)
	_, err = newJudge(t, &fakeModel{reply: "hard to say"}).Consistency(context.Background(), conflicted)
	assert.Error(t, err)
}

func TestLLMJudgeConsistencyModelFailure(t *testing.T) {
	_, err := newJudge(t, &fakeModel{err: errModelDown}).Consistency(context.Background(), conflicted)
	assert.ErrorIs(t, err, errModelDown)
}

func TestLLMJudgeDominant(t *testing.T) {
	m := &fakeModel{reply: "  Angry.\nThe words carry more weight."}
	got, err := newJudge(t, m).Dominant(context.Background(), conflicted, "User: leave me alone")
	require.NoError(t, err)
	assert.Equal(t, "angry", got)
	assert.Contains(t, m.lastUserContent(), "User: leave me alone")
}

func TestLLMJudgeDominantEmpty(t *testing.T) {
	_, err := newJudge(t, &fakeModel{reply: " ... "}).Dominant(context.Background(), conflicted, "")
	assert.ErrorIs(t, err, ErrEmptyJudgment)
}

func TestNewLLMJudgeRequiresModel(t *testing.T) {
	_, err := NewLLMJudge(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestFirstWord(t *testing.T) {
	assert.Equal(t, "sad", firstWord("**Sad**"))
	assert.Equal(t, "happy", firstWord("1. happy"))
}
