package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

type resolution struct {
	consistent bool
	emotion    string
	// judged is false when the judge was never consulted.
	judged bool
	err    error
}

// reconcile determines the working emotion for one observation. Each judge call is bounded
// by JudgeTimeout; a timeout counts as a reconciliation failure.
func (e *Engine) reconcile(ctx context.Context, obs emotion.Observation, history string) resolution {
	fallback := emotion.Neutral
	if label, ok := obs.FirstInformative(); ok {
		fallback = label
	}

	if len(obs.Informative()) < 2 {
		return resolution{consistent: true, emotion: fallback}
	}

	judgeCtx, cancel := context.WithTimeout(ctx, e.cfg.JudgeTimeout)
	verdict, err := e.deps.Judge.Consistency(judgeCtx, obs)
	cancel()
	if err != nil {
		return e.reconcileFailed(obs, fallback, fmt.Errorf("consistency: %w", err))
	}
	if verdict == emotion.Consistent {
		return resolution{consistent: true, emotion: fallback, judged: true}
	}
	if verdict != emotion.Inconsistent {
		return e.reconcileFailed(obs, fallback, fmt.Errorf("consistency: unexpected verdict %q", verdict))
	}

	judgeCtx, cancel = context.WithTimeout(ctx, e.cfg.JudgeTimeout)
	dominant, err := e.deps.Judge.Dominant(judgeCtx, obs, history)
	cancel()
	if err != nil {
		return e.reconcileFailed(obs, fallback, fmt.Errorf("dominant: %w", err))
	}
	dominant = strings.TrimSpace(dominant)
	if dominant == "" {
		return e.reconcileFailed(obs, fallback, errors.New("dominant: empty label"))
	}
	return resolution{consistent: false, emotion: dominant, judged: true}
}

func (e *Engine) reconcileFailed(obs emotion.Observation, fallback string, err error) resolution {
	err = fmt.Errorf("%w: %w", ErrReconciliation, err)
	e.logger.Warn("reconciliation failed, treating observation as consistent",
		zap.Stringer("observation", obs),
		zap.String("fallback", fallback),
		zap.Error(err),
	)
	return resolution{consistent: true, emotion: fallback, judged: true, err: err}
}

// historyText renders the running history without the system preamble for the dominance judge.
func historyText(messages []chat.Message, limit int) string {
	var lines []string
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			lines = append(lines, "User: "+msg.Content)
		case chat.RoleAssistant:
			lines = append(lines, "Agent: "+msg.Content)
		}
	}
	if limit > 0 && len(lines) > 2*limit {
		lines = lines[len(lines)-2*limit:]
	}
	return strings.Join(lines, "\n")
}
