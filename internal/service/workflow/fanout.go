package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// Channel call results, as reported to metrics.
const (
	channelOK          = "ok"
	channelFailure     = "failure"
	channelTimeout     = "timeout"
	channelUnavailable = "unavailable"
)

type labelFunc func(ctx context.Context) (string, error)

// analyze queries every applicable channel concurrently. It never fails: a channel that errors,
// panics or overruns its timeout contributes its sentinel label instead.
func (e *Engine) analyze(ctx context.Context, in Input) emotion.Observation {
	obs := make(emotion.Observation, len(emotion.Channels))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	collect := func(ch emotion.Channel, sentinel string, call labelFunc) {
		g.Go(func() error {
			label := e.callChannel(gctx, ch, sentinel, call)
			mu.Lock()
			obs[ch] = label
			mu.Unlock()
			return nil
		})
	}

	var textCall labelFunc
	if e.deps.Text != nil {
		textCall = func(ctx context.Context) (string, error) { return e.deps.Text.Classify(ctx, in.Text) }
	}
	collect(emotion.ChannelText, emotion.Unknown, textCall)

	if in.Modality == chat.ModalityAudio {
		var speechCall labelFunc
		if e.deps.Speech != nil {
			speechCall = func(ctx context.Context) (string, error) { return e.deps.Speech.Classify(ctx, in.AudioRef) }
		}
		collect(emotion.ChannelSpeech, emotion.Neutral, speechCall)
	}

	var facialCall labelFunc
	if e.deps.Facial != nil {
		facialCall = e.deps.Facial.Sample
	}
	collect(emotion.ChannelFacial, emotion.Unknown, facialCall)

	_ = g.Wait()
	return obs
}

type channelResult struct {
	label string
	err   error
}

func (e *Engine) callChannel(ctx context.Context, ch emotion.Channel, sentinel string, call labelFunc) string {
	if call == nil {
		e.deps.Metrics.ObserveChannel(string(ch), channelUnavailable)
		return sentinel
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ChannelTimeout)
	defer cancel()

	done := make(chan channelResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- channelResult{err: fmt.Errorf("channel panicked: %v", r)}
			}
		}()
		label, err := call(callCtx)
		done <- channelResult{label: label, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			e.logger.Warn("emotion channel failed", zap.String("channel", string(ch)), zap.Error(res.err))
			e.deps.Metrics.ObserveChannel(string(ch), channelFailure)
			return sentinel
		}
		label := strings.TrimSpace(res.label)
		if label == "" {
			e.deps.Metrics.ObserveChannel(string(ch), channelFailure)
			return sentinel
		}
		e.deps.Metrics.ObserveChannel(string(ch), channelOK)
		return label
	case <-callCtx.Done():
		e.logger.Warn("emotion channel timed out",
			zap.String("channel", string(ch)),
			zap.Duration("timeout", e.cfg.ChannelTimeout),
		)
		e.deps.Metrics.ObserveChannel(string(ch), channelTimeout)
		return sentinel
	}
}
