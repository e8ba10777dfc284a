package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FacialFeed subscribes to a WebSocket that pushes {"emotion": "..."} frames and feeds a FacialCache.
type FacialFeed struct {
	url       string
	dialer    *websocket.Dialer
	cache     *FacialCache
	reconnect time.Duration
	logger    *zap.Logger
}

func NewFacialFeed(url string, cache *FacialCache, logger *zap.Logger) *FacialFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FacialFeed{
		url:       url,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		cache:     cache,
		reconnect: 2 * time.Second,
		logger:    logger.Named("facial_feed"),
	}
}

// Run keeps the subscription alive, reconnecting after failures, until ctx is cancelled.
func (f *FacialFeed) Run(ctx context.Context) error {
	for {
		err := f.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("facial feed disconnected", zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnect):
		}
	}
}

func (f *FacialFeed) consume(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("signal: dial facial feed: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var payload labelPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			f.logger.Debug("ignoring malformed facial frame", zap.Error(err))
			continue
		}
		if label := payload.value(); label != "" {
			f.cache.Set(label)
		}
	}
}
