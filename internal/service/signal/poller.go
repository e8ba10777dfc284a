package signal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// FacialPoller samples GET <url> -> {"emotion": "..."} on a fixed interval and feeds a FacialCache.
type FacialPoller struct {
	url      string
	interval time.Duration
	client   *http.Client
	cache    *FacialCache
	logger   *zap.Logger
}

func NewFacialPoller(url string, interval time.Duration, cache *FacialCache, logger *zap.Logger) *FacialPoller {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FacialPoller{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: interval * 2},
		cache:    cache,
		logger:   logger.Named("facial_poller"),
	}
}

// Run polls until ctx is cancelled. Failed polls leave the cache untouched so it ages out.
func (p *FacialPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Debug("facial poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll performs a single sample.
func (p *FacialPoller) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("signal: build request: %w", err)
	}
	label, err := doLabelRequest(p.client, req)
	if err != nil {
		return err
	}
	p.cache.Set(label)
	return nil
}
