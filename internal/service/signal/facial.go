package signal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
)

// FacialCache holds the most recent facial-affect label. A background sampler writes it;
// turns only read it, so a turn never blocks on the camera.
type FacialCache struct {
	mu        sync.RWMutex
	label     string
	updatedAt time.Time
	maxAge    time.Duration
	now       func() time.Time
}

// NewFacialCache returns an empty cache. Labels older than maxAge read as unknown;
// maxAge <= 0 disables the staleness check.
func NewFacialCache(maxAge time.Duration) *FacialCache {
	return &FacialCache{maxAge: maxAge, now: time.Now}
}

// Set records a fresh label.
func (c *FacialCache) Set(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.label = strings.TrimSpace(label)
	c.updatedAt = c.now()
}

// Sample returns the cached label, or unknown when it is missing or stale.
func (c *FacialCache) Sample(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.label == "" || c.updatedAt.IsZero() {
		return emotion.Unknown, nil
	}
	if c.maxAge > 0 && c.now().Sub(c.updatedAt) > c.maxAge {
		return emotion.Unknown, nil
	}
	return c.label, nil
}

// UpdatedAt reports when the cache last received a label.
func (c *FacialCache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
