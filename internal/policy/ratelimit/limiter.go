// Package ratelimit spaces successive page requests of a crawl target with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/aggtube-harvester/internal/metrics"
)

// Limiter keeps one token bucket per crawl target. With a delay d and burst 1 the
// first request of a target passes immediately and each later one waits until d has
// elapsed since the previous request of the same target completed.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
}

// Config holds limiter configuration.
type Config struct {
	// PageDelay is the minimum spacing between pages of one target. Zero disables pacing.
	PageDelay time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.PageDelay > 0 {
		r = rate.Every(cfg.PageDelay)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		every:    r,
	}
}

// Wait blocks until the target identified by key may issue its next page request.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.every, 1)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("page delay wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePageDelay(waited)
	}
	return nil
}

// Done marks the end of a request for key. The bucket is replaced by an empty one so
// the next Wait blocks a full delay from now, however long the request took.
func (l *Limiter) Done(key string) {
	if l.every == rate.Inf {
		return
	}
	drained := rate.NewLimiter(l.every, 1)
	drained.Allow()
	l.mu.Lock()
	l.limiters[key] = drained
	l.mu.Unlock()
}

// Forget drops the bucket of a finished target so long runs do not accumulate keys.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
}
