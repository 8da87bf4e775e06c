package arxiv

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval is the minimum spacing between requests that arXiv
// asks harvesters to keep.
const DefaultMinInterval = 3 * time.Second

// RateLimiter spaces out requests to the remote service. One limiter is
// shared by every concurrent category sync.
type RateLimiter struct {
	lim *rate.Limiter

	mu    sync.Mutex
	until time.Time
}

// NewRateLimiter returns a limiter allowing one request per interval.
// A non-positive interval disables spacing.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimiter{lim: rate.NewLimiter(limit, 1)}
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	pause := time.Until(r.until)
	r.mu.Unlock()
	if pause > 0 {
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return r.lim.Wait(ctx)
}

// Defer holds back every caller for at least d. It is used when the
// service answers with a Retry-After.
func (r *RateLimiter) Defer(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := time.Now().Add(d); until.After(r.until) {
		r.until = until
	}
}
