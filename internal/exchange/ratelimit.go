package exchange

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces REST requests so a venue's rate limit is respected.
// A zero interval means no throttling.
type Limiter struct {
	l *rate.Limiter
}

// NewLimiter builds a limiter enforcing a minimum interval between
// requests, with a burst of one.
func NewLimiter(minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		return &Limiter{}
	}
	return &Limiter{l: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Wait blocks until the next request is allowed or the context is done.
func (r *Limiter) Wait(ctx context.Context) error {
	if r.l == nil {
		return nil
	}
	return r.l.Wait(ctx)
}
