package imsession

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// Throttle paces outbound messages. The write loop calls Wait before the
// first byte of each new message; continuing a partial write is never paced.
type Throttle interface {
	Wait(ctx context.Context) error
}

// TokenThrottle is a token bucket: it allows bursts of up to burst messages
// and refills at limit messages per second.
type TokenThrottle struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewTokenThrottle returns a token bucket throttle.
func NewTokenThrottle(limit float64, burst int) *TokenThrottle {
	t := &TokenThrottle{}
	t.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
	return t
}

// Wait blocks until a token is available or ctx is done.
func (t *TokenThrottle) Wait(ctx context.Context) error {
	return t.limiter.Load().Wait(ctx)
}

// Reload replaces the rate at runtime.
func (t *TokenThrottle) Reload(limit float64, burst int) {
	t.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
}

// FunnelThrottle is a leaky bucket: messages leave at an even pace of limit
// per second without bursts.
type FunnelThrottle struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewFunnelThrottle returns a leaky bucket throttle of at least one message
// per second.
func NewFunnelThrottle(limit int) *FunnelThrottle {
	t := &FunnelThrottle{}
	t.Reload(limit)
	return t
}

// Wait blocks for the next slot. ratelimit cannot be interrupted, so ctx is
// only checked around the wait; one slot is at most 1/limit seconds long.
func (t *FunnelThrottle) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	(*t.limiter.Load()).Take()
	return ctx.Err()
}

// Reload replaces the rate at runtime. Rates below 1 are raised to 1.
func (t *FunnelThrottle) Reload(limit int) {
	if limit < 1 {
		limit = 1
	}
	limiter := ratelimit.New(limit, ratelimit.WithoutSlack)
	t.limiter.Store(&limiter)
}

type noThrottle struct{}

func (noThrottle) Wait(context.Context) error { return nil }
