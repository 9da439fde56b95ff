package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const defaultRequestsPerMinute = 60

var errLimiterClosed = errors.New("rate limiter closed")

// rateLimiter spaces provider calls evenly over a minute. A full minute of
// budget may be spent as a burst, which suits the categorizer's batches.
type rateLimiter struct {
	limiter *rate.Limiter
	closed  atomic.Bool
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	every := rate.Every(time.Minute / time.Duration(requestsPerMinute))
	return &rateLimiter{limiter: rate.NewLimiter(every, requestsPerMinute)}
}

// wait blocks until a call may proceed.
func (rl *rateLimiter) wait(ctx context.Context) error {
	if rl.closed.Load() {
		return errLimiterClosed
	}
	if err := rl.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter canceled: %w", err)
	}
	return nil
}

func (rl *rateLimiter) tryAcquire() bool {
	return !rl.closed.Load() && rl.limiter.Allow()
}

// Close makes later waits fail. It is safe to call more than once.
func (rl *rateLimiter) Close() {
	rl.closed.Store(true)
}
