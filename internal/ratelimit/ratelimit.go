// Package ratelimit bounds the number of concurrent push/pull transfers a
// pool runs at once, and optionally the byte rate of each, so that a large
// hosts fan-out does not saturate the local uplink. It supplements the
// distilled spec: the source implementation has no equivalent, assuming
// push/pull concurrency is always safe to run unbounded.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// TransferLimiter gates concurrent transfer starts and, optionally, each
// transfer's byte rate.
type TransferLimiter struct {
	concurrency chan struct{}
	bytes       *rate.Limiter
}

// New returns a TransferLimiter allowing at most maxConcurrent simultaneous
// transfers. maxConcurrent <= 0 means unbounded. bytesPerSecond <= 0 means
// no byte-rate limit.
func New(maxConcurrent int, bytesPerSecond int) *TransferLimiter {
	l := &TransferLimiter{}
	if maxConcurrent > 0 {
		l.concurrency = make(chan struct{}, maxConcurrent)
	}
	if bytesPerSecond > 0 {
		l.bytes = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
	}
	return l
}

// Acquire blocks until a transfer slot is available or ctx is canceled. The
// returned release function must be called when the transfer completes.
func (l *TransferLimiter) Acquire(ctx context.Context) (release func(), err error) {
	if l.concurrency == nil {
		return func() {}, nil
	}
	select {
	case l.concurrency <- struct{}{}:
		return func() { <-l.concurrency }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitN blocks until n bytes' worth of rate-limit budget is available, a
// no-op when no byte-rate limit was configured.
func (l *TransferLimiter) WaitN(ctx context.Context, n int) error {
	if l.bytes == nil {
		return nil
	}
	return l.bytes.WaitN(ctx, n)
}
