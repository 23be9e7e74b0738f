package util

import (
	"context"
	"sync"
	"time"
)

// Backoff doubles a retry delay up to a ceiling. It is safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	current  time.Duration
	initial  time.Duration
	maxDelay time.Duration
}

// NewBackoff returns a Backoff starting at initial and capped at maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{current: initial, initial: initial, maxDelay: maxDelay}
}

// Next returns the current delay and doubles it for the following call.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.current
	b.current = min(2*b.current, b.maxDelay)
	return d
}

// Current returns the delay Next would return.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset returns to the initial delay after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
}

// Wait sleeps for Next or until ctx is done, returning ctx.Err in that case.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
