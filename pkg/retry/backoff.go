package retry

import (
	"context"
	"time"
)

// Backoff implements exponential backoff between retry attempts.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	currentDelay time.Duration
}

// NewBackoff creates a Backoff starting at initialDelay and multiplying by
// factor after each wait, capped at maxDelay.
func NewBackoff(initialDelay, maxDelay time.Duration, factor float64) *Backoff {
	return &Backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		factor:       factor,
		currentDelay: initialDelay,
	}
}

// Wait sleeps for the current delay, respecting context cancellation, then
// grows the delay for the next call. Returns ctx.Err() if cancelled.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.currentDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.currentDelay = time.Duration(float64(b.currentDelay) * b.factor)
		if b.currentDelay > b.maxDelay {
			b.currentDelay = b.maxDelay
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset restores the initial delay for a new retry sequence.
func (b *Backoff) Reset() {
	b.currentDelay = b.initialDelay
}

// CurrentDelay returns the delay the next Wait call will sleep for.
func (b *Backoff) CurrentDelay() time.Duration {
	return b.currentDelay
}
