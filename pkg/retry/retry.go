package retry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/log"
	"github.com/cordonsec/vigil/pkg/metrics"
)

// Config controls retry behavior for remote operations.
type Config struct {
	MaxAttempts   int           // attempts before giving up
	InitialDelay  time.Duration // delay after the first failure
	MaxDelay      time.Duration // backoff cap
	BackoffFactor float64       // delay multiplier per failure
	Timeout       time.Duration // per-attempt deadline
}

// DefaultConfig returns the standard retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Timeout:       10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// Manager executes remote operations with per-attempt timeouts and
// exponential backoff. Operations must be idempotent: an attempt that timed
// out may still have reached the peer.
type Manager struct {
	cfg    Config
	broker *events.Broker
	logger zerolog.Logger
}

// NewManager creates a retry manager. Zero config fields fall back to
// DefaultConfig values.
func NewManager(cfg Config, broker *events.Broker) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		broker: broker,
		logger: log.WithComponent("retry"),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Do runs fn until it succeeds, the attempts are exhausted, or ctx is
// cancelled. name identifies the operation in events and logs, e.g.
// "send_alert_to_node-2". Results are captured by closure.
func (m *Manager) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	backoff := NewBackoff(m.cfg.InitialDelay, m.cfg.MaxDelay, m.cfg.BackoffFactor)

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		metrics.RetryAttempts.Inc()

		lastErr = m.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}

		// A cancelled caller is not an operation failure to retry.
		if ctx.Err() != nil {
			return fmt.Errorf("operation %s aborted: %w", name, ctx.Err())
		}

		m.logger.Warn().
			Err(lastErr).
			Str("operation", name).
			Int("attempt", attempt).
			Dur("next_delay", backoff.CurrentDelay()).
			Msg("attempt failed")

		m.broker.Publish(events.New(events.EventRetryFailed, "retry attempt failed", map[string]string{
			"operation":  name,
			"attempt":    strconv.Itoa(attempt),
			"error":      lastErr.Error(),
			"next_delay": backoff.CurrentDelay().String(),
		}))

		if attempt == m.cfg.MaxAttempts {
			break
		}
		if err := backoff.Wait(ctx); err != nil {
			return fmt.Errorf("operation %s aborted: %w", name, err)
		}
	}

	metrics.RetriesExhausted.Inc()
	m.logger.Error().
		Err(lastErr).
		Str("operation", name).
		Int("attempts", m.cfg.MaxAttempts).
		Msg("retries exhausted")

	m.broker.Publish(events.New(events.EventRetryExhausted, "retries exhausted", map[string]string{
		"operation": name,
		"attempts":  strconv.Itoa(m.cfg.MaxAttempts),
		"error":     lastErr.Error(),
	}))

	return fmt.Errorf("operation %s failed after %d attempts: %w", name, m.cfg.MaxAttempts, lastErr)
}

// attempt races fn against the per-attempt timeout. The goroutine running fn
// may outlive a timed-out attempt; fn gets the attempt context so well-behaved
// operations stop early.
func (m *Manager) attempt(ctx context.Context, fn func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return attemptCtx.Err()
	}
}
