package recovery

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/metrics"
)

func (m *Manager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.healthPass()
		case <-m.stopCh:
			return
		}
	}
}

// healthPass retries every due entry once. Due means never attempted, or
// last attempted longer than RecoveryInterval ago; with a 30s tick and a 60s
// interval, a failing entry is retried every other tick.
func (m *Manager) healthPass() {
	if !m.isRecovering.CompareAndSwap(false, true) {
		m.logger.Debug().Msg("Recovery pass already running, skipping tick")
		return
	}
	defer m.isRecovering.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HealthCheckInterval)
	defer cancel()

	now := time.Now()
	for _, id := range m.dueNodes(now) {
		m.attemptNodeRecovery(ctx, id)
	}
	for _, id := range m.dueZones(now) {
		m.attemptZoneRecovery(ctx, id)
	}
}

func (m *Manager) dueNodes(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := make([]string, 0, len(m.failedNodes))
	for id, e := range m.failedNodes {
		if e.lastAttempt.IsZero() || now.Sub(e.lastAttempt) > m.cfg.RecoveryInterval {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	return due
}

func (m *Manager) dueZones(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := make([]string, 0, len(m.inconsistentZones))
	for id, e := range m.inconsistentZones {
		if e.lastAttempt.IsZero() || now.Sub(e.lastAttempt) > m.cfg.RecoveryInterval {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	return due
}

// attemptNodeRecovery reconnects to one failed peer, with retry around the
// handshake. The entry may vanish mid-attempt when a heartbeat revives the
// peer first; in that case the outcome is discarded.
func (m *Manager) attemptNodeRecovery(ctx context.Context, nodeID string) {
	m.logger.Info().Str("node_id", nodeID).Msg("Attempting node recovery")

	err := m.retry.Do(ctx, "reconnect_to_"+nodeID, func(ctx context.Context) error {
		return m.cluster.Reconnect(ctx, nodeID)
	})

	now := time.Now()
	m.mu.Lock()
	entry, ok := m.failedNodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if err == nil {
		delete(m.failedNodes, nodeID)
		m.mu.Unlock()

		metrics.RecoveryAttempts.WithLabelValues("node", "success").Inc()
		m.logger.Info().Str("node_id", nodeID).Msg("Node recovered")
		m.broker.Publish(events.New(events.EventNodeRecovered, "Node recovered", map[string]string{
			"node_id": nodeID,
			"via":     "reconnect",
		}))
		return
	}

	entry.attempts++
	entry.lastAttempt = now
	entry.lastError = err
	attempts := entry.attempts
	exhausted := attempts >= m.cfg.MaxRecoveryAttempts
	if exhausted {
		delete(m.failedNodes, nodeID)
	}
	m.mu.Unlock()

	if exhausted {
		metrics.RecoveryAttempts.WithLabelValues("node", "exhausted").Inc()
		m.logger.Error().
			Str("node_id", nodeID).
			Int("attempts", attempts).
			Err(err).
			Msg("Node recovery exhausted, giving up")
		m.broker.Publish(events.New(events.EventNodeRecoveryFailed, "Node recovery exhausted", map[string]string{
			"node_id":  nodeID,
			"attempts": strconv.Itoa(attempts),
			"error":    err.Error(),
		}))
		return
	}

	metrics.RecoveryAttempts.WithLabelValues("node", "failure").Inc()
	m.logger.Warn().
		Str("node_id", nodeID).
		Int("attempts", attempts).
		Err(err).
		Msg("Node recovery attempt failed")
}
