package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/health"
	"github.com/cordonsec/vigil/pkg/metrics"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

// heartbeatLoop drives outbound heartbeats and the liveness sweep on one
// ticker. Heartbeats are not retried; the next tick is the retry, and a
// failed send is an immediate failure signal.
func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sendHeartbeats()
			m.checkLiveness()
		case <-m.stopCh:
			return
		}
	}
}

// sendHeartbeats pings every active peer in parallel. Any RPC error marks
// the peer failed right away.
func (m *Manager) sendHeartbeats() {
	now := time.Now()

	m.mu.Lock()
	m.self.LastHeartbeat = now
	peers := make([]*types.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.ID != m.self.ID && n.IsActive() {
			peers = append(peers, n.Clone())
		}
	}
	m.mu.Unlock()

	if len(peers) == 0 {
		return
	}

	req := &rpc.HeartbeatRequest{NodeID: m.self.ID, Timestamp: now}

	var wg sync.WaitGroup
	for _, peer := range peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), heartbeatCallTimeout)
			defer cancel()

			conn, err := m.client(peer.ID)
			if err == nil {
				_, err = conn.Heartbeat(ctx, req)
			}
			if err != nil {
				metrics.HeartbeatFailures.Inc()
				metrics.RPCFailures.WithLabelValues("Heartbeat").Inc()
				m.markFailed(peer.ID, fmt.Errorf("heartbeat failed: %w", err))
				return
			}
			metrics.HeartbeatsSent.Inc()
		}()
	}
	wg.Wait()
}

// checkLiveness fails any active peer whose last heartbeat has gone stale.
// This covers receive-side silence: a peer we never tried to contact this
// cycle still gets failed once its heartbeats stop arriving.
func (m *Manager) checkLiveness() {
	now := time.Now()

	m.mu.RLock()
	var stale []string
	var ages []time.Duration
	for id, n := range m.nodes {
		if id == m.self.ID || !n.IsActive() {
			continue
		}
		if health.Stale(n.LastHeartbeat, now, m.cfg.LivenessTimeout) {
			stale = append(stale, id)
			ages = append(ages, now.Sub(n.LastHeartbeat))
		}
	}
	m.mu.RUnlock()

	for i, id := range stale {
		m.markFailed(id, fmt.Errorf("no heartbeat for %s", ages[i].Round(time.Second)))
	}
}

// markFailed flips a peer to failed, closes its cached connection, and
// publishes node.failed. Idempotent: an already-failed peer is left alone
// so the event fires once per failure.
func (m *Manager) markFailed(id string, reason error) {
	m.mu.Lock()
	n, ok := m.nodes[id]
	if !ok || id == m.self.ID || n.Status == types.NodeStatusFailed {
		m.mu.Unlock()
		return
	}
	n.Status = types.NodeStatusFailed
	conn := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()

	if conn != nil {
		conn.Close() //nolint:errcheck
	}

	metrics.NodeFailures.Inc()
	m.logger.Warn().Str("node_id", id).Err(reason).Msg("Node marked failed")
	m.broker.Publish(events.New(events.EventNodeFailed, "node failed", map[string]string{
		"node_id": id,
		"reason":  reason.Error(),
	}))
}

// publishRevived announces that a previously failed peer resumed
// heartbeating. Called outside the table lock.
func (m *Manager) publishRevived(id string) {
	m.logger.Info().Str("node_id", id).Msg("Failed node resumed heartbeating")
	m.broker.Publish(events.New(events.EventNodeRecovered, "node resumed heartbeating", map[string]string{
		"node_id": id,
		"via":     "heartbeat",
	}))
}
