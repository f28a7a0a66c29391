package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cordonsec/vigil/pkg/metrics"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

// Outbound side: every remote call here goes through the retry manager, and
// exhausting retries against a peer is the failure signal that marks it.

// client returns the cached connection for a peer, dialing lazily.
func (m *Manager) client(id string) (rpc.Conn, error) {
	m.mu.RLock()
	conn, ok := m.conns[id]
	m.mu.RUnlock()
	if ok {
		return conn, nil
	}

	m.mu.RLock()
	n, known := m.nodes[id]
	var addr string
	if known {
		addr = n.Address()
	}
	m.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	fresh, err := m.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s at %s: %w", id, addr, err)
	}

	m.mu.Lock()
	if existing, ok := m.conns[id]; ok {
		m.mu.Unlock()
		fresh.Close() //nolint:errcheck
		return existing, nil
	}
	m.conns[id] = fresh
	m.mu.Unlock()
	return fresh, nil
}

// SendAlertTo delivers an alert to one peer, retrying before giving up.
// Exhausted retries mark the peer failed. The inbound side of the same RPC
// is the SendAlert handler in handlers.go.
func (m *Manager) SendAlertTo(ctx context.Context, nodeID string, alert *types.AnomalyAlert) error {
	msg := rpc.ToAlertMessage(alert, m.self.ID)

	err := m.retry.Do(ctx, "send_alert_to_"+nodeID, func(ctx context.Context) error {
		conn, err := m.client(nodeID)
		if err != nil {
			return err
		}
		_, err = conn.SendAlert(ctx, &msg)
		return err
	})
	if err != nil {
		metrics.RPCFailures.WithLabelValues("SendAlert").Inc()
		m.markFailed(nodeID, err)
		return err
	}
	return nil
}

// BroadcastAlert fans an alert out to the active members of a zone,
// skipping self. Individual failures are logged and absorbed; the return
// value is how many peers acknowledged delivery.
func (m *Manager) BroadcastAlert(ctx context.Context, alert *types.AnomalyAlert, members []string) int {
	targets := m.broadcastTargets(members)
	if len(targets) == 0 {
		return 0
	}

	var delivered int64
	var wg sync.WaitGroup
	for _, id := range targets {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.SendAlertTo(ctx, id, alert); err != nil {
				m.logger.Warn().Err(err).Str("node_id", id).Str("alert_id", alert.ID).Msg("Alert delivery failed")
				return
			}
			atomic.AddInt64(&delivered, 1)
		}()
	}
	wg.Wait()
	return int(atomic.LoadInt64(&delivered))
}

// BroadcastZone fans a zone snapshot out to the given members, skipping
// self and non-active nodes. members is passed explicitly so deletions can
// tombstone toward the membership the zone had before it was removed.
// Individual failures never fail the caller.
func (m *Manager) BroadcastZone(ctx context.Context, zone *types.DetectionZone, members []string) int {
	targets := m.broadcastTargets(members)
	if len(targets) == 0 {
		return 0
	}

	msg := rpc.ToZoneMessage(zone)

	var delivered int64
	var wg sync.WaitGroup
	for _, id := range targets {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := m.retry.Do(ctx, "broadcast_zone_to_"+id, func(ctx context.Context) error {
				conn, err := m.client(id)
				if err != nil {
					return err
				}
				_, err = conn.SendZone(ctx, &msg)
				return err
			})
			if err != nil {
				metrics.ZoneBroadcastFailures.Inc()
				metrics.RPCFailures.WithLabelValues("SendZone").Inc()
				m.markFailed(id, err)
				m.logger.Warn().Err(err).Str("node_id", id).Str("zone_id", zone.ID).Msg("Zone broadcast failed")
				return
			}
			metrics.ZoneBroadcasts.Inc()
			atomic.AddInt64(&delivered, 1)
		}()
	}
	wg.Wait()
	return int(atomic.LoadInt64(&delivered))
}

// broadcastTargets filters member ids to active peers, excluding self.
func (m *Manager) broadcastTargets(members []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(members))
	for _, id := range members {
		if id == m.self.ID {
			continue
		}
		if n, ok := m.nodes[id]; ok && n.IsActive() {
			out = append(out, id)
		}
	}
	return out
}

// Reconnect tears down the cached connection to a peer and performs a
// fresh Join handshake. On success the peer is active again and any
// topology delta from its reply is merged. One-shot: the recovery loop
// owns retries around this.
func (m *Manager) Reconnect(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	n, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	addr := n.Address()
	if conn, ok := m.conns[nodeID]; ok {
		conn.Close() //nolint:errcheck
		delete(m.conns, nodeID)
	}
	m.mu.Unlock()

	conn, err := m.dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s at %s: %w", nodeID, addr, err)
	}

	resp, err := conn.Join(ctx, &rpc.JoinRequest{Node: rpc.ToNodeInfo(m.Self())})
	if err != nil {
		conn.Close() //nolint:errcheck
		metrics.RPCFailures.WithLabelValues("Join").Inc()
		return fmt.Errorf("join handshake with %s failed: %w", nodeID, err)
	}

	now := time.Now()
	m.mu.Lock()
	if n, ok := m.nodes[nodeID]; ok {
		n.Status = types.NodeStatusActive
		if now.After(n.LastHeartbeat) {
			n.LastHeartbeat = now
		}
	}
	if existing, ok := m.conns[nodeID]; ok {
		existing.Close() //nolint:errcheck
	}
	m.conns[nodeID] = conn
	m.mu.Unlock()

	m.mergeNodeInfos(resp.Nodes)
	m.logger.Info().Str("node_id", nodeID).Str("address", addr).Msg("Reconnected to node")
	return nil
}

// FetchZones pulls a peer's full zone set, retrying before giving up.
func (m *Manager) FetchZones(ctx context.Context, nodeID string) ([]*types.DetectionZone, error) {
	req := &rpc.GetZonesRequest{NodeID: m.self.ID, Timestamp: time.Now()}

	var list *rpc.ZoneList
	err := m.retry.Do(ctx, "get_zones_from_"+nodeID, func(ctx context.Context) error {
		conn, err := m.client(nodeID)
		if err != nil {
			return err
		}
		resp, err := conn.GetZones(ctx, req)
		if err != nil {
			return err
		}
		list = resp
		return nil
	})
	if err != nil {
		metrics.RPCFailures.WithLabelValues("GetZones").Inc()
		m.markFailed(nodeID, err)
		return nil, err
	}

	zones := make([]*types.DetectionZone, 0, len(list.Zones))
	for _, z := range list.Zones {
		zones = append(zones, rpc.FromZoneMessage(z))
	}
	return zones, nil
}
