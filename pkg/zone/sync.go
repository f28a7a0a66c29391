package zone

import (
	"context"
	"fmt"
	"time"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

// ApplyRemote applies a zone snapshot delivered by a peer. An empty member
// list is a tombstone and removes the zone. Snapshots are validated
// structurally but not against local membership: the sender may know nodes
// this replica has not met yet.
func (m *Manager) ApplyRemote(ctx context.Context, msg *rpc.ZoneMessage) error {
	if msg.ID == "" {
		return fmt.Errorf("%w: missing zone id", ErrInvalidZone)
	}

	now := time.Now()

	if msg.IsTombstone() {
		m.mu.Lock()
		_, existed := m.zones[msg.ID]
		if existed {
			delete(m.zones, msg.ID)
			m.oplog.add(UpdateRecord{Op: OpDelete, ZoneID: msg.ID, Origin: "remote", Timestamp: now})
		}
		m.mu.Unlock()

		if existed {
			m.logger.Info().Str("zone_id", msg.ID).Msg("Zone removed by remote tombstone")
			m.broker.Publish(events.New(events.EventZoneDeleted, "zone deleted by peer", map[string]string{
				"zone_id": msg.ID,
				"origin":  "remote",
			}))
		}
		return nil
	}

	z := rpc.FromZoneMessage(*msg)
	if err := m.validate(z, false); err != nil {
		return err
	}

	m.mu.Lock()
	_, existed := m.zones[z.ID]
	m.zones[z.ID] = z
	m.oplog.add(UpdateRecord{Op: OpApply, ZoneID: z.ID, Origin: "remote", Timestamp: now})
	m.mu.Unlock()

	eventType := events.EventZoneUpdated
	message := "zone updated by peer"
	if !existed {
		eventType = events.EventZoneCreated
		message = "zone learned from peer"
	}
	m.logger.Debug().Str("zone_id", z.ID).Bool("known", existed).Msg("Applied remote zone snapshot")
	m.broker.Publish(events.New(eventType, message, map[string]string{
		"zone_id": z.ID,
		"origin":  "remote",
	}))
	return nil
}

// SyncZones pulls the full zone set from every active peer and merges any
// zone not already known locally. First seen wins here; replicas that
// disagree are reconciled later by the recovery manager's validation loop.
func (m *Manager) SyncZones(ctx context.Context) error {
	selfID := m.cluster.ID()
	var added int

	for _, peer := range m.cluster.ActiveNodes() {
		if peer.ID == selfID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		zones, err := m.cluster.FetchZones(ctx, peer.ID)
		if err != nil {
			m.logger.Warn().Err(err).Str("node_id", peer.ID).Msg("Zone sync pull failed")
			continue
		}

		for _, z := range zones {
			if err := m.validate(z, false); err != nil {
				m.logger.Warn().Err(err).Str("zone_id", z.ID).Str("node_id", peer.ID).Msg("Skipping invalid synced zone")
				continue
			}
			m.mu.Lock()
			if _, known := m.zones[z.ID]; known {
				m.mu.Unlock()
				continue
			}
			m.zones[z.ID] = z.Clone()
			m.oplog.add(UpdateRecord{Op: OpSync, ZoneID: z.ID, Origin: peer.ID, Timestamp: time.Now()})
			m.mu.Unlock()
			added++
		}
	}

	if added > 0 {
		m.logger.Info().Int("zones", added).Msg("Zone sync complete")
		m.broker.Publish(events.New(events.EventZoneSynced, "zones synced from peers", map[string]string{
			"count": fmt.Sprintf("%d", added),
		}))
	}
	return nil
}

// AdoptZone replaces the local replica with a reconciled majority state and
// rebroadcasts it so every member converges. Membership validation is
// skipped for the same reason as ApplyRemote.
func (m *Manager) AdoptZone(ctx context.Context, z *types.DetectionZone) error {
	if err := m.validate(z, false); err != nil {
		return err
	}

	m.mu.Lock()
	m.zones[z.ID] = z.Clone()
	m.oplog.add(UpdateRecord{Op: OpAdopt, ZoneID: z.ID, Origin: m.cluster.ID(), Timestamp: time.Now()})
	snapshot := m.zones[z.ID].Clone()
	m.mu.Unlock()

	m.logger.Info().Str("zone_id", z.ID).Msg("Adopted majority zone state")
	m.cluster.BroadcastZone(ctx, snapshot, snapshot.Nodes)
	return nil
}
