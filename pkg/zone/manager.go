package zone

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/log"
	"github.com/cordonsec/vigil/pkg/types"
)

var (
	// ErrInvalidZone is returned when a zone fails invariant validation.
	ErrInvalidZone = errors.New("invalid zone")

	// ErrZoneNotFound is returned when a zone id is unknown.
	ErrZoneNotFound = errors.New("zone not found")

	// ErrZoneExists is returned by CreateZone for a duplicate id.
	ErrZoneExists = errors.New("zone already exists")
)

// Cluster is the membership and transport surface the zone manager needs.
// The node manager satisfies it.
type Cluster interface {
	ID() string
	HasNode(id string) bool
	ActiveNodes() []*types.Node
	BroadcastZone(ctx context.Context, zone *types.DetectionZone, members []string) int
	FetchZones(ctx context.Context, nodeID string) ([]*types.DetectionZone, error)
}

// Manager owns the local zone replica set: validated mutations, replication
// to members, startup sync, and the in-memory update log.
type Manager struct {
	cluster Cluster
	broker  *events.Broker
	logger  zerolog.Logger

	mu    sync.RWMutex
	zones map[string]*types.DetectionZone
	oplog *updateLog
}

// NewManager creates a zone manager bound to the given cluster.
func NewManager(cluster Cluster, broker *events.Broker) *Manager {
	return &Manager{
		cluster: cluster,
		broker:  broker,
		logger:  log.WithComponent("zones"),
		zones:   make(map[string]*types.DetectionZone),
		oplog:   newUpdateLog(maxLogEntries),
	}
}

// CreateZone validates, stores, and replicates a new zone. The snapshot is
// broadcast to every active member; partial delivery failures do not fail
// the create.
func (m *Manager) CreateZone(ctx context.Context, zone *types.DetectionZone) error {
	if err := m.validate(zone, true); err != nil {
		return err
	}

	now := time.Now()
	z := zone.Clone()
	z.CreatedAt = now
	z.UpdatedAt = now

	m.mu.Lock()
	if _, exists := m.zones[z.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrZoneExists, z.ID)
	}
	m.zones[z.ID] = z
	m.oplog.add(UpdateRecord{Op: OpCreate, ZoneID: z.ID, Origin: m.cluster.ID(), Timestamp: now})
	snapshot := z.Clone()
	m.mu.Unlock()

	m.logger.Info().Str("zone_id", z.ID).Int("nodes", len(z.Nodes)).Int("rules", len(z.Rules)).Msg("Zone created")
	m.broker.Publish(events.New(events.EventZoneCreated, "zone created", map[string]string{
		"zone_id": z.ID,
		"origin":  m.cluster.ID(),
	}))

	m.cluster.BroadcastZone(ctx, snapshot, snapshot.Nodes)
	return nil
}

// UpdateZone validates and replaces an existing zone, then replicates the
// new snapshot.
func (m *Manager) UpdateZone(ctx context.Context, zone *types.DetectionZone) error {
	if err := m.validate(zone, true); err != nil {
		return err
	}

	now := time.Now()

	m.mu.Lock()
	existing, ok := m.zones[zone.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrZoneNotFound, zone.ID)
	}
	z := zone.Clone()
	z.CreatedAt = existing.CreatedAt
	z.UpdatedAt = now
	m.zones[z.ID] = z
	m.oplog.add(UpdateRecord{Op: OpUpdate, ZoneID: z.ID, Origin: m.cluster.ID(), Timestamp: now})
	snapshot := z.Clone()
	m.mu.Unlock()

	m.logger.Info().Str("zone_id", z.ID).Msg("Zone updated")
	m.broker.Publish(events.New(events.EventZoneUpdated, "zone updated", map[string]string{
		"zone_id": z.ID,
		"origin":  m.cluster.ID(),
	}))

	m.cluster.BroadcastZone(ctx, snapshot, snapshot.Nodes)
	return nil
}

// DeleteZone removes a zone locally and broadcasts a tombstone, a snapshot
// with no nodes, toward the membership the zone had.
func (m *Manager) DeleteZone(ctx context.Context, id string) error {
	now := time.Now()

	m.mu.Lock()
	existing, ok := m.zones[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}
	members := append([]string(nil), existing.Nodes...)
	delete(m.zones, id)
	m.oplog.add(UpdateRecord{Op: OpDelete, ZoneID: id, Origin: m.cluster.ID(), Timestamp: now})
	m.mu.Unlock()

	m.logger.Info().Str("zone_id", id).Msg("Zone deleted")
	m.broker.Publish(events.New(events.EventZoneDeleted, "zone deleted", map[string]string{
		"zone_id": id,
		"origin":  m.cluster.ID(),
	}))

	tombstone := &types.DetectionZone{ID: id, UpdatedAt: now}
	m.cluster.BroadcastZone(ctx, tombstone, members)
	return nil
}

// GetZone returns a copy of the zone with the given id.
func (m *Manager) GetZone(id string) (*types.DetectionZone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}
	return z.Clone(), nil
}

// ListZones returns copies of all zones sorted by id.
func (m *Manager) ListZones() []*types.DetectionZone {
	m.mu.RLock()
	out := make([]*types.DetectionZone, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, z.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindZonesForNode returns the zones a node belongs to, sorted by id.
func (m *Manager) FindZonesForNode(nodeID string) []*types.DetectionZone {
	all := m.ListZones()
	out := all[:0]
	for _, z := range all {
		if z.HasNode(nodeID) {
			out = append(out, z)
		}
	}
	return out
}

// FindZonesByRule returns the zones carrying a rule for the given alert
// key, sorted by id.
func (m *Manager) FindZonesByRule(alertType string, severity types.Severity) []*types.DetectionZone {
	all := m.ListZones()
	out := all[:0]
	for _, z := range all {
		for _, r := range z.Rules {
			if r.Matches(alertType, severity) {
				out = append(out, z)
				break
			}
		}
	}
	return out
}

// FindZoneForAlert resolves the zone an alert belongs to: the first zone,
// in id order, with a rule matching the alert's type and severity. Id order
// keeps resolution deterministic across nodes holding the same replica set.
func (m *Manager) FindZoneForAlert(alert *types.AnomalyAlert) (*types.DetectionZone, bool) {
	zones := m.FindZonesByRule(alert.Type, alert.Result.Severity)
	if len(zones) == 0 {
		return nil, false
	}
	return zones[0], true
}

// validate enforces the zone invariants. Mutations and broadcasts only
// happen after this passes. checkMembership is off for snapshots arriving
// from peers, whose members may not all be known locally yet.
func (m *Manager) validate(zone *types.DetectionZone, checkMembership bool) error {
	if zone == nil || zone.ID == "" {
		return fmt.Errorf("%w: missing zone id", ErrInvalidZone)
	}
	if len(zone.Nodes) == 0 {
		return fmt.Errorf("%w: zone %s has no nodes", ErrInvalidZone, zone.ID)
	}
	if checkMembership {
		for _, id := range zone.Nodes {
			if !m.cluster.HasNode(id) {
				return fmt.Errorf("%w: zone %s references unknown node %s", ErrInvalidZone, zone.ID, id)
			}
		}
	}
	if len(zone.Rules) == 0 {
		return fmt.Errorf("%w: zone %s has no rules", ErrInvalidZone, zone.ID)
	}
	for _, r := range zone.Rules {
		if r.ID == "" {
			return fmt.Errorf("%w: zone %s has a rule without an id", ErrInvalidZone, zone.ID)
		}
		if !r.Severity.Valid() {
			return fmt.Errorf("%w: rule %s has invalid severity %q", ErrInvalidZone, r.ID, r.Severity)
		}
		if len(r.Actions) == 0 {
			return fmt.Errorf("%w: rule %s has no actions", ErrInvalidZone, r.ID)
		}
		for _, a := range r.Actions {
			if !a.Valid() {
				return fmt.Errorf("%w: rule %s has invalid action %q", ErrInvalidZone, r.ID, a)
			}
		}
	}
	p := zone.AlertPolicy
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("%w: zone %s minConfidence %v out of range", ErrInvalidZone, zone.ID, p.MinConfidence)
	}
	if p.ConsensusThreshold < 0 || p.ConsensusThreshold > 1 {
		return fmt.Errorf("%w: zone %s consensusThreshold %v out of range", ErrInvalidZone, zone.ID, p.ConsensusThreshold)
	}
	if p.TimeWindow <= 0 {
		return fmt.Errorf("%w: zone %s timeWindow must be positive", ErrInvalidZone, zone.ID)
	}
	return nil
}
