package recovery

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/metrics"
	"github.com/cordonsec/vigil/pkg/types"
	"github.com/cordonsec/vigil/pkg/zone"
)

func (m *Manager) validationLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ValidationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.validationPass()
		case <-m.stopCh:
			return
		}
	}
}

// validationPass compares local zone state against every active peer using
// canonical keys. It only flags divergence; repair happens on health-pass
// ticks through attemptZoneRecovery.
func (m *Manager) validationPass() {
	if !m.isRecovering.CompareAndSwap(false, true) {
		m.logger.Debug().Msg("Recovery pass already running, skipping validation")
		return
	}
	defer m.isRecovering.Store(false)

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ValidationDuration)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ValidationInterval)
	defer cancel()

	local := make(map[string]string)
	for _, z := range m.zones.ListZones() {
		local[z.ID] = zone.CanonicalKey(z)
	}

	selfID := m.cluster.ID()
	peers := 0
	for _, peer := range m.cluster.ActiveNodes() {
		if peer.ID == selfID {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		peers++

		remote, err := m.cluster.FetchZones(ctx, peer.ID)
		if err != nil {
			m.logger.Warn().Str("node_id", peer.ID).Err(err).Msg("Zone fetch failed during validation")
			continue
		}

		seen := make(map[string]bool, len(remote))
		for _, rz := range remote {
			seen[rz.ID] = true
			key, ok := local[rz.ID]
			switch {
			case !ok:
				m.flagZoneInconsistency(rz.ID, "missing locally", peer.ID)
			case key != zone.CanonicalKey(rz):
				m.flagZoneInconsistency(rz.ID, "content divergence", peer.ID)
			}
		}
		for id := range local {
			if !seen[id] {
				m.flagZoneInconsistency(id, "missing on peer", peer.ID)
			}
		}
	}

	m.logger.Debug().Int("peers", peers).Int("zones", len(local)).Msg("Zone state validation pass complete")
}

// flagZoneInconsistency inserts a recovery entry for the zone. Already
// flagged zones keep their entry and attempt count.
func (m *Manager) flagZoneInconsistency(zoneID, reason, peerID string) {
	m.mu.Lock()
	if _, ok := m.inconsistentZones[zoneID]; ok {
		m.mu.Unlock()
		return
	}
	m.inconsistentZones[zoneID] = &zoneEntry{
		zoneID:    zoneID,
		reason:    reason,
		flaggedAt: time.Now(),
	}
	m.mu.Unlock()

	metrics.ZoneInconsistencies.Inc()
	m.logger.Warn().
		Str("zone_id", zoneID).
		Str("reason", reason).
		Str("peer", peerID).
		Msg("Zone state inconsistency detected")
	m.broker.Publish(events.New(events.EventZoneInconsistent, "Zone state inconsistency detected", map[string]string{
		"zone_id": zoneID,
		"reason":  reason,
		"peer":    peerID,
	}))
}

// attemptZoneRecovery reconciles one flagged zone to the majority state held
// by active peers. With no peer holding the zone, the local copy is
// authoritative and is rebroadcast as-is.
func (m *Manager) attemptZoneRecovery(ctx context.Context, zoneID string) {
	m.logger.Info().Str("zone_id", zoneID).Msg("Attempting zone recovery")

	winner, copies := m.majorityZoneState(ctx, zoneID)
	if winner == nil {
		local, err := m.zones.GetZone(zoneID)
		if err != nil {
			// Gone everywhere. The replicas agree, nothing to repair.
			m.mu.Lock()
			delete(m.inconsistentZones, zoneID)
			m.mu.Unlock()
			metrics.RecoveryAttempts.WithLabelValues("zone", "success").Inc()
			m.logger.Info().Str("zone_id", zoneID).Msg("Zone no longer exists anywhere, dropping entry")
			return
		}
		winner = local
	}

	err := m.zones.AdoptZone(ctx, winner)

	now := time.Now()
	m.mu.Lock()
	entry, ok := m.inconsistentZones[zoneID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if err == nil {
		delete(m.inconsistentZones, zoneID)
		m.mu.Unlock()

		metrics.RecoveryAttempts.WithLabelValues("zone", "success").Inc()
		m.logger.Info().Str("zone_id", zoneID).Int("copies", copies).Msg("Zone reconciled to majority state")
		m.broker.Publish(events.New(events.EventZoneRecovered, "Zone reconciled to majority state", map[string]string{
			"zone_id": zoneID,
			"copies":  strconv.Itoa(copies),
		}))
		return
	}

	entry.attempts++
	entry.lastAttempt = now
	attempts := entry.attempts
	exhausted := attempts >= m.cfg.MaxRecoveryAttempts
	if exhausted {
		delete(m.inconsistentZones, zoneID)
	}
	m.mu.Unlock()

	if exhausted {
		metrics.RecoveryAttempts.WithLabelValues("zone", "exhausted").Inc()
		m.logger.Error().
			Str("zone_id", zoneID).
			Int("attempts", attempts).
			Err(err).
			Msg("Zone recovery exhausted, giving up")
		m.broker.Publish(events.New(events.EventZoneRecoveryFailed, "Zone recovery exhausted", map[string]string{
			"zone_id":  zoneID,
			"attempts": strconv.Itoa(attempts),
			"error":    err.Error(),
		}))
		return
	}

	metrics.RecoveryAttempts.WithLabelValues("zone", "failure").Inc()
	m.logger.Warn().
		Str("zone_id", zoneID).
		Int("attempts", attempts).
		Err(err).
		Msg("Zone recovery attempt failed")
}

// majorityZoneState polls every active peer for its copy of the zone, groups
// identical canonical keys, and returns the most common copy. Ties break to
// the lexicographically smallest canonical key so every node picks the same
// winner. Returns nil when no peer holds the zone.
func (m *Manager) majorityZoneState(ctx context.Context, zoneID string) (*types.DetectionZone, int) {
	type group struct {
		zone  *types.DetectionZone
		count int
	}
	groups := make(map[string]*group)

	selfID := m.cluster.ID()
	for _, peer := range m.cluster.ActiveNodes() {
		if peer.ID == selfID {
			continue
		}
		zones, err := m.cluster.FetchZones(ctx, peer.ID)
		if err != nil {
			m.logger.Warn().Str("node_id", peer.ID).Err(err).Msg("Zone fetch failed during reconciliation")
			continue
		}
		for _, z := range zones {
			if z.ID != zoneID {
				continue
			}
			key := zone.CanonicalKey(z)
			if g, ok := groups[key]; ok {
				g.count++
			} else {
				groups[key] = &group{zone: z, count: 1}
			}
			break
		}
	}

	if len(groups) == 0 {
		return nil, 0
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	winner := keys[0]
	for _, k := range keys[1:] {
		if groups[k].count > groups[winner].count {
			winner = k
		}
	}
	return groups[winner].zone, groups[winner].count
}
