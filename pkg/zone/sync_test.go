package zone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

func TestApplyRemoteLearnsNewZone(t *testing.T) {
	cluster := newFakeCluster("node-1")
	mgr, broker := newTestManager(t, cluster)
	sub := broker.Subscribe()

	// The snapshot references a member this node has never met; remote
	// snapshots are trusted on membership.
	msg := rpc.ToZoneMessage(validZone("zone-a", "node-7", "node-8"))
	require.NoError(t, mgr.ApplyRemote(context.Background(), &msg))

	z, err := mgr.GetZone("zone-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"node-7", "node-8"}, z.Nodes)
	assert.Zero(t, cluster.broadcastCount(), "applying a remote snapshot must not rebroadcast")

	ev := waitForEvent(t, sub, events.EventZoneCreated)
	assert.Equal(t, "remote", ev.Metadata["origin"])
}

func TestApplyRemoteOverwritesExistingReplica(t *testing.T) {
	cluster := newFakeCluster("node-1", "node-2")
	mgr, _ := newTestManager(t, cluster)

	require.NoError(t, mgr.CreateZone(context.Background(), validZone("zone-a")))

	updated := validZone("zone-a")
	updated.AlertPolicy.MinConfidence = 0.95
	msg := rpc.ToZoneMessage(updated)
	require.NoError(t, mgr.ApplyRemote(context.Background(), &msg))

	z, err := mgr.GetZone("zone-a")
	require.NoError(t, err)
	assert.Equal(t, 0.95, z.AlertPolicy.MinConfidence)
}

func TestApplyRemoteTombstoneDeletes(t *testing.T) {
	cluster := newFakeCluster("node-1", "node-2")
	mgr, broker := newTestManager(t, cluster)

	require.NoError(t, mgr.CreateZone(context.Background(), validZone("zone-a")))
	sub := broker.Subscribe()

	tombstone := &rpc.ZoneMessage{ID: "zone-a"}
	require.NoError(t, mgr.ApplyRemote(context.Background(), tombstone))

	_, err := mgr.GetZone("zone-a")
	assert.ErrorIs(t, err, ErrZoneNotFound)
	waitForEvent(t, sub, events.EventZoneDeleted)
}

func TestApplyRemoteTombstoneForUnknownZoneIsNoop(t *testing.T) {
	mgr, _ := newTestManager(t, newFakeCluster("node-1"))
	require.NoError(t, mgr.ApplyRemote(context.Background(), &rpc.ZoneMessage{ID: "ghost"}))
}

func TestApplyRemoteRejectsStructurallyInvalidSnapshot(t *testing.T) {
	mgr, _ := newTestManager(t, newFakeCluster("node-1"))

	msg := &rpc.ZoneMessage{
		ID:    "zone-bad",
		Nodes: []string{"node-1"},
		// no rules
		AlertPolicy: rpc.PolicyMessage{MinConfidence: 0.5, ConsensusThreshold: 0.5, TimeWindowMs: 1000},
	}
	err := mgr.ApplyRemote(context.Background(), msg)
	require.ErrorIs(t, err, ErrInvalidZone)

	_, err = mgr.GetZone("zone-bad")
	assert.ErrorIs(t, err, ErrZoneNotFound)
}

func TestSyncZonesFirstSeenWins(t *testing.T) {
	cluster := newFakeCluster("node-1", "node-2", "node-3")
	cluster.active = []*types.Node{
		{ID: "node-1", Status: types.NodeStatusActive},
		{ID: "node-2", Status: types.NodeStatusActive},
		{ID: "node-3", Status: types.NodeStatusActive},
	}

	local := validZone("zone-a")
	local.AlertPolicy.MinConfidence = 0.5

	remoteA := validZone("zone-a")
	remoteA.AlertPolicy.MinConfidence = 0.99
	cluster.fetches["node-2"] = []*types.DetectionZone{remoteA, validZone("zone-b")}
	cluster.fetches["node-3"] = []*types.DetectionZone{validZone("zone-b"), validZone("zone-c")}

	mgr, _ := newTestManager(t, cluster)
	require.NoError(t, mgr.CreateZone(context.Background(), local))

	require.NoError(t, mgr.SyncZones(context.Background()))

	z, err := mgr.GetZone("zone-a")
	require.NoError(t, err)
	assert.Equal(t, 0.5, z.AlertPolicy.MinConfidence, "local copy wins over a synced duplicate")

	assert.Len(t, mgr.ListZones(), 3)
	_, err = mgr.GetZone("zone-b")
	assert.NoError(t, err)
	_, err = mgr.GetZone("zone-c")
	assert.NoError(t, err)
}

func TestSyncZonesAbsorbsPeerFailure(t *testing.T) {
	cluster := newFakeCluster("node-1", "node-2", "node-3")
	cluster.active = []*types.Node{
		{ID: "node-2", Status: types.NodeStatusActive},
		{ID: "node-3", Status: types.NodeStatusActive},
	}
	cluster.fetchErr["node-2"] = errors.New("unavailable")
	cluster.fetches["node-3"] = []*types.DetectionZone{validZone("zone-a")}

	mgr, _ := newTestManager(t, cluster)
	require.NoError(t, mgr.SyncZones(context.Background()))

	_, err := mgr.GetZone("zone-a")
	assert.NoError(t, err, "a down peer must not block syncing from the others")
}

func TestAdoptZoneStoresAndRebroadcasts(t *testing.T) {
	cluster := newFakeCluster("node-1", "node-2")
	mgr, _ := newTestManager(t, cluster)

	require.NoError(t, mgr.CreateZone(context.Background(), validZone("zone-a")))

	majority := validZone("zone-a")
	majority.AlertPolicy.ConsensusThreshold = 0.8
	majority.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, mgr.AdoptZone(context.Background(), majority))

	z, err := mgr.GetZone("zone-a")
	require.NoError(t, err)
	assert.Equal(t, 0.8, z.AlertPolicy.ConsensusThreshold)

	cluster.mu.Lock()
	defer cluster.mu.Unlock()
	require.Len(t, cluster.broadcasts, 2)
	assert.Equal(t, 0.8, cluster.broadcasts[1].zone.AlertPolicy.ConsensusThreshold)
}

func TestCanonicalKeyIgnoresOrderingAndTimestamps(t *testing.T) {
	a := &types.DetectionZone{
		ID:    "zone-a",
		Nodes: []string{"node-2", "node-1"},
		Rules: []types.DetectionRule{
			{ID: "r2", Type: "mem", Severity: types.SeverityLow, Actions: []types.RuleAction{types.ActionBlock}},
			{ID: "r1", Type: "cpu", Severity: types.SeverityHigh, Actions: []types.RuleAction{types.ActionNotify}},
		},
		AlertPolicy: types.AlertPolicy{MinConfidence: 0.5, ConsensusThreshold: 0.67, TimeWindow: time.Minute},
		CreatedAt:   time.Now(),
	}
	b := &types.DetectionZone{
		ID:    "zone-a",
		Nodes: []string{"node-1", "node-2"},
		Rules: []types.DetectionRule{
			{ID: "r1", Type: "cpu", Severity: types.SeverityHigh, Actions: []types.RuleAction{types.ActionNotify}},
			{ID: "r2", Type: "mem", Severity: types.SeverityLow, Actions: []types.RuleAction{types.ActionBlock}},
		},
		AlertPolicy: types.AlertPolicy{MinConfidence: 0.5, ConsensusThreshold: 0.67, TimeWindow: time.Minute},
		CreatedAt:   time.Now().Add(-time.Hour),
	}

	assert.Equal(t, CanonicalKey(a), CanonicalKey(b), "member order, rule order, and timestamps must not affect the key")

	c := b.Clone()
	c.AlertPolicy.ConsensusThreshold = 0.8
	assert.NotEqual(t, CanonicalKey(b), CanonicalKey(c), "policy changes must change the key")

	d := b.Clone()
	d.Nodes = []string{"node-1"}
	assert.NotEqual(t, CanonicalKey(b), CanonicalKey(d))
}
