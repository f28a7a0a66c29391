package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

func testAlert(nodeID string) *types.AnomalyAlert {
	return &types.AnomalyAlert{
		ID:     nodeID + "-1700000000000",
		NodeID: nodeID,
		Type:   "network_traffic",
		Result: types.DetectionResult{
			IsAnomaly:  true,
			Severity:   types.SeverityHigh,
			Confidence: 0.9,
		},
		Timestamp: time.Now(),
		Status:    types.AlertStatusNew,
		Priority:  types.PriorityP1,
	}
}

func TestSendAlertToStampsSender(t *testing.T) {
	network := newFakeNetwork()
	peer := network.conn("10.0.0.2:7946")

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)

	require.NoError(t, mgr.SendAlertTo(context.Background(), "node-2", testAlert("node-1")))

	peer.mu.Lock()
	defer peer.mu.Unlock()
	require.Len(t, peer.alerts, 1)
	assert.Equal(t, "node-1", peer.alerts[0].SenderID)
	assert.Equal(t, "node-1", peer.alerts[0].NodeID)
}

func TestSendAlertToRetriesTransientFailure(t *testing.T) {
	network := newFakeNetwork()
	peer := network.conn("10.0.0.2:7946")
	peer.alertFailures = 2

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)

	require.NoError(t, mgr.SendAlertTo(context.Background(), "node-2", testAlert("node-1")))

	peer.mu.Lock()
	calls := peer.alertCalls
	peer.mu.Unlock()
	assert.Equal(t, 3, calls, "two failures then success inside one retry envelope")

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, n.Status, "a recovered send is not a node failure")
}

func TestSendAlertToExhaustionMarksNodeFailed(t *testing.T) {
	network := newFakeNetwork()
	network.conn("10.0.0.2:7946").alertFailures = 100

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)

	err := mgr.SendAlertTo(context.Background(), "node-2", testAlert("node-1"))
	require.Error(t, err)

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusFailed, n.Status)
}

func TestBroadcastAlertSkipsSelfAndInactive(t *testing.T) {
	network := newFakeNetwork()
	live := network.conn("10.0.0.2:7946")
	down := network.conn("10.0.0.3:7946")

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	joinPeer(t, mgr, "node-3", "10.0.0.3", 7946)
	mgr.markFailed("node-3", errors.New("down"))

	delivered := mgr.BroadcastAlert(context.Background(), testAlert("node-1"), []string{"node-1", "node-2", "node-3"})

	assert.Equal(t, 1, delivered)
	live.mu.Lock()
	assert.Len(t, live.alerts, 1)
	live.mu.Unlock()
	down.mu.Lock()
	assert.Zero(t, down.alertCalls, "failed members are not contacted")
	down.mu.Unlock()
}

func TestBroadcastZoneDeliversSnapshots(t *testing.T) {
	network := newFakeNetwork()
	peer2 := network.conn("10.0.0.2:7946")
	peer3 := network.conn("10.0.0.3:7946")

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	joinPeer(t, mgr, "node-3", "10.0.0.3", 7946)

	zone := &types.DetectionZone{
		ID:    "zone-a",
		Nodes: []string{"node-1", "node-2", "node-3"},
		Rules: []types.DetectionRule{{ID: "r1", Type: "cpu", Severity: types.SeverityHigh, Actions: []types.RuleAction{types.ActionNotify}}},
		AlertPolicy: types.AlertPolicy{
			MinConfidence:      0.5,
			ConsensusThreshold: 0.6,
			TimeWindow:         time.Minute,
		},
	}

	delivered := mgr.BroadcastZone(context.Background(), zone, zone.Nodes)
	assert.Equal(t, 2, delivered)

	for _, peer := range []*fakeConn{peer2, peer3} {
		peer.mu.Lock()
		require.Len(t, peer.zones, 1)
		assert.Equal(t, "zone-a", peer.zones[0].ID)
		assert.Equal(t, int64(60000), peer.zones[0].AlertPolicy.TimeWindowMs)
		peer.mu.Unlock()
	}
}

func TestBroadcastZoneAbsorbsPartialFailure(t *testing.T) {
	network := newFakeNetwork()
	network.conn("10.0.0.2:7946").zoneErr = errors.New("connection refused")
	peer3 := network.conn("10.0.0.3:7946")

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	joinPeer(t, mgr, "node-3", "10.0.0.3", 7946)

	zone := &types.DetectionZone{ID: "zone-a", Nodes: []string{"node-2", "node-3"}}
	delivered := mgr.BroadcastZone(context.Background(), zone, zone.Nodes)

	assert.Equal(t, 1, delivered, "one receiver down, the other still gets the snapshot")
	peer3.mu.Lock()
	assert.Len(t, peer3.zones, 1)
	peer3.mu.Unlock()

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusFailed, n.Status, "exhausted broadcast retries fail the peer")
}

func TestReconnectRestoresFailedNode(t *testing.T) {
	network := newFakeNetwork()
	network.conn("10.0.0.2:7946")

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	mgr.markFailed("node-2", errors.New("down"))

	require.NoError(t, mgr.Reconnect(context.Background(), "node-2"))

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, n.Status)
}

func TestReconnectUnknownNode(t *testing.T) {
	mgr, _ := newTestManager(t, "node-1", nil, newFakeNetwork())
	err := mgr.Reconnect(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestReconnectSurfacesHandshakeFailure(t *testing.T) {
	network := newFakeNetwork()
	network.conn("10.0.0.2:7946").joinErr = errors.New("connection refused")

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	mgr.markFailed("node-2", errors.New("down"))

	require.Error(t, mgr.Reconnect(context.Background(), "node-2"))

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusFailed, n.Status)
}

func TestFetchZonesConvertsWireZones(t *testing.T) {
	network := newFakeNetwork()
	network.conn("10.0.0.2:7946").zonesResp = &rpc.ZoneList{Zones: []rpc.ZoneMessage{
		{
			ID:    "zone-a",
			Nodes: []string{"node-1", "node-2"},
			Rules: []rpc.RuleMessage{{ID: "r1", Type: "cpu", Severity: "high", Actions: []string{"notify"}}},
			AlertPolicy: rpc.PolicyMessage{
				MinConfidence:      0.5,
				ConsensusThreshold: 0.67,
				TimeWindowMs:       30000,
			},
		},
	}}

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)

	zones, err := mgr.FetchZones(context.Background(), "node-2")
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, "zone-a", zones[0].ID)
	assert.Equal(t, 30*time.Second, zones[0].AlertPolicy.TimeWindow)
	assert.Equal(t, types.SeverityHigh, zones[0].Rules[0].Severity)
}

func TestFetchZonesFailureMarksNode(t *testing.T) {
	network := newFakeNetwork()
	network.conn("10.0.0.2:7946").zonesErr = errors.New("unavailable")

	mgr, _ := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)

	_, err := mgr.FetchZones(context.Background(), "node-2")
	require.Error(t, err)

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusFailed, n.Status)
}
