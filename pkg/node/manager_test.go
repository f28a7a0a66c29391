package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/retry"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

// fakeConn is an in-memory peer connection with scriptable failures.
type fakeConn struct {
	mu     sync.Mutex
	closed bool

	joinResp  *rpc.JoinResponse
	joinErr   error
	hbErr     error
	zonesResp *rpc.ZoneList
	zonesErr  error

	// alertFailures fails the first N SendAlert calls.
	alertFailures int
	zoneErr       error

	joinCalls  int
	hbCalls    int
	alertCalls int
	zoneCalls  int
	zonesCalls int
	alerts     []rpc.AlertMessage
	zones      []rpc.ZoneMessage
}

func (f *fakeConn) Join(ctx context.Context, req *rpc.JoinRequest) (*rpc.JoinResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	if f.joinResp != nil {
		return f.joinResp, nil
	}
	return &rpc.JoinResponse{}, nil
}

func (f *fakeConn) Heartbeat(ctx context.Context, req *rpc.HeartbeatRequest) (*rpc.HeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hbCalls++
	if f.hbErr != nil {
		return nil, f.hbErr
	}
	return &rpc.HeartbeatResponse{}, nil
}

func (f *fakeConn) SendAlert(ctx context.Context, msg *rpc.AlertMessage) (*rpc.AlertAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertCalls++
	if f.alertCalls <= f.alertFailures {
		return nil, errors.New("connection refused")
	}
	f.alerts = append(f.alerts, *msg)
	return &rpc.AlertAck{}, nil
}

func (f *fakeConn) SendZone(ctx context.Context, msg *rpc.ZoneMessage) (*rpc.ZoneAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoneCalls++
	if f.zoneErr != nil {
		return nil, f.zoneErr
	}
	f.zones = append(f.zones, *msg)
	return &rpc.ZoneAck{}, nil
}

func (f *fakeConn) GetZones(ctx context.Context, req *rpc.GetZonesRequest) (*rpc.ZoneList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zonesCalls++
	if f.zonesErr != nil {
		return nil, f.zonesErr
	}
	if f.zonesResp != nil {
		return f.zonesResp, nil
	}
	return &rpc.ZoneList{}, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeNetwork hands out fakeConns by dialed address.
type fakeNetwork struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	dialErr map[string]error
	dials   map[string]int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		conns:   make(map[string]*fakeConn),
		dialErr: make(map[string]error),
		dials:   make(map[string]int),
	}
}

// conn registers (or returns) the fake connection for an address.
func (f *fakeNetwork) conn(addr string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conns[addr]; ok {
		return c
	}
	c := &fakeConn{}
	f.conns[addr] = c
	return c
}

func (f *fakeNetwork) failDial(addr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErr[addr] = err
}

func (f *fakeNetwork) dial(target string) (rpc.Conn, error) {
	f.mu.Lock()
	f.dials[target]++
	if err, ok := f.dialErr[target]; ok && err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	return f.conn(target), nil
}

func fastRetry(broker *events.Broker) *retry.Manager {
	return retry.NewManager(retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      4 * time.Millisecond,
		BackoffFactor: 2.0,
		Timeout:       200 * time.Millisecond,
	}, broker)
}

func newTestManager(t *testing.T, id string, seeds []string, network *fakeNetwork) (*Manager, *events.Broker) {
	t.Helper()

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	mgr := NewManager(Config{
		ID:                id,
		Host:              "127.0.0.1",
		Port:              0,
		Role:              types.NodeRoleMaster,
		Seeds:             seeds,
		HeartbeatInterval: time.Hour, // ticks driven manually in tests
		Dial:              network.dial,
	}, fastRetry(broker), broker)

	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { mgr.Stop() }) //nolint:errcheck

	return mgr, broker
}

// joinPeer admits a peer through the Join handler, the same path a live
// cluster uses.
func joinPeer(t *testing.T, m *Manager, id, host string, port int) {
	t.Helper()
	_, err := m.Join(context.Background(), &rpc.JoinRequest{
		Node: rpc.NodeInfo{ID: id, Host: host, Port: port, Role: "worker", Status: "active"},
	})
	require.NoError(t, err)
}

func waitForEvent(t *testing.T, sub events.Subscriber, want events.EventType) *events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestStartTwiceFails(t *testing.T) {
	mgr, _ := newTestManager(t, "node-1", nil, newFakeNetwork())
	err := mgr.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStartMarksSelfActive(t *testing.T) {
	mgr, _ := newTestManager(t, "node-1", nil, newFakeNetwork())

	self := mgr.Self()
	assert.Equal(t, types.NodeStatusActive, self.Status)
	assert.False(t, self.LastHeartbeat.IsZero())
	assert.NotZero(t, self.Port, "port should be backfilled from the bound listener")

	nodes := mgr.ListNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-1", nodes[0].ID)
}

func TestJoinAddsNodeAndReturnsFullTable(t *testing.T) {
	mgr, broker := newTestManager(t, "node-1", nil, newFakeNetwork())
	sub := broker.Subscribe()

	resp, err := mgr.Join(context.Background(), &rpc.JoinRequest{
		Node: rpc.NodeInfo{ID: "node-2", Host: "10.0.0.2", Port: 7946, Role: "worker", Status: "active"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Nodes, 2, "reply carries the full table including the receiver")

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, n.Status)
	assert.False(t, n.LastHeartbeat.IsZero())

	ev := waitForEvent(t, sub, events.EventNodeJoined)
	assert.Equal(t, "node-2", ev.Metadata["node_id"])
}

func TestJoinRejectsMissingID(t *testing.T) {
	mgr, _ := newTestManager(t, "node-1", nil, newFakeNetwork())
	_, err := mgr.Join(context.Background(), &rpc.JoinRequest{})
	require.Error(t, err)
}

func TestRejoinDoesNotDuplicate(t *testing.T) {
	mgr, _ := newTestManager(t, "node-1", nil, newFakeNetwork())
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7947)

	assert.Len(t, mgr.ListNodes(), 2)
	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, 7947, n.Port, "rejoin refreshes the advertised endpoint")
}

func TestHeartbeatKeepsMaxTimestamp(t *testing.T) {
	mgr, _ := newTestManager(t, "node-1", nil, newFakeNetwork())
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)

	newer := time.Now().Add(10 * time.Second)
	older := newer.Add(-30 * time.Second)

	_, err := mgr.Heartbeat(context.Background(), &rpc.HeartbeatRequest{NodeID: "node-2", Timestamp: newer})
	require.NoError(t, err)
	_, err = mgr.Heartbeat(context.Background(), &rpc.HeartbeatRequest{NodeID: "node-2", Timestamp: older})
	require.NoError(t, err)

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.True(t, n.LastHeartbeat.Equal(newer), "out-of-order heartbeat must not rewind lastHeartbeat")
}

func TestHeartbeatRevivesFailedNode(t *testing.T) {
	mgr, broker := newTestManager(t, "node-1", nil, newFakeNetwork())
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	sub := broker.Subscribe()

	mgr.markFailed("node-2", errors.New("test failure"))
	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusFailed, n.Status)

	_, err = mgr.Heartbeat(context.Background(), &rpc.HeartbeatRequest{NodeID: "node-2", Timestamp: time.Now()})
	require.NoError(t, err)

	n, err = mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, n.Status)

	ev := waitForEvent(t, sub, events.EventNodeRecovered)
	assert.Equal(t, "heartbeat", ev.Metadata["via"])
}

func TestHeartbeatFromUnknownNodeIgnored(t *testing.T) {
	mgr, _ := newTestManager(t, "node-1", nil, newFakeNetwork())

	_, err := mgr.Heartbeat(context.Background(), &rpc.HeartbeatRequest{NodeID: "ghost", Timestamp: time.Now()})
	require.NoError(t, err, "unknown senders are acknowledged, not errored")
	assert.False(t, mgr.HasNode("ghost"), "membership only changes through Join")
}

func TestLivenessSweepFailsStalePeer(t *testing.T) {
	mgr, broker := newTestManager(t, "node-1", nil, newFakeNetwork())
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	sub := broker.Subscribe()

	mgr.mu.Lock()
	mgr.nodes["node-2"].LastHeartbeat = time.Now().Add(-16 * time.Second)
	mgr.mu.Unlock()

	mgr.checkLiveness()

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusFailed, n.Status)

	ev := waitForEvent(t, sub, events.EventNodeFailed)
	assert.Equal(t, "node-2", ev.Metadata["node_id"])
}

func TestLivenessSweepLeavesFreshPeerAlone(t *testing.T) {
	mgr, _ := newTestManager(t, "node-1", nil, newFakeNetwork())
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)

	mgr.mu.Lock()
	mgr.nodes["node-2"].LastHeartbeat = time.Now().Add(-14 * time.Second)
	mgr.mu.Unlock()

	mgr.checkLiveness()

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, n.Status)
}

func TestSendHeartbeatsMarksPeerFailedOnRPCError(t *testing.T) {
	network := newFakeNetwork()
	network.conn("10.0.0.2:7946").hbErr = errors.New("connection reset")

	mgr, broker := newTestManager(t, "node-1", nil, network)
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	sub := broker.Subscribe()

	mgr.sendHeartbeats()

	n, err := mgr.Node("node-2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusFailed, n.Status, "one failed ping fails the peer, no retries")
	waitForEvent(t, sub, events.EventNodeFailed)
}

func TestSeedJoinMergesReturnedTable(t *testing.T) {
	network := newFakeNetwork()
	seed := network.conn("10.0.0.9:7946")
	seed.joinResp = &rpc.JoinResponse{Nodes: []rpc.NodeInfo{
		{ID: "node-9", Host: "10.0.0.9", Port: 7946, Role: "master", Status: "active", LastHeartbeat: time.Now()},
		{ID: "node-8", Host: "10.0.0.8", Port: 7946, Role: "worker", Status: "active", LastHeartbeat: time.Now()},
	}}

	mgr, _ := newTestManager(t, "node-1", []string{"10.0.0.9:7946"}, network)

	assert.Len(t, mgr.ListNodes(), 3)
	assert.True(t, mgr.HasNode("node-9"))
	assert.True(t, mgr.HasNode("node-8"))

	seed.mu.Lock()
	defer seed.mu.Unlock()
	assert.Equal(t, 1, seed.joinCalls)
}

func TestUnreachableSeedDoesNotFailStartup(t *testing.T) {
	network := newFakeNetwork()
	network.failDial("10.0.0.9:7946", errors.New("no route to host"))

	mgr, _ := newTestManager(t, "node-1", []string{"10.0.0.9:7946"}, network)

	assert.Len(t, mgr.ListNodes(), 1, "cluster starts standalone when seeds are down")

	network.mu.Lock()
	defer network.mu.Unlock()
	assert.Equal(t, 3, network.dials["10.0.0.9:7946"], "seed join retries before giving up")
}

func TestActiveMembersFiltersByStatus(t *testing.T) {
	mgr, _ := newTestManager(t, "node-1", nil, newFakeNetwork())
	joinPeer(t, mgr, "node-2", "10.0.0.2", 7946)
	joinPeer(t, mgr, "node-3", "10.0.0.3", 7946)
	mgr.markFailed("node-3", errors.New("down"))

	active := mgr.ActiveMembers([]string{"node-1", "node-2", "node-3", "ghost"})
	assert.Equal(t, []string{"node-1", "node-2"}, active)
}
