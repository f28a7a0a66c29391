package detector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

type fakeLocal struct {
	mu     sync.Mutex
	result *types.DetectionResult
	err    error
	calls  int
}

func (f *fakeLocal) Detect(ctx context.Context, m types.Measurements) (*types.DetectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type sentAlert struct {
	nodeID string
	alert  *types.AnomalyAlert
}

type fakeCluster struct {
	mu      sync.Mutex
	id      string
	sent    []sentAlert
	sendErr error
}

func (f *fakeCluster) ID() string { return f.id }

func (f *fakeCluster) SendAlertTo(ctx context.Context, nodeID string, alert *types.AnomalyAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentAlert{nodeID: nodeID, alert: alert})
	return nil
}

func (f *fakeCluster) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeCluster) lastSent() sentAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeResolver struct {
	zones []*types.DetectionZone
}

func (f *fakeResolver) FindZoneForAlert(alert *types.AnomalyAlert) (*types.DetectionZone, bool) {
	for _, z := range f.zones {
		for _, r := range z.Rules {
			if r.Type == alert.Type && r.Severity == alert.Result.Severity {
				return z.Clone(), true
			}
		}
	}
	return nil, false
}

type voteCall struct {
	alertID string
	voterID string
	vote    bool
}

type fakeConsensus struct {
	mu      sync.Mutex
	res     *types.ConsensusResult
	err     error
	rounds  []*types.AnomalyAlert
	votes   []voteCall
	voteErr error
}

func (f *fakeConsensus) ReachConsensus(ctx context.Context, alert *types.AnomalyAlert, zone *types.DetectionZone) (*types.ConsensusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds = append(f.rounds, alert)
	return f.res, f.err
}

func (f *fakeConsensus) RecordVote(alertID, voterID string, vote bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, voteCall{alertID: alertID, voterID: voterID, vote: vote})
	return f.voteErr
}

func (f *fakeConsensus) roundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rounds)
}

type sinkCall struct {
	action types.RuleAction
	group  AlertGroup
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	fail  map[types.RuleAction]error
}

func (f *fakeSink) HandleAction(ctx context.Context, action types.RuleAction, group AlertGroup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{action: action, group: group})
	if f.fail != nil {
		return f.fail[action]
	}
	return nil
}

func (f *fakeSink) actions() []types.RuleAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.RuleAction, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.action
	}
	return out
}

type testHarness struct {
	detector  *Detector
	local     *fakeLocal
	cluster   *fakeCluster
	resolver  *fakeResolver
	consensus *fakeConsensus
	sink      *fakeSink
	broker    *events.Broker
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	h := &testHarness{
		local:     &fakeLocal{},
		cluster:   &fakeCluster{id: "node-1"},
		resolver:  &fakeResolver{},
		consensus: &fakeConsensus{},
		sink:      &fakeSink{},
		broker:    broker,
	}
	h.detector = New(h.local, h.cluster, h.resolver, h.consensus, h.sink, broker)
	return h
}

func anomalous(confidence float64) *types.DetectionResult {
	return &types.DetectionResult{
		IsAnomaly:     true,
		Severity:      types.SeverityHigh,
		Confidence:    confidence,
		EnsembleScore: confidence,
	}
}

func cpuZone(minConfidence float64, actions ...types.RuleAction) *types.DetectionZone {
	if len(actions) == 0 {
		actions = []types.RuleAction{types.ActionNotify}
	}
	return &types.DetectionZone{
		ID:    "zone-a",
		Nodes: []string{"node-1", "node-2"},
		Rules: []types.DetectionRule{
			{ID: "r1", Type: "cpu", Severity: types.SeverityHigh, Actions: actions},
		},
		AlertPolicy: types.AlertPolicy{
			MinConfidence:      minConfidence,
			ConsensusThreshold: 0.67,
			TimeWindow:         time.Minute,
		},
	}
}

func cpuMeasurements() types.Measurements {
	return types.Measurements{
		Source:    "cpu",
		Values:    map[string]float64{"usage": 0.99},
		Labels:    map[string]string{"host": "web-1"},
		Timestamp: time.Now(),
	}
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

func TestDetectNormalMeasurements(t *testing.T) {
	h := newHarness(t)
	h.local.result = &types.DetectionResult{IsAnomaly: false}

	alert, res, err := h.detector.Detect(context.Background(), cpuMeasurements())

	require.NoError(t, err)
	assert.Nil(t, alert)
	assert.Nil(t, res)
	assert.Zero(t, h.consensus.roundCount())
}

func TestDetectLocalDetectorError(t *testing.T) {
	h := newHarness(t)
	h.local.err = errors.New("model unavailable")

	alert, res, err := h.detector.Detect(context.Background(), cpuMeasurements())

	assert.Error(t, err)
	assert.Nil(t, alert)
	assert.Nil(t, res)
}

func TestDetectAgreementExecutesActions(t *testing.T) {
	h := newHarness(t)
	h.local.result = anomalous(0.9)
	h.resolver.zones = []*types.DetectionZone{cpuZone(0.5, types.ActionNotify, types.ActionBlock)}
	h.consensus.res = &types.ConsensusResult{Reached: true, Agreement: true, Participants: []string{"node-1", "node-2"}}
	sub := h.broker.Subscribe()

	alert, res, err := h.detector.Detect(context.Background(), cpuMeasurements())

	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.True(t, strings.HasPrefix(alert.ID, "node-1-"))
	assert.Equal(t, "node-1", alert.NodeID)
	assert.Equal(t, "cpu", alert.Type)
	assert.Equal(t, types.PriorityP1, alert.Priority)
	assert.Equal(t, types.AlertStatusInvestigating, alert.Status)
	assert.Equal(t, "web-1", alert.Context["host"])
	require.NotNil(t, res)
	assert.True(t, res.Agreement)

	assert.Equal(t, []types.RuleAction{types.ActionNotify, types.ActionBlock}, h.sink.actions())
	require.Len(t, h.sink.calls, 2)
	group := h.sink.calls[0].group
	assert.Equal(t, "zone-a", group.ZoneID)
	assert.Equal(t, "r1", group.Rule.ID)
	require.Len(t, group.Alerts, 1)
	assert.Equal(t, alert.ID, group.Alerts[0].ID)

	waitForEvent(t, sub, events.EventAlertCreated)
	ev := waitForEvent(t, sub, events.EventActionNotify)
	assert.Equal(t, alert.ID, ev.Metadata["alerts"])
	waitForEvent(t, sub, events.EventActionBlock)
}

func TestDetectNoMatchingZone(t *testing.T) {
	h := newHarness(t)
	h.local.result = anomalous(0.9)

	alert, res, err := h.detector.Detect(context.Background(), cpuMeasurements())

	assert.ErrorIs(t, err, ErrNoMatchingZone)
	require.NotNil(t, alert)
	assert.Nil(t, res)
	assert.Zero(t, h.consensus.roundCount())
}

func TestDetectSuppressedBelowConfidenceFloor(t *testing.T) {
	h := newHarness(t)
	h.local.result = anomalous(0.6)
	h.resolver.zones = []*types.DetectionZone{cpuZone(0.8)}

	alert, res, err := h.detector.Detect(context.Background(), cpuMeasurements())

	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Nil(t, res)
	assert.Zero(t, h.consensus.roundCount())
	assert.Empty(t, h.sink.actions())
}

func TestDetectQuorumWithoutAgreement(t *testing.T) {
	h := newHarness(t)
	h.local.result = anomalous(0.9)
	h.resolver.zones = []*types.DetectionZone{cpuZone(0.5)}
	h.consensus.res = &types.ConsensusResult{Reached: true, Agreement: false}

	alert, res, err := h.detector.Detect(context.Background(), cpuMeasurements())

	require.NoError(t, err)
	assert.Equal(t, types.AlertStatusFalsePositive, alert.Status)
	assert.True(t, res.Reached)
	assert.Empty(t, h.sink.actions())
}

func TestDetectTimeoutDropsAlert(t *testing.T) {
	h := newHarness(t)
	h.local.result = anomalous(0.9)
	h.resolver.zones = []*types.DetectionZone{cpuZone(0.5)}
	h.consensus.res = &types.ConsensusResult{Reached: false, Agreement: false}

	alert, res, err := h.detector.Detect(context.Background(), cpuMeasurements())

	require.NoError(t, err)
	assert.Equal(t, types.AlertStatusNew, alert.Status)
	assert.False(t, res.Reached)
	assert.Empty(t, h.sink.actions())
}

func TestActionFailureDoesNotStopOthers(t *testing.T) {
	h := newHarness(t)
	h.local.result = anomalous(0.9)
	h.resolver.zones = []*types.DetectionZone{cpuZone(0.5, types.ActionNotify, types.ActionBlock)}
	h.consensus.res = &types.ConsensusResult{Reached: true, Agreement: true}
	h.sink.fail = map[types.RuleAction]error{types.ActionNotify: errors.New("webhook down")}
	sub := h.broker.Subscribe()

	_, _, err := h.detector.Detect(context.Background(), cpuMeasurements())

	require.NoError(t, err)
	assert.Equal(t, []types.RuleAction{types.ActionNotify, types.ActionBlock}, h.sink.actions())

	ev := waitForEvent(t, sub, events.EventError)
	assert.Equal(t, "notify", ev.Metadata["action"])
	assert.Equal(t, "webhook down", ev.Metadata["error"])
}

func TestMultipleRulesMatchingSameKeyAllFire(t *testing.T) {
	h := newHarness(t)
	h.local.result = anomalous(0.9)
	zone := cpuZone(0.5, types.ActionNotify)
	zone.Rules = append(zone.Rules,
		types.DetectionRule{ID: "r2", Type: "cpu", Severity: types.SeverityHigh, Actions: []types.RuleAction{types.ActionIsolate}},
		types.DetectionRule{ID: "r3", Type: "memory", Severity: types.SeverityHigh, Actions: []types.RuleAction{types.ActionBlock}},
	)
	h.resolver.zones = []*types.DetectionZone{zone}
	h.consensus.res = &types.ConsensusResult{Reached: true, Agreement: true}

	_, _, err := h.detector.Detect(context.Background(), cpuMeasurements())

	require.NoError(t, err)
	assert.Equal(t, []types.RuleAction{types.ActionNotify, types.ActionIsolate}, h.sink.actions())
}

func TestRemoteAlertEchoesVote(t *testing.T) {
	h := newHarness(t)
	h.resolver.zones = []*types.DetectionZone{cpuZone(0.5)}

	msg := &rpc.AlertMessage{
		ID:     "node-2-200",
		NodeID: "node-2",
		Type:   "cpu",
		Result: rpc.ResultMessage{IsAnomaly: true, Severity: "high", Confidence: 0.9},
	}
	require.NoError(t, h.detector.HandleRemoteAlert(context.Background(), msg))

	require.Eventually(t, func() bool { return h.cluster.sentCount() == 1 }, 2*time.Second, time.Millisecond)
	echo := h.cluster.lastSent()
	assert.Equal(t, "node-2", echo.nodeID)
	assert.Equal(t, "node-2-200", echo.alert.ID)
	assert.Equal(t, "node-2", echo.alert.NodeID)
}

func TestRemoteAlertSilentWithoutZone(t *testing.T) {
	h := newHarness(t)

	msg := &rpc.AlertMessage{
		ID:     "node-2-201",
		NodeID: "node-2",
		Type:   "cpu",
		Result: rpc.ResultMessage{IsAnomaly: true, Severity: "high", Confidence: 0.9},
	}
	require.NoError(t, h.detector.HandleRemoteAlert(context.Background(), msg))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.cluster.sentCount())
}

func TestRemoteAlertSilentBelowConfidenceFloor(t *testing.T) {
	h := newHarness(t)
	h.resolver.zones = []*types.DetectionZone{cpuZone(0.8)}

	msg := &rpc.AlertMessage{
		ID:     "node-2-202",
		NodeID: "node-2",
		Type:   "cpu",
		Result: rpc.ResultMessage{IsAnomaly: true, Severity: "high", Confidence: 0.6},
	}
	require.NoError(t, h.detector.HandleRemoteAlert(context.Background(), msg))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.cluster.sentCount())
}

func TestVoteEchoRecordsVote(t *testing.T) {
	h := newHarness(t)

	msg := &rpc.AlertMessage{
		ID:       "node-1-300",
		NodeID:   "node-1",
		SenderID: "node-3",
		Type:     "cpu",
		Result:   rpc.ResultMessage{IsAnomaly: true, Severity: "high", Confidence: 0.9},
	}
	require.NoError(t, h.detector.HandleRemoteAlert(context.Background(), msg))

	require.Len(t, h.consensus.votes, 1)
	assert.Equal(t, voteCall{alertID: "node-1-300", voterID: "node-3", vote: true}, h.consensus.votes[0])
	assert.Zero(t, h.cluster.sentCount())
}

func TestLateVoteStillAcks(t *testing.T) {
	h := newHarness(t)
	h.consensus.voteErr = errors.New("no consensus state for alert")

	msg := &rpc.AlertMessage{
		ID:       "node-1-301",
		NodeID:   "node-1",
		SenderID: "node-3",
		Type:     "cpu",
	}
	assert.NoError(t, h.detector.HandleRemoteAlert(context.Background(), msg))
}

func TestMalformedRemoteAlertRejected(t *testing.T) {
	h := newHarness(t)

	assert.Error(t, h.detector.HandleRemoteAlert(context.Background(), nil))
	assert.Error(t, h.detector.HandleRemoteAlert(context.Background(), &rpc.AlertMessage{NodeID: "node-2"}))
	assert.Error(t, h.detector.HandleRemoteAlert(context.Background(), &rpc.AlertMessage{ID: "node-2-1"}))
}
