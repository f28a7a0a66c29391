package consensus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/log"
	"github.com/cordonsec/vigil/pkg/metrics"
	"github.com/cordonsec/vigil/pkg/types"
)

var (
	// ErrNoConsensusState is returned when a vote references an alert with no
	// in-flight round, typically an echo arriving after teardown.
	ErrNoConsensusState = errors.New("no consensus state for alert")

	// ErrRoundExists is returned when a round for the alert id is already running.
	ErrRoundExists = errors.New("consensus round already in progress")
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultTimeout      = 10 * time.Second
)

// Cluster is the membership view a consensus round needs. The node manager
// satisfies it.
type Cluster interface {
	ID() string
	ActiveMembers(ids []string) []string
	BroadcastAlert(ctx context.Context, alert *types.AnomalyAlert, members []string) int
}

// Config holds consensus timing parameters.
type Config struct {
	PollInterval time.Duration // how often quorum is re-evaluated
	Timeout      time.Duration // hard window for a round
}

// DefaultConfig returns the production timing parameters.
func DefaultConfig() Config {
	return Config{
		PollInterval: defaultPollInterval,
		Timeout:      defaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// round tracks one alert's vote tally. Destroyed on quorum or timeout, never
// persisted.
type round struct {
	alertID   string
	zoneID    string
	votes     map[string]bool // voter node id -> vote
	createdAt time.Time
	deadline  time.Time
}

// Manager runs per-alert quorum votes among a zone's active members.
type Manager struct {
	cfg     Config
	cluster Cluster
	broker  *events.Broker
	logger  zerolog.Logger

	mu     sync.RWMutex
	rounds map[string]*round // keyed by alert id
}

// NewManager creates a consensus manager on top of the given cluster view.
func NewManager(cfg Config, cluster Cluster, broker *events.Broker) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		cluster: cluster,
		broker:  broker,
		logger:  log.WithComponent("consensus"),
		rounds:  make(map[string]*round),
	}
}

// ReachConsensus runs a quorum vote for the alert among the zone's active
// members. The local vote counts immediately; the alert fans out to the other
// members, who vote by echoing it back to the originator, where the inbound
// alert handler calls RecordVote. Blocks until quorum or the round window
// closes. A timed-out round reports Reached false and is terminal; the alert
// is dropped, never requeued.
func (m *Manager) ReachConsensus(ctx context.Context, alert *types.AnomalyAlert, zone *types.DetectionZone) (*types.ConsensusResult, error) {
	if alert == nil || alert.ID == "" {
		return nil, errors.New("alert id required")
	}
	if zone == nil {
		return nil, errors.New("zone required")
	}

	now := time.Now()
	st := &round{
		alertID:   alert.ID,
		zoneID:    zone.ID,
		votes:     map[string]bool{m.cluster.ID(): true},
		createdAt: now,
		deadline:  now.Add(m.cfg.Timeout),
	}

	m.mu.Lock()
	if _, exists := m.rounds[alert.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRoundExists, alert.ID)
	}
	m.rounds[alert.ID] = st
	m.mu.Unlock()

	metrics.VotesRecorded.Inc()

	m.logger.Info().
		Str("alert_id", alert.ID).
		Str("zone_id", zone.ID).
		Float64("threshold", zone.AlertPolicy.ConsensusThreshold).
		Msg("Consensus round started")

	// Fan out while polling. The broadcast is best-effort and bounded by the
	// round window; votes come back through RecordVote, not this call.
	bctx, cancel := context.WithDeadline(ctx, st.deadline)
	defer cancel()
	go m.cluster.BroadcastAlert(bctx, alert, zone.Nodes)

	return m.await(ctx, st, zone)
}

func (m *Manager) await(ctx context.Context, st *round, zone *types.DetectionZone) (*types.ConsensusResult, error) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(time.Until(st.deadline))
	defer timeout.Stop()

	// Evaluate immediately on entry; a single-member zone resolves without
	// waiting out a poll interval.
	for {
		if res, ok := m.evaluate(st, zone); ok {
			return res, nil
		}
		select {
		case <-ticker.C:
		case <-timeout.C:
			return m.finishTimeout(st, zone), nil
		case <-ctx.Done():
			m.teardown(st.alertID)
			metrics.ConsensusRounds.WithLabelValues("canceled").Inc()
			return nil, ctx.Err()
		}
	}
}

// evaluate applies the quorum rule at this instant. Membership is re-read on
// every call, so members failing mid-vote lower the bar instead of wedging
// the round. Returns false while the round is still short of quorum.
func (m *Manager) evaluate(st *round, zone *types.DetectionZone) (*types.ConsensusResult, bool) {
	required := m.requiredVotes(zone)
	votes := m.voteSnapshot(st)
	if len(votes) < required {
		return nil, false
	}
	m.teardown(st.alertID)

	res := &types.ConsensusResult{
		Reached:      true,
		Agreement:    countPositive(votes) >= required,
		Participants: types.SortedParticipants(votes),
		Timestamp:    time.Now(),
	}
	m.finish(st, res, required, len(votes))
	return res, true
}

// finishTimeout closes out a round whose window expired. One final evaluation
// runs first so votes that landed after the last poll still count.
func (m *Manager) finishTimeout(st *round, zone *types.DetectionZone) *types.ConsensusResult {
	if res, ok := m.evaluate(st, zone); ok {
		return res
	}

	required := m.requiredVotes(zone)
	votes := m.voteSnapshot(st)
	m.teardown(st.alertID)

	res := &types.ConsensusResult{
		Reached:      false,
		Agreement:    false,
		Participants: types.SortedParticipants(votes),
		Timestamp:    time.Now(),
	}

	metrics.ConsensusDuration.Observe(time.Since(st.createdAt).Seconds())
	metrics.ConsensusRounds.WithLabelValues("timeout").Inc()

	m.logger.Warn().
		Str("alert_id", st.alertID).
		Str("zone_id", st.zoneID).
		Int("votes", len(votes)).
		Int("required", required).
		Msg("Consensus round timed out")

	m.broker.Publish(events.New(events.EventConsensusTimeout, "Consensus round timed out", map[string]string{
		"alert_id": st.alertID,
		"zone_id":  st.zoneID,
		"votes":    strconv.Itoa(len(votes)),
		"required": strconv.Itoa(required),
	}))
	return res
}

func (m *Manager) finish(st *round, res *types.ConsensusResult, required, total int) {
	metrics.ConsensusDuration.Observe(time.Since(st.createdAt).Seconds())

	outcome := "reached"
	event := events.EventConsensusReached
	msg := "Consensus reached"
	if !res.Agreement {
		outcome = "failed"
		event = events.EventConsensusFailed
		msg = "Consensus reached without agreement"
	}
	metrics.ConsensusRounds.WithLabelValues(outcome).Inc()

	m.logger.Info().
		Str("alert_id", st.alertID).
		Str("zone_id", st.zoneID).
		Bool("agreement", res.Agreement).
		Int("votes", total).
		Int("required", required).
		Msg(msg)

	m.broker.Publish(events.New(event, msg, map[string]string{
		"alert_id": st.alertID,
		"zone_id":  st.zoneID,
		"votes":    strconv.Itoa(total),
		"required": strconv.Itoa(required),
	}))
}

// RecordVote tallies a vote for an in-flight round. A repeat vote from the
// same node overwrites and is counted once. Votes for unknown alert ids
// return ErrNoConsensusState; the round either never existed here or has
// already been torn down.
func (m *Manager) RecordVote(alertID, voterID string, vote bool) error {
	m.mu.Lock()
	st, ok := m.rounds[alertID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoConsensusState, alertID)
	}
	_, seen := st.votes[voterID]
	st.votes[voterID] = vote
	m.mu.Unlock()

	if seen {
		m.logger.Debug().
			Str("alert_id", alertID).
			Str("voter", voterID).
			Msg("Duplicate vote overwritten")
		return nil
	}

	metrics.VotesRecorded.Inc()
	m.logger.Debug().
		Str("alert_id", alertID).
		Str("voter", voterID).
		Bool("vote", vote).
		Msg("Vote recorded")
	return nil
}

// Pending returns the number of rounds currently awaiting quorum.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rounds)
}

// requiredVotes applies the quorum rule against membership as it stands now.
func (m *Manager) requiredVotes(zone *types.DetectionZone) int {
	active := len(m.cluster.ActiveMembers(zone.Nodes))
	return quorum(active, zone.AlertPolicy.ConsensusThreshold)
}

// quorum is ceil(active * threshold), floored at one vote so a degenerate
// zone still needs the originator's own vote.
func quorum(active int, threshold float64) int {
	required := int(math.Ceil(float64(active) * threshold))
	if required < 1 {
		required = 1
	}
	return required
}

func (m *Manager) voteSnapshot(st *round) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	votes := make(map[string]bool, len(st.votes))
	for id, v := range st.votes {
		votes[id] = v
	}
	return votes
}

func (m *Manager) teardown(alertID string) {
	m.mu.Lock()
	delete(m.rounds, alertID)
	m.mu.Unlock()
}

func countPositive(votes map[string]bool) int {
	n := 0
	for _, v := range votes {
		if v {
			n++
		}
	}
	return n
}
