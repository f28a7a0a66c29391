package recovery

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/log"
	"github.com/cordonsec/vigil/pkg/retry"
	"github.com/cordonsec/vigil/pkg/types"
)

const (
	defaultHealthCheckInterval = 30 * time.Second
	defaultRecoveryInterval    = 60 * time.Second
	defaultMaxRecoveryAttempts = 5
	defaultValidationInterval  = 5 * time.Minute
)

// Cluster is the membership surface recovery drives. The node manager
// satisfies it.
type Cluster interface {
	ID() string
	Node(id string) (*types.Node, error)
	ActiveNodes() []*types.Node
	Reconnect(ctx context.Context, nodeID string) error
	FetchZones(ctx context.Context, nodeID string) ([]*types.DetectionZone, error)
}

// ZoneStore is the replica set recovery reconciles. The zone manager
// satisfies it.
type ZoneStore interface {
	GetZone(id string) (*types.DetectionZone, error)
	ListZones() []*types.DetectionZone
	AdoptZone(ctx context.Context, zone *types.DetectionZone) error
}

// Config holds recovery timing parameters.
type Config struct {
	HealthCheckInterval time.Duration // how often failed nodes and flagged zones are retried
	RecoveryInterval    time.Duration // minimum spacing between attempts on one entry
	MaxRecoveryAttempts int           // attempts before an entry is dropped as terminal
	ValidationInterval  time.Duration // how often peer zone state is compared
}

// DefaultConfig returns the production recovery parameters.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: defaultHealthCheckInterval,
		RecoveryInterval:    defaultRecoveryInterval,
		MaxRecoveryAttempts: defaultMaxRecoveryAttempts,
		ValidationInterval:  defaultValidationInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = defaultRecoveryInterval
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = defaultMaxRecoveryAttempts
	}
	if c.ValidationInterval <= 0 {
		c.ValidationInterval = defaultValidationInterval
	}
	return c
}

// nodeEntry tracks one failed peer awaiting reconnection.
type nodeEntry struct {
	node        *types.Node
	firstFailed time.Time
	lastAttempt time.Time
	attempts    int
	lastError   error
}

// zoneEntry tracks one zone flagged as divergent from the cluster.
type zoneEntry struct {
	zoneID      string
	reason      string
	flaggedAt   time.Time
	lastAttempt time.Time
	attempts    int
}

// FailedNode is a point-in-time view of a recovery entry for operators.
type FailedNode struct {
	NodeID      string    `json:"nodeId"`
	Address     string    `json:"address"`
	Since       time.Time `json:"since"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"lastAttempt"`
	LastError   string    `json:"lastError,omitempty"`
}

// InconsistentZone is a point-in-time view of a flagged zone for operators.
type InconsistentZone struct {
	ZoneID      string    `json:"zoneId"`
	Reason      string    `json:"reason"`
	FlaggedAt   time.Time `json:"flaggedAt"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"lastAttempt"`
}

// Manager drives the node health-check and zone state-validation loops.
// Failed peers arrive through node.failed events; divergent zones are found
// by comparing canonical zone state against every active peer. Entries are
// retried until they recover or exhaust the attempt budget.
type Manager struct {
	cfg     Config
	cluster Cluster
	zones   ZoneStore
	retry   *retry.Manager
	broker  *events.Broker
	logger  zerolog.Logger

	mu                sync.Mutex
	failedNodes       map[string]*nodeEntry
	inconsistentZones map[string]*zoneEntry

	// Held by whichever pass is running; ticks that find it held skip.
	isRecovering atomic.Bool

	sub      events.Subscriber
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewManager creates a recovery manager over the given cluster and zone views.
func NewManager(cfg Config, cluster Cluster, zones ZoneStore, retryMgr *retry.Manager, broker *events.Broker) *Manager {
	return &Manager{
		cfg:               cfg.withDefaults(),
		cluster:           cluster,
		zones:             zones,
		retry:             retryMgr,
		broker:            broker,
		logger:            log.WithComponent("recovery"),
		failedNodes:       make(map[string]*nodeEntry),
		inconsistentZones: make(map[string]*zoneEntry),
		stopCh:            make(chan struct{}),
	}
}

// Start subscribes to cluster events and launches the periodic loops.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.sub = m.broker.Subscribe()

	m.wg.Add(3)
	go m.eventLoop()
	go m.healthLoop()
	go m.validationLoop()

	m.logger.Info().
		Dur("health_interval", m.cfg.HealthCheckInterval).
		Dur("validation_interval", m.cfg.ValidationInterval).
		Int("max_attempts", m.cfg.MaxRecoveryAttempts).
		Msg("Recovery manager started")
}

// Stop terminates the loops and unsubscribes from the event bus.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	if m.sub != nil {
		m.broker.Unsubscribe(m.sub)
	}
}

func (m *Manager) eventLoop() {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-m.sub:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) handleEvent(ev *events.Event) {
	switch ev.Type {
	case events.EventNodeFailed:
		m.trackFailedNode(ev.Metadata["node_id"])
	case events.EventNodeRecovered:
		m.clearFailedNode(ev.Metadata["node_id"])
	case events.EventRetryExhausted:
		// Re-emitted for operators; exhausted retries already marked the peer
		// failed, so no new attempt is scheduled here.
		m.broker.Publish(events.New(events.EventRecoveryExhausted, ev.Message, ev.Metadata))
	}
}

// trackFailedNode inserts a recovery entry for the peer. A repeat failure
// while the entry exists refreshes the node snapshot but keeps the attempt
// count, so flapping cannot reset the budget.
func (m *Manager) trackFailedNode(nodeID string) {
	if nodeID == "" || nodeID == m.cluster.ID() {
		return
	}
	n, err := m.cluster.Node(nodeID)
	if err != nil {
		m.logger.Debug().Str("node_id", nodeID).Msg("Failed node not in membership table, ignoring")
		return
	}

	m.mu.Lock()
	if entry, ok := m.failedNodes[nodeID]; ok {
		entry.node = n
		m.mu.Unlock()
		return
	}
	m.failedNodes[nodeID] = &nodeEntry{node: n, firstFailed: time.Now()}
	m.mu.Unlock()

	m.logger.Info().Str("node_id", nodeID).Str("address", n.Address()).Msg("Tracking failed node for recovery")
}

// clearFailedNode drops the entry when the peer comes back on its own,
// typically through a heartbeat revival.
func (m *Manager) clearFailedNode(nodeID string) {
	m.mu.Lock()
	_, ok := m.failedNodes[nodeID]
	if ok {
		delete(m.failedNodes, nodeID)
	}
	m.mu.Unlock()

	if ok {
		m.logger.Info().Str("node_id", nodeID).Msg("Node recovered, dropping recovery entry")
	}
}

// FailedNodes returns the current node recovery entries sorted by id.
func (m *Manager) FailedNodes() []FailedNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FailedNode, 0, len(m.failedNodes))
	for id, e := range m.failedNodes {
		fn := FailedNode{
			NodeID:      id,
			Address:     e.node.Address(),
			Since:       e.firstFailed,
			Attempts:    e.attempts,
			LastAttempt: e.lastAttempt,
		}
		if e.lastError != nil {
			fn.LastError = e.lastError.Error()
		}
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// InconsistentZones returns the currently flagged zones sorted by id.
func (m *Manager) InconsistentZones() []InconsistentZone {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InconsistentZone, 0, len(m.inconsistentZones))
	for id, e := range m.inconsistentZones {
		out = append(out, InconsistentZone{
			ZoneID:      id,
			Reason:      e.reason,
			FlaggedAt:   e.flaggedAt,
			Attempts:    e.attempts,
			LastAttempt: e.lastAttempt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out
}
