package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/log"
	"github.com/cordonsec/vigil/pkg/metrics"
	"github.com/cordonsec/vigil/pkg/retry"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

var (
	// ErrAlreadyStarted is returned by Start when the manager is running.
	ErrAlreadyStarted = errors.New("node manager already started")

	// ErrNodeNotFound is returned when a node id is not in the membership
	// table.
	ErrNodeNotFound = errors.New("node not found")
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultLivenessTimeout   = 15 * time.Second
	heartbeatCallTimeout     = 5 * time.Second
)

// Config holds node manager configuration.
type Config struct {
	ID           string
	Host         string
	Port         int
	Role         types.NodeRole
	Capabilities []string

	// Seeds are host:port addresses contacted once at startup to learn the
	// cluster topology. Empty means bootstrap a standalone cluster.
	Seeds []string

	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration

	TLS *rpc.TLSConfig

	// Dial overrides how peer connections are created. Tests inject
	// in-memory fakes here.
	Dial func(target string) (rpc.Conn, error)
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = defaultLivenessTimeout
	}
	if c.Role == "" {
		c.Role = types.NodeRoleWorker
	}
	return c
}

// Manager owns the local node identity, the membership table, the peer
// connection cache, and the heartbeat liveness protocol. It implements
// rpc.CoordinatorServer for the inbound side.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.RWMutex
	self  *types.Node
	nodes map[string]*types.Node
	conns map[string]rpc.Conn

	server *rpc.Server
	dial   func(target string) (rpc.Conn, error)

	retry  *retry.Manager
	broker *events.Broker

	// Inbound delivery callbacks, wired before Start.
	alertHandler func(context.Context, *rpc.AlertMessage) error
	zoneHandler  func(context.Context, *rpc.ZoneMessage) error
	zoneSource   func() []*types.DetectionZone

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates a node manager for the given identity.
func NewManager(cfg Config, retryMgr *retry.Manager, broker *events.Broker) *Manager {
	cfg = cfg.withDefaults()

	self := &types.Node{
		ID:           cfg.ID,
		Host:         cfg.Host,
		Port:         cfg.Port,
		Role:         cfg.Role,
		Status:       types.NodeStatusInactive,
		Capabilities: append([]string(nil), cfg.Capabilities...),
	}

	m := &Manager{
		cfg:    cfg,
		logger: log.WithComponent("node"),
		self:   self,
		nodes:  make(map[string]*types.Node),
		conns:  make(map[string]rpc.Conn),
		retry:  retryMgr,
		broker: broker,
		stopCh: make(chan struct{}),
	}
	m.dial = cfg.Dial
	if m.dial == nil {
		m.dial = func(target string) (rpc.Conn, error) {
			return rpc.Dial(target, cfg.TLS)
		}
	}
	return m
}

// OnAlert registers the handler invoked for every inbound alert delivery.
// Must be called before Start.
func (m *Manager) OnAlert(fn func(context.Context, *rpc.AlertMessage) error) {
	m.alertHandler = fn
}

// OnZone registers the handler invoked for every inbound zone snapshot.
// Must be called before Start.
func (m *Manager) OnZone(fn func(context.Context, *rpc.ZoneMessage) error) {
	m.zoneHandler = fn
}

// ZoneSource registers the supplier answering GetZones pulls. Must be
// called before Start.
func (m *Manager) ZoneSource(fn func() []*types.DetectionZone) {
	m.zoneSource = fn
}

// Start binds the coordinator RPC server, marks the local node active,
// contacts the configured seeds, and begins the heartbeat loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	now := time.Now()
	m.self.Status = types.NodeStatusActive
	m.self.LastHeartbeat = now
	m.self.JoinedAt = now
	m.nodes[m.self.ID] = m.self
	m.mu.Unlock()

	srv, err := rpc.NewServer(net.JoinHostPort("", strconv.Itoa(m.cfg.Port)), m, m.cfg.TLS)
	if err != nil {
		return fmt.Errorf("failed to start coordinator server: %w", err)
	}
	m.server = srv
	if m.cfg.Port == 0 {
		m.adoptListenPort(srv.Address())
	}
	go func() {
		if err := srv.Start(); err != nil {
			m.logger.Error().Err(err).Msg("Coordinator server stopped")
			metrics.UpdateComponent("rpc", false, err.Error())
		}
	}()
	metrics.UpdateComponent("rpc", true, "serving")

	m.joinSeeds(ctx)

	m.wg.Add(1)
	go m.heartbeatLoop()

	metrics.UpdateComponent("node", true, "membership active")
	m.logger.Info().
		Str("node_id", m.self.ID).
		Str("address", m.Address()).
		Int("seeds", len(m.cfg.Seeds)).
		Msg("Node manager started")
	return nil
}

// Stop cancels the heartbeat loop, closes all peer connections, and shuts
// the RPC server down gracefully.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	for id, conn := range m.conns {
		conn.Close() //nolint:errcheck
		delete(m.conns, id)
	}
	m.self.Status = types.NodeStatusInactive
	m.mu.Unlock()

	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.server.Shutdown(ctx)
	}

	metrics.UpdateComponent("node", false, "stopped")
	m.logger.Info().Str("node_id", m.self.ID).Msg("Node manager stopped")
	return nil
}

// adoptListenPort backfills the self port after binding ":0".
func (m *Manager) adoptListenPort(addr string) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.self.Port = port
	m.mu.Unlock()
}

// joinSeeds contacts each configured seed, retrying per seed, and merges
// the returned membership tables. A cluster with unreachable seeds starts
// standalone; that is not an error.
func (m *Manager) joinSeeds(ctx context.Context) {
	selfAddr := m.Address()
	req := &rpc.JoinRequest{Node: rpc.ToNodeInfo(m.Self())}

	for _, seed := range m.cfg.Seeds {
		if seed == selfAddr {
			continue
		}
		seed := seed
		err := m.retry.Do(ctx, "join_seed_"+seed, func(ctx context.Context) error {
			conn, err := m.dial(seed)
			if err != nil {
				return err
			}
			resp, err := conn.Join(ctx, req)
			if err != nil {
				conn.Close() //nolint:errcheck
				return err
			}
			m.mergeNodeInfos(resp.Nodes)
			m.cacheConnByAddress(seed, conn)
			return nil
		})
		if err != nil {
			metrics.RPCFailures.WithLabelValues("Join").Inc()
			m.logger.Warn().Err(err).Str("seed", seed).Msg("Seed unreachable, continuing without it")
		}
	}
}

// cacheConnByAddress files a live connection under the node id advertising
// the given address. Unmatched connections are closed.
func (m *Manager) cacheConnByAddress(addr string, conn rpc.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.nodes {
		if id == m.self.ID || n.Address() != addr {
			continue
		}
		if old, ok := m.conns[id]; ok {
			old.Close() //nolint:errcheck
		}
		m.conns[id] = conn
		return
	}
	conn.Close() //nolint:errcheck
}

// mergeNodeInfos applies a received membership table. Unknown nodes are
// added; known nodes take the newer of the two heartbeat timestamps and the
// state that came with it.
func (m *Manager) mergeNodeInfos(infos []rpc.NodeInfo) {
	var joined []*types.Node

	m.mu.Lock()
	for _, info := range infos {
		if info.ID == "" || info.ID == m.self.ID {
			continue
		}
		incoming := rpc.FromNodeInfo(info)
		existing, ok := m.nodes[incoming.ID]
		if !ok {
			m.nodes[incoming.ID] = incoming
			joined = append(joined, incoming.Clone())
			continue
		}
		if incoming.LastHeartbeat.After(existing.LastHeartbeat) {
			existing.LastHeartbeat = incoming.LastHeartbeat
			existing.Status = incoming.Status
			existing.Host = incoming.Host
			existing.Port = incoming.Port
			existing.Role = incoming.Role
			existing.Capabilities = append([]string(nil), incoming.Capabilities...)
		}
	}
	m.mu.Unlock()

	for _, n := range joined {
		m.logger.Info().Str("node_id", n.ID).Str("address", n.Address()).Msg("Node joined")
		m.broker.Publish(events.New(events.EventNodeJoined, "node joined the cluster", map[string]string{
			"node_id": n.ID,
			"address": n.Address(),
			"role":    string(n.Role),
		}))
	}
}

// Self returns a copy of the local node.
func (m *Manager) Self() *types.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self.Clone()
}

// ID returns the local node id.
func (m *Manager) ID() string {
	return m.cfg.ID
}

// Address returns the local node's advertised host:port.
func (m *Manager) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self.Address()
}

// Node returns a copy of the node with the given id.
func (m *Manager) Node(id string) (*types.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.Clone(), nil
}

// HasNode reports whether the id is in the membership table.
func (m *Manager) HasNode(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[id]
	return ok
}

// ListNodes returns a copy of the membership table sorted by node id.
func (m *Manager) ListNodes() []*types.Node {
	m.mu.RLock()
	out := make([]*types.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveNodes returns all nodes currently marked active, sorted by id.
func (m *Manager) ActiveNodes() []*types.Node {
	all := m.ListNodes()
	out := all[:0]
	for _, n := range all {
		if n.IsActive() {
			out = append(out, n)
		}
	}
	return out
}

// ActiveMembers filters ids down to those whose node is currently active.
// Order is preserved. Used for quorum arithmetic, so it counts self too.
func (m *Manager) ActiveMembers(ids []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := m.nodes[id]; ok && n.IsActive() {
			out = append(out, id)
		}
	}
	return out
}
