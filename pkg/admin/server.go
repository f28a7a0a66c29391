package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cordonsec/vigil/pkg/log"
	"github.com/cordonsec/vigil/pkg/metrics"
	"github.com/cordonsec/vigil/pkg/recovery"
	"github.com/cordonsec/vigil/pkg/types"
	"github.com/cordonsec/vigil/pkg/zone"
)

// NodeDirectory is the membership view served by the API.
type NodeDirectory interface {
	Self() *types.Node
	ListNodes() []*types.Node
}

// ZoneAdmin covers zone CRUD plus the diagnostic update log. Mutations go
// through the same path as RPC so validation and broadcast behave alike.
type ZoneAdmin interface {
	CreateZone(ctx context.Context, z *types.DetectionZone) error
	UpdateZone(ctx context.Context, z *types.DetectionZone) error
	DeleteZone(ctx context.Context, id string) error
	GetZone(id string) (*types.DetectionZone, error)
	ListZones() []*types.DetectionZone
	UpdateLog() []zone.UpdateRecord
}

// ConsensusStatus exposes in-flight voting state.
type ConsensusStatus interface {
	Pending() int
}

// RecoveryStatus exposes the recovery backlog.
type RecoveryStatus interface {
	FailedNodes() []recovery.FailedNode
	InconsistentZones() []recovery.InconsistentZone
}

// DetectionRunner feeds measurements into the distributed detection flow.
// The detector satisfies it; nil disables the endpoint.
type DetectionRunner interface {
	Detect(ctx context.Context, m types.Measurements) (*types.AnomalyAlert, *types.ConsensusResult, error)
}

// Config holds admin server configuration.
type Config struct {
	Address string
	Version string
}

// Server is the local HTTP admin API. It serves health probes, Prometheus
// metrics and the operator endpoints under /v1.
type Server struct {
	cfg      Config
	nodes    NodeDirectory
	zones    ZoneAdmin
	rounds   ConsensusStatus
	recovery RecoveryStatus
	detector DetectionRunner
	logger   zerolog.Logger

	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time
}

// NewServer creates the admin server and registers its routes. det may be
// nil, in which case /v1/detect reports the capability as unavailable.
func NewServer(cfg Config, nodes NodeDirectory, zones ZoneAdmin, rounds ConsensusStatus, rec RecoveryStatus, det DetectionRunner) *Server {
	s := &Server{
		cfg:       cfg,
		nodes:     nodes,
		zones:     zones,
		rounds:    rounds,
		recovery:  rec,
		detector:  det,
		logger:    log.WithComponent("admin"),
		startedAt: time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/nodes", s.handleListNodes).Methods(http.MethodGet)
	r.HandleFunc("/v1/zones", s.handleListZones).Methods(http.MethodGet)
	r.HandleFunc("/v1/zones", s.handleCreateZone).Methods(http.MethodPost)
	r.HandleFunc("/v1/zones/{id}", s.handleGetZone).Methods(http.MethodGet)
	r.HandleFunc("/v1/zones/{id}", s.handleUpdateZone).Methods(http.MethodPut)
	r.HandleFunc("/v1/zones/{id}", s.handleDeleteZone).Methods(http.MethodDelete)
	r.HandleFunc("/v1/updates", s.handleUpdateLog).Methods(http.MethodGet)
	r.HandleFunc("/v1/detect", s.handleDetect).Methods(http.MethodPost)
	s.router = r

	return s
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		// A detect request can carry a full consensus round (10s window).
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Admin server stopped")
		}
	}()

	s.logger.Info().Str("address", ln.Addr().String()).Msg("Admin API listening")
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Address
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
