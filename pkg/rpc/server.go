package rpc

import (
	"context"
	"fmt"
	"net"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cordonsec/vigil/pkg/log"
)

// Server wraps the coordinator gRPC server and its lifecycle helpers.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	health     *health.Server
	logger     zerolog.Logger
}

// NewServer binds a listener on addr and registers the coordinator service.
// The listener opens immediately so callers can bind ":0" in tests and read
// the chosen port back from Address.
func NewServer(addr string, handler CoordinatorServer, tlsCfg *TLSConfig, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	}
	if tlsCfg.Enabled() {
		creds, err := tlsCfg.ServerCredentials()
		if err != nil {
			lis.Close()
			return nil, fmt.Errorf("server TLS: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	RegisterCoordinatorServer(grpcServer, handler)
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	return &Server{
		grpcServer: grpcServer,
		listener:   lis,
		health:     healthSrv,
		logger:     log.WithComponent("rpc"),
	}, nil
}

// Start serves coordinator requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.Address()).Msg("Coordinator RPC server listening")
	return s.grpcServer.Serve(s.listener)
}

// Shutdown drains in-flight requests, falling back to a hard stop when the
// context expires first.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn().Msg("Graceful stop timed out, forcing RPC server shutdown")
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address returns the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
