package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weiawesome/peace-chat/pkg/log"
)

// ServiceName is the health service name reported alongside the overall "" entry.
const ServiceName = "peacechat.Relay"

// Server exposes the standard gRPC health service for the relay.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
}

// NewServer listens on addr and registers the health service. Serve must be
// called to start accepting connections.
func NewServer(addr string, logger zerolog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return newServer(lis, logger), nil
}

func newServer(lis net.Listener, logger zerolog.Logger) *Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	return &Server{srv: s, health: hs, lis: lis}
}

// Addr is the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Serve blocks until Stop is called.
func (s *Server) Serve() error {
	l := log.L()
	l.Info().Str("address", s.lis.Addr().String()).Msg("grpc health server listening")
	if err := s.srv.Serve(s.lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop reports NOT_SERVING to watchers and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
