package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc3 "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RelayService is the name reported by the health service for the relay itself.
// The empty name covers the whole server, as grpc_health_probe expects.
const RelayService = "chat.relay"

// HealthServer exposes grpc.health.v1 for orchestrators and load balancers.
type HealthServer struct {
	log    *slog.Logger
	server *grpc.Server
	health *health.Server
}

func NewHealthServer(log *slog.Logger) *HealthServer {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(log)))
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(RelayService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{log: log, server: s, health: h}
}

// SetServing flips both the server-wide and the relay status.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(RelayService, status)
}

// Serve blocks until the listener fails or Stop is called.
func (s *HealthServer) Serve(listener net.Listener) error {
	s.log.Info("Starting gRPC health server", "address", listener.Addr().String(), "at", time.Now().UTC())
	for name := range s.server.GetServiceInfo() {
		s.log.Debug("gRPC exposed service", "name", name)
	}
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server error: %w", err)
	}
	return nil
}

// Stop reports NOT_SERVING to watchers before draining in-flight calls.
// A drain longer than ctx allows ends with a hard stop.
func (s *HealthServer) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("gRPC graceful stop timed out, forcing")
		s.server.Stop()
	}
}
