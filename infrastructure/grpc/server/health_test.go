package server

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startHealthServer(t *testing.T) (*HealthServer, healthpb.HealthClient) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewHealthServer(log)
	go func() { _ = s.Serve(listener) }()

	conn, err := grpc.NewClient(listener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, healthpb.NewHealthClient(conn)
}

func TestHealthServer_StatusFollowsSetServing(t *testing.T) {
	req := require.New(t)
	s, client := startHealthServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Given a server that has not been marked ready
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: RelayService})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	// When the relay becomes ready
	s.SetServing(true)

	// Then both the relay and the server-wide status are serving
	for _, service := range []string{"", RelayService} {
		resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		req.NoError(err)
		req.Equal(healthpb.HealthCheckResponse_SERVING, resp.Status)
	}

	// When the relay degrades
	s.SetServing(false)

	// Then it is reported again
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: RelayService})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestHealthServer_UnknownServiceIsNotFound(t *testing.T) {
	req := require.New(t)
	_, client := startHealthServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "billing"})
	req.Error(err)
}
