package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/middleware"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func TestHealthServer(t *testing.T) {
	req := require.New(t)
	limiter := middleware.NewLimiterStore(60, 2, time.Minute)
	defer limiter.Stop()

	s, hs, err := newHealthServer(Config{}, limiter)
	req.NoError(err)

	lis := bufconn.Listen(bufSize)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	req.NoError(err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	// Burst is 2, so the third call in a row is rejected.
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	req.Equal(codes.ResourceExhausted, status.Code(err))
}
