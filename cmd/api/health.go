package main

import (
	"fmt"

	"github.com/PaulBabatuyi/marketChat/internal/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthCheckMethod is rate limited per caller address.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// newHealthServer builds the gRPC server exposing grpc.health.v1.Health.
// The returned health server starts NOT_SERVING; main flips it once the
// store is reachable.
func newHealthServer(cfg Config, limiter *middleware.LimiterStore) (*grpc.Server, *health.Server, error) {
	var serverOpts []grpc.ServerOption

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(
		middleware.RateLimitUnaryInterceptor(limiter, map[string]bool{healthCheckMethod: true}),
	))

	s := grpc.NewServer(serverOpts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs, nil
}
