package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/auth"
	"github.com/PaulBabatuyi/marketChat/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing store")
		_ = st.close(context.Background())
	}()

	// Tokens signed with JWT_KEYS support rotation; JWT_SECRET is the
	// single-key fallback.
	var jwtMgr *auth.JWTManager
	if cfg.JWTKeys != "" {
		keys, err := parseJWTKeys(cfg.JWTKeys)
		if err != nil {
			return err
		}
		jwtMgr = auth.NewJWTManagerFromKeys(keys, cfg.JWTActiveKid, cfg.AuthTokenDuration)
	} else {
		jwtMgr = auth.NewJWTManager(cfg.JWTSecret, cfg.AuthTokenDuration)
	}

	// Small burst lets a client retry a couple of times quickly.
	authLimiter := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	defer authLimiter.Stop()
	sendLimiter := middleware.NewLimiterStore(cfg.SendRateLimitRPM, 20, time.Minute)
	defer sendLimiter.Stop()
	// Probes poll often; they get their own budget so they never compete
	// with logins.
	healthLimiter := middleware.NewLimiterStore(cfg.HealthRateLimitRPM, 30, time.Minute)
	defer healthLimiter.Stop()

	srv := newServer(serverOptions{
		Users:    st.users,
		Messages: st.msgs,
		Auth:     jwtMgr,
		AuthRate: authLimiter,
		SendRate: sendLimiter,
		Origins:  cfg.origins(),
		Egress:   cfg.EgressBufferSize,
		Log:      log,
	})

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     srv.routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	if err := st.ping(ctx); err != nil {
		return fmt.Errorf("store not reachable: %w", err)
	}

	grpcServer, healthServer, err := newHealthServer(cfg, healthLimiter)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on %d: %w", cfg.GRPCPort, err)
	}

	errChan := make(chan error, 2)
	go func() {
		log.Info("HTTP server listening", "address", httpServer.Addr, "tls", cfg.TLSCert != "")
		var err error
		if cfg.TLSCert != "" {
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	go func() {
		log.Info("gRPC health server listening", "address", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-errChan:
		return err
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", "error", err)
	}
	grpcServer.GracefulStop()
	log.Info("program stopped cleanly")
	return nil
}
