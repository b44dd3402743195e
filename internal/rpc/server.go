// Package rpc serves the standard gRPC health service so orchestrators can
// probe the same dependencies as the HTTP readiness endpoint.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aiox-platform/recall/internal/config"
)

// DefaultCheckInterval is how often dependency checks are re-run.
const DefaultCheckInterval = 10 * time.Second

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server is a gRPC server exposing grpc.health.v1.Health. Every check is
// published as its own service name; the empty service name reflects all of
// them.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	addr     string
	checks   map[string]Check
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a Server. An empty cfg.APIKey disables authentication.
func NewServer(cfg config.GRPCConfig, checks map[string]Check, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryAuthInterceptor(cfg.APIKey)),
		grpc.StreamInterceptor(StreamAuthInterceptor(cfg.APIKey)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		grpc:     srv,
		health:   hs,
		addr:     cfg.Addr(),
		checks:   checks,
		interval: DefaultCheckInterval,
		logger:   logger,
	}
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.refresh(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting gRPC server", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		case <-ticker.C:
			s.refresh(ctx)
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			s.logger.Info("gRPC server stopped")
			return nil
		}
	}
}

// refresh runs every check and publishes the result.
func (s *Server) refresh(ctx context.Context) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		st := healthpb.HealthCheckResponse_SERVING
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
			overall = st
		}
		s.health.SetServingStatus(name, st)
	}
	s.health.SetServingStatus("", overall)
}
