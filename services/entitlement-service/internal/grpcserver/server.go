// Package grpcserver exposes the standard gRPC health service, driven by the
// same dependency checks as /readyz.
package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/pharmagate/libs/grpcx"
	"github.com/md-rashed-zaman/pharmagate/libs/runtime"
)

// ServiceName is the health service key reported alongside the overall "" key.
const ServiceName = "pharmagate.entitlement.v1.EntitlementService"

type Server struct {
	srv    *grpc.Server
	health *health.Server
	logger *slog.Logger
	checks []runtime.ReadyCheck
}

func New(logger *slog.Logger, checks ...runtime.ReadyCheck) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcx.UnaryServerRequestIDInterceptor(),
			grpcx.UnaryServerLoggingInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	s := &Server{srv: srv, health: hs, logger: logger, checks: checks}
	s.setServing(false)
	return s
}

func (s *Server) setServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Refresh runs the readiness checks once and publishes the result.
func (s *Server) Refresh(ctx context.Context) {
	failures := runtime.RunChecks(ctx, 2*time.Second, s.checks...)
	if len(failures) > 0 {
		s.logger.Warn("grpc health not serving", "failures", failures)
	}
	s.setServing(len(failures) == 0)
}

// Serve listens on addr until ctx is done, refreshing health every interval.
func (s *Server) Serve(ctx context.Context, addr string, interval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis, interval)
}

func (s *Server) ServeListener(ctx context.Context, lis net.Listener, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.srv.GracefulStop()
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()

	s.logger.Info("grpc server starting", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	s.logger.Info("grpc server stopped")
	return nil
}
