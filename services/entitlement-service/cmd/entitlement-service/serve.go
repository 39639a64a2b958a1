package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/pharmagate/libs/httpx"
	otelx "github.com/md-rashed-zaman/pharmagate/libs/otel"
	"github.com/md-rashed-zaman/pharmagate/libs/runtime"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/grpcserver"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/handlers"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, gRPC health server and scheduled sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()
	if parent != nil {
		go func() {
			select {
			case <-parent.Done():
				stop()
			case <-ctx.Done():
			}
		}()
	}

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service, Version))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := runtime.ShutdownContext(5 * time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	mux := runtime.NewBaseMuxWithReady(a.checks...)
	mux.Handle("GET /metrics", a.metrics.Handler())
	h := handlers.New(handlers.Deps{
		Engine:   a.engine,
		Plans:    a.plans,
		Tenants:  a.tenants,
		Upgrades: a.upgrades,
		Audit:    a.audit,
		Logger:   logger,
	}, handlers.Config{
		JWTSecret:                     cfg.JWTSecret,
		StripeWebhookSecret:           cfg.StripeWebhookSecret,
		StripeWebhookToleranceSeconds: cfg.StripeWebhookTolerance,
	})
	h.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(30*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "entitlement")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler := jobs.NewScheduler(logger)
	if err := jobs.Register(scheduler, cfg.Jobs, a.engine, a.upgrades); err != nil {
		return err
	}
	grpcSrv := grpcserver.New(logger, a.checks...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := runtime.ShutdownContext(10 * time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		logger.Info("http server stopped")
		return nil
	})
	g.Go(func() error {
		return grpcSrv.Serve(gctx, ":"+cfg.GRPCPort, 10*time.Second)
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	if a.kafka != nil {
		g.Go(func() error {
			a.kafka.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}
