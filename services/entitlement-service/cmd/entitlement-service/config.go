package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/pharmagate/libs/config"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/jobs"
)

type serviceConfig struct {
	Service  string
	Port     string
	GRPCPort string

	StorageDriver string
	DatabaseURL   string
	AutoMigrate   bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers string

	StripeSecretKey        string
	StripeWebhookSecret    string
	StripeWebhookTolerance int
	PaymentCurrency        string
	PaymentPollTimeout     time.Duration
	SimulatedSettleAfter   time.Duration

	JWTSecret       string
	PlanCatalogPath string
	Jobs            jobs.Config
}

func loadConfig() (serviceConfig, error) {
	var (
		cfg  serviceConfig
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intVar := func(key string, fallback int) int {
		v, err := config.Int(key, fallback)
		collect(err)
		return v
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		v, err := config.Duration(key, fallback)
		collect(err)
		return v
	}

	cfg.Service = config.String("SERVICE_NAME", "entitlement-service")
	port, err := config.Port("PORT", "8085")
	collect(err)
	cfg.Port = port
	grpcPort, err := config.Port("GRPC_PORT", "9095")
	collect(err)
	cfg.GRPCPort = grpcPort

	cfg.StorageDriver = strings.ToLower(config.String("STORAGE_DRIVER", "memory"))
	cfg.DatabaseURL = config.String("DATABASE_URL", "")
	cfg.AutoMigrate = config.Bool("AUTO_MIGRATE", true)
	switch cfg.StorageDriver {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			collect(fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=postgres"))
		}
	default:
		collect(fmt.Errorf("STORAGE_DRIVER must be memory or postgres (got %q)", cfg.StorageDriver))
	}

	cfg.RedisAddr = config.String("REDIS_ADDR", "")
	cfg.RedisPassword = config.String("REDIS_PASSWORD", "")
	cfg.RedisDB = intVar("REDIS_DB", 0)
	cfg.KafkaBrokers = config.String("KAFKA_BROKERS", "")

	cfg.StripeSecretKey = strings.TrimSpace(config.String("STRIPE_SECRET_KEY", ""))
	cfg.StripeWebhookSecret = config.String("STRIPE_WEBHOOK_SECRET", "")
	cfg.StripeWebhookTolerance = intVar("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)
	cfg.PaymentCurrency = strings.ToLower(config.String("PAYMENT_CURRENCY", "usd"))
	cfg.PaymentPollTimeout = durationVar("PAYMENT_POLL_TIMEOUT", 10*time.Second)
	cfg.SimulatedSettleAfter = durationVar("PAYMENT_SIMULATED_SETTLE_AFTER", 2*time.Second)

	cfg.JWTSecret = config.String("AUTH_JWT_SECRET", "")
	cfg.PlanCatalogPath = config.String("PLAN_CATALOG_PATH", "")

	defaults := jobs.DefaultConfig()
	cfg.Jobs = jobs.Config{
		OverrideSweepSpec:    config.String("OVERRIDE_SWEEP_SCHEDULE", defaults.OverrideSweepSpec),
		StaleUpgradesSpec:    config.String("UPGRADE_SWEEP_SCHEDULE", defaults.StaleUpgradesSpec),
		StaleAfter:           durationVar("UPGRADE_STALE_AFTER", defaults.StaleAfter),
		PaymentReconcileSpec: config.String("PAYMENT_RECONCILE_SCHEDULE", defaults.PaymentReconcileSpec),
		ReconcileAfter:       durationVar("PAYMENT_RECONCILE_AFTER", defaults.ReconcileAfter),
		ReconcileBatch:       intVar("PAYMENT_RECONCILE_BATCH_SIZE", defaults.ReconcileBatch),
	}
	if !config.Bool("JOBS_ENABLED", true) {
		cfg.Jobs.OverrideSweepSpec, cfg.Jobs.StaleUpgradesSpec, cfg.Jobs.PaymentReconcileSpec = "", "", ""
	}

	if len(errs) > 0 {
		return serviceConfig{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}
