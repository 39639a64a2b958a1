package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/pharmagate/libs/db"
	"github.com/md-rashed-zaman/pharmagate/libs/kafkax"
	"github.com/md-rashed-zaman/pharmagate/libs/runtime"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/capability"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/entitlements"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/lock"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/metrics"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/notify"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/payment"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/plans"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/quota"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/tenants"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/upgrades"
)

// app holds the wired components. close releases pools and clients in
// reverse order of construction.
type app struct {
	metrics  *metrics.Metrics
	store    storage.Store
	audit    *audit.Recorder
	plans    *plans.Registry
	tenants  *tenants.Directory
	engine   *entitlements.Engine
	upgrades *upgrades.Workflow
	kafka    *notify.KafkaNotifier
	checks   []runtime.ReadyCheck
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg serviceConfig, logger *slog.Logger) (*app, error) {
	a := &app{metrics: metrics.New()}
	caps := capability.Default()

	switch cfg.StorageDriver {
	case "postgres":
		if cfg.AutoMigrate {
			applied, err := db.Migrate(cfg.DatabaseURL, storage.Migrations, storage.MigrationsDir, db.MigrateUp)
			if err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("database migrations checked", "applied", applied)
		}
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
		if err != nil {
			return nil, fmt.Errorf("db connection failed: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.store = storage.NewPostgresStore(pool)
		a.checks = append(a.checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	default:
		logger.Warn("using in-memory storage; state is lost on restart")
		a.store = storage.NewMemoryStore()
	}

	var (
		counter quota.Counter = quota.NewMemoryCounter(nil)
		locker  lock.Locker   = lock.NewKeyedMutex()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		counter = quota.NewRedisCounter(rdb)
		locker = lock.NewRedisLocker(rdb, 0, logger)
		a.checks = append(a.checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		logger.Warn("REDIS_ADDR not set; quota counters and locks are process-local")
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.KafkaBrokers != "" {
		a.kafka = notify.NewKafkaNotifier(notify.KafkaConfig{Brokers: cfg.KafkaBrokers}, logger, a.metrics)
		notifier = a.kafka
		a.checks = append(a.checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	var gateway payment.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; using simulated payment gateway")
		gateway = payment.NewSimulatedGateway(cfg.SimulatedSettleAfter)
	}

	a.audit = audit.NewRecorder(a.store, logger)
	a.plans = plans.NewRegistry(a.store, caps, a.audit, notifier, logger)
	catalog, err := plans.LoadCatalog(cfg.PlanCatalogPath, caps)
	if err != nil {
		a.close()
		return nil, err
	}
	seeded, err := a.plans.Seed(ctx, catalog)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("seed plans: %w", err)
	}
	logger.Info("plan catalog loaded", "plans", len(catalog), "seeded", seeded)

	a.tenants = tenants.NewDirectory(a.store, a.audit, locker, logger)
	a.engine = entitlements.NewEngine(entitlements.Deps{
		Capabilities: caps,
		Tenants:      a.tenants,
		Plans:        a.plans,
		Overrides:    a.store,
		Counter:      counter,
		Audit:        a.audit,
		Notifier:     notifier,
		Metrics:      a.metrics,
		Logger:       logger,
	})
	a.upgrades = upgrades.New(upgrades.Deps{
		Store:    a.store,
		Tenants:  a.tenants,
		Plans:    a.plans,
		Gateway:  gateway,
		Poller:   payment.NewPoller(gateway, cfg.PaymentPollTimeout, logger),
		Locker:   locker,
		Audit:    a.audit,
		Notifier: notifier,
		Metrics:  a.metrics,
		Logger:   logger,
		Currency: cfg.PaymentCurrency,
	})
	return a, nil
}
