package jobs

import (
	"context"
	"time"
)

type OverrideSweeper interface {
	SweepExpiredOverrides(ctx context.Context) (int, error)
}

type UpgradeSweeper interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
	ReconcilePayments(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type Config struct {
	OverrideSweepSpec    string
	StaleUpgradesSpec    string
	StaleAfter           time.Duration
	PaymentReconcileSpec string
	ReconcileAfter       time.Duration
	ReconcileBatch       int
}

func DefaultConfig() Config {
	return Config{
		OverrideSweepSpec:    "@every 5m",
		StaleUpgradesSpec:    "@hourly",
		StaleAfter:           24 * time.Hour,
		PaymentReconcileSpec: "@every 2m",
		ReconcileAfter:       5 * time.Minute,
		ReconcileBatch:       50,
	}
}

// Register adds the override expiry, stale upgrade, and payment reconcile sweeps.
func Register(s *Scheduler, cfg Config, overrides OverrideSweeper, upgrades UpgradeSweeper) error {
	jobs := []Job{
		{
			Name: "override_expiry",
			Spec: cfg.OverrideSweepSpec,
			Run:  overrides.SweepExpiredOverrides,
		},
		{
			Name: "stale_upgrades",
			Spec: cfg.StaleUpgradesSpec,
			Run: func(ctx context.Context) (int, error) {
				return upgrades.ExpireStale(ctx, cfg.StaleAfter)
			},
		},
		{
			Name:    "payment_reconcile",
			Spec:    cfg.PaymentReconcileSpec,
			Timeout: 10 * time.Minute,
			Run: func(ctx context.Context) (int, error) {
				return upgrades.ReconcilePayments(ctx, cfg.ReconcileAfter, cfg.ReconcileBatch)
			},
		},
	}
	for _, j := range jobs {
		if err := s.Add(j); err != nil {
			return err
		}
	}
	return nil
}
