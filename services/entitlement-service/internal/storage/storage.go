package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

// ErrStaleWrite is returned by UpdateUpgradeRequest when the stored status no
// longer matches the status the caller read.
var ErrStaleWrite = errors.New("stale write")

type PlanStore interface {
	GetPlan(ctx context.Context, name model.PlanName) (model.Plan, error)
	ListPlans(ctx context.Context) ([]model.Plan, error)
	SavePlan(ctx context.Context, p model.Plan) error
}

// TenantStore returns soft-deleted tenants too; filtering is the caller's decision.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	SaveTenant(ctx context.Context, t model.Tenant) error
}

type OverrideStore interface {
	GetOverride(ctx context.Context, tenantID string, c model.Capability) (model.Override, bool, error)
	ListOverrides(ctx context.Context, tenantID string) ([]model.Override, error)
	SaveOverride(ctx context.Context, o model.Override) error
	DeleteOverride(ctx context.Context, tenantID string, c model.Capability) error
	ListExpiredOverrides(ctx context.Context, now time.Time) ([]model.Override, error)
}

type UpgradeFilter struct {
	TenantID      string
	Statuses      []model.UpgradeStatus
	UpdatedBefore time.Time
	Limit         int
}

type UpgradeStore interface {
	CreateUpgradeRequest(ctx context.Context, r model.UpgradeRequest) error
	GetUpgradeRequest(ctx context.Context, id string) (model.UpgradeRequest, error)
	FindUpgradeByTransaction(ctx context.Context, transactionID string) (model.UpgradeRequest, error)
	ListUpgradeRequests(ctx context.Context, f UpgradeFilter) ([]model.UpgradeRequest, error)
	// UpdateUpgradeRequest writes r only if the stored status still equals expected.
	UpdateUpgradeRequest(ctx context.Context, r model.UpgradeRequest, expected model.UpgradeStatus) error
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e model.AuditLogEntry) error
	ListAudit(ctx context.Context, limit int) ([]model.AuditLogEntry, error)
}

// Store is the persistence collaborator: single-record atomicity, read-your-writes.
type Store interface {
	PlanStore
	TenantStore
	OverrideStore
	UpgradeStore
	AuditStore
	Ping(ctx context.Context) error
}

const defaultListLimit = 100

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return defaultListLimit
	}
	return limit
}
