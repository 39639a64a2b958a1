// Package entitlements decides whether a tenant may use a capability and
// meters quota-bound capabilities.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/pharmagate/libs/otel"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/capability"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/metrics"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/notify"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/quota"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
)

type TenantReader interface {
	Get(ctx context.Context, id string) (model.Tenant, error)
}

type PlanReader interface {
	GetPlan(ctx context.Context, name model.PlanName) (model.Plan, error)
	PlansGranting(ctx context.Context, c model.Capability) ([]model.PlanName, error)
}

type Reason string

const (
	ReasonSuperAdmin       Reason = "super_admin"
	ReasonUnlimitedPlan    Reason = "unlimited_plan"
	ReasonOverrideEnabled  Reason = "override_enabled"
	ReasonOverrideDisabled Reason = "override_disabled"
	ReasonPlanGrant        Reason = "plan_grant"
	ReasonNotInPlan        Reason = "not_in_plan"
	ReasonPlanMissing      Reason = "plan_missing"
)

// Decision explains an access result. UpgradeRequired is set when the
// capability is denied but some plan would grant it.
type Decision struct {
	TenantID        string           `json:"tenant_id"`
	Capability      model.Capability `json:"capability"`
	Allowed         bool             `json:"allowed"`
	Reason          Reason           `json:"reason"`
	Plan            model.PlanName   `json:"plan"`
	Override        *model.Override  `json:"override,omitempty"`
	RequiredPlans   []model.PlanName `json:"required_plans,omitempty"`
	UpgradeRequired bool             `json:"upgrade_required"`
	// PlanExpired is informational; an expired paid period does not change the result.
	PlanExpired bool `json:"plan_expired,omitempty"`
}

type Deps struct {
	Capabilities *capability.Registry
	Tenants      TenantReader
	Plans        PlanReader
	Overrides    storage.OverrideStore
	Counter      quota.Counter
	Audit        *audit.Recorder
	Notifier     notify.Notifier
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type Engine struct {
	caps      *capability.Registry
	tenants   TenantReader
	plans     PlanReader
	overrides storage.OverrideStore
	counter   quota.Counter
	audit     *audit.Recorder
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewEngine(d Deps) *Engine {
	if d.Notifier == nil {
		d.Notifier = notify.Discard{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Engine{
		caps:      d.Capabilities,
		tenants:   d.Tenants,
		plans:     d.Plans,
		overrides: d.Overrides,
		counter:   d.Counter,
		audit:     d.Audit,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		logger:    d.Logger,
		tracer:    otelx.Tracer("entitlements"),
		now:       time.Now,
	}
}

// CheckAccess reports whether tenant may use c right now. It never mutates
// state. A false result is a normal outcome, not an error.
func (e *Engine) CheckAccess(ctx context.Context, tenant model.Tenant, c model.Capability) (bool, error) {
	d, err := e.Explain(ctx, tenant, c)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

func (e *Engine) CheckAccessByID(ctx context.Context, tenantID string, c model.Capability) (bool, error) {
	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return e.CheckAccess(ctx, t, c)
}

func (e *Engine) ExplainByID(ctx context.Context, tenantID string, c model.Capability) (Decision, error) {
	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}
	return e.Explain(ctx, t, c)
}

func (e *Engine) Explain(ctx context.Context, tenant model.Tenant, c model.Capability) (Decision, error) {
	ctx, span := e.tracer.Start(ctx, "entitlements.Explain", trace.WithAttributes(
		attribute.String("tenant.id", tenant.ID),
		attribute.String("capability", string(c)),
	))
	defer span.End()
	defer e.metrics.Time("explain")()

	d, _, err := e.decide(ctx, tenant, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.String("reason", string(d.Reason)))
	e.metrics.ObserveAccess(string(c), result(d.Allowed), string(d.Reason))
	return d, nil
}

// decide applies, in order: super-admin bypass, unlimited plan bypass, plan
// grant, then an active override which wins over the plan either way.
// The plan is returned when one was resolved.
func (e *Engine) decide(ctx context.Context, tenant model.Tenant, c model.Capability) (Decision, *model.Plan, error) {
	if _, err := e.caps.Require(c); err != nil {
		return Decision{}, nil, err
	}
	if tenant.Deleted() {
		return Decision{}, nil, fmt.Errorf("tenant %q: %w", tenant.ID, model.ErrNotFound)
	}

	d := Decision{TenantID: tenant.ID, Capability: c, Plan: tenant.Plan}
	if tenant.Role == model.RoleSuperAdmin {
		d.Allowed, d.Reason = true, ReasonSuperAdmin
		return d, nil, nil
	}

	now := e.now()
	d.PlanExpired = tenant.PlanExpired(now)
	var plan *model.Plan
	planGrants := false
	d.Reason = ReasonNotInPlan

	p, err := e.plans.GetPlan(ctx, tenant.Plan)
	switch {
	case errors.Is(err, model.ErrNotFound):
		d.Reason = ReasonPlanMissing
		e.logger.Warn("tenant references unknown plan", "tenant_id", tenant.ID, "plan", string(tenant.Plan))
	case err != nil:
		return Decision{}, nil, err
	default:
		plan = &p
		if p.Unlimited {
			d.Allowed, d.Reason = true, ReasonUnlimitedPlan
			return d, plan, nil
		}
		if p.Grants(c) {
			planGrants = true
			d.Reason = ReasonPlanGrant
		}
	}

	o, found, err := e.overrides.GetOverride(ctx, tenant.ID, c)
	if err != nil {
		return Decision{}, nil, err
	}
	enabledOverride, disabledOverride := false, false
	if found && o.ActiveAt(now) {
		d.Override = &o
		if o.Enabled {
			enabledOverride = true
			d.Reason = ReasonOverrideEnabled
		} else {
			disabledOverride = true
			d.Reason = ReasonOverrideDisabled
		}
	}

	d.Allowed = (planGrants || enabledOverride) && !disabledOverride
	if !d.Allowed {
		required, err := e.plans.PlansGranting(ctx, c)
		if err != nil {
			return Decision{}, nil, err
		}
		d.RequiredPlans = required
		d.UpgradeRequired = !disabledOverride && len(required) > 0
	}
	return d, plan, nil
}

func result(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
