package entitlements

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/quota"
)

// QuotaResult is the outcome of a quota read or consume. Exhaustion is
// Allowed=false with Remaining=0. Unlimited results carry no counters.
type QuotaResult struct {
	Allowed   bool       `json:"allowed"`
	Unlimited bool       `json:"unlimited"`
	Limit     int64      `json:"limit"`
	Used      int64      `json:"used"`
	Remaining int64      `json:"remaining"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
	Reason    Reason     `json:"reason"`
}

type meter struct {
	unlimited bool
	limit     int64
	key       string
	resetAt   time.Time
}

// ConsumeQuota checks access and then takes one unit of the tenant's daily
// allowance for c. Capabilities that are not quota bound are unlimited once
// access is granted.
func (e *Engine) ConsumeQuota(ctx context.Context, tenant model.Tenant, c model.Capability) (QuotaResult, error) {
	ctx, span := e.tracer.Start(ctx, "entitlements.ConsumeQuota", trace.WithAttributes(
		attribute.String("tenant.id", tenant.ID),
		attribute.String("capability", string(c)),
	))
	defer span.End()
	defer e.metrics.Time("consume_quota")()

	d, m, err := e.meterFor(ctx, tenant, c)
	if err != nil {
		span.RecordError(err)
		return QuotaResult{}, err
	}
	if !d.Allowed {
		e.metrics.ObserveQuota(string(c), "denied")
		return QuotaResult{Allowed: false, Remaining: 0, Reason: d.Reason}, nil
	}
	if m.unlimited {
		e.metrics.ObserveQuota(string(c), "unlimited")
		return QuotaResult{Allowed: true, Unlimited: true, Reason: d.Reason}, nil
	}

	resetAt := m.resetAt
	used, ok, err := e.counter.Consume(ctx, m.key, m.limit, resetAt)
	if err != nil {
		span.RecordError(err)
		return QuotaResult{}, fmt.Errorf("consume quota %s/%s: %w", tenant.ID, c, err)
	}
	res := QuotaResult{
		Allowed:   ok,
		Limit:     m.limit,
		Used:      used,
		Remaining: max(0, m.limit-used),
		ResetAt:   &resetAt,
		Reason:    d.Reason,
	}
	if !ok {
		res.Remaining = 0
		e.metrics.ObserveQuota(string(c), "exhausted")
	} else {
		e.metrics.ObserveQuota(string(c), "consumed")
	}
	span.SetAttributes(attribute.Bool("allowed", ok), attribute.Int64("remaining", res.Remaining))
	return res, nil
}

// QuotaStatus reports the remaining allowance without consuming any.
func (e *Engine) QuotaStatus(ctx context.Context, tenant model.Tenant, c model.Capability) (QuotaResult, error) {
	d, m, err := e.meterFor(ctx, tenant, c)
	if err != nil {
		return QuotaResult{}, err
	}
	if !d.Allowed {
		return QuotaResult{Allowed: false, Reason: d.Reason}, nil
	}
	if m.unlimited {
		return QuotaResult{Allowed: true, Unlimited: true, Reason: d.Reason}, nil
	}
	used, err := e.counter.Used(ctx, m.key)
	if err != nil {
		return QuotaResult{}, fmt.Errorf("read quota %s/%s: %w", tenant.ID, c, err)
	}
	resetAt := m.resetAt
	remaining := max(0, m.limit-used)
	return QuotaResult{
		Allowed:   remaining > 0,
		Limit:     m.limit,
		Used:      used,
		Remaining: remaining,
		ResetAt:   &resetAt,
		Reason:    d.Reason,
	}, nil
}

func (e *Engine) meterFor(ctx context.Context, tenant model.Tenant, c model.Capability) (Decision, meter, error) {
	d, plan, err := e.decide(ctx, tenant, c)
	if err != nil {
		return Decision{}, meter{}, err
	}
	if !d.Allowed {
		return d, meter{}, nil
	}
	info, _ := e.caps.Lookup(c)
	if !info.QuotaBound || d.Reason == ReasonSuperAdmin || d.Reason == ReasonUnlimitedPlan {
		return d, meter{unlimited: true}, nil
	}

	limit := info.DefaultDailyLimit
	if plan != nil {
		if l, ok := plan.QuotaFor(c); ok {
			limit = l
		}
	}
	if limit < 0 {
		return d, meter{unlimited: true}, nil
	}

	day, resetAt := quota.DailyWindow(e.now(), tenant.Location())
	return d, meter{limit: limit, key: quota.Key(tenant.ID, c, day), resetAt: resetAt}, nil
}

func (e *Engine) ConsumeQuotaByID(ctx context.Context, tenantID string, c model.Capability) (QuotaResult, error) {
	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return QuotaResult{}, err
	}
	return e.ConsumeQuota(ctx, t, c)
}

func (e *Engine) QuotaStatusByID(ctx context.Context, tenantID string, c model.Capability) (QuotaResult, error) {
	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return QuotaResult{}, err
	}
	return e.QuotaStatus(ctx, t, c)
}
