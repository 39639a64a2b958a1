package entitlements

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/capability"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/notify"
)

type OverrideInput struct {
	TenantID   string
	Capability model.Capability
	Enabled    bool
	StartsAt   *time.Time
	ExpiresAt  *time.Time
	Reason     string
}

func (e *Engine) Capabilities() []capability.Info {
	return e.caps.All()
}

// SetOverride creates or replaces the override for (tenant, capability).
func (e *Engine) SetOverride(ctx context.Context, in OverrideInput) (model.Override, error) {
	if _, err := e.caps.Require(in.Capability); err != nil {
		return model.Override{}, err
	}
	if in.StartsAt != nil && in.ExpiresAt != nil && !in.ExpiresAt.After(*in.StartsAt) {
		return model.Override{}, fmt.Errorf("%w: expires_at must be after starts_at", model.ErrValidation)
	}
	if _, err := e.tenants.Get(ctx, in.TenantID); err != nil {
		return model.Override{}, err
	}

	prev, existed, err := e.overrides.GetOverride(ctx, in.TenantID, in.Capability)
	if err != nil {
		return model.Override{}, err
	}
	o := model.Override{
		TenantID:   in.TenantID,
		Capability: in.Capability,
		Enabled:    in.Enabled,
		StartsAt:   utcPtr(in.StartsAt),
		ExpiresAt:  utcPtr(in.ExpiresAt),
		Reason:     strings.TrimSpace(in.Reason),
		CreatedBy:  audit.ActorFromContext(ctx),
		CreatedAt:  e.now().UTC(),
	}
	if err := e.overrides.SaveOverride(ctx, o); err != nil {
		return model.Override{}, fmt.Errorf("save override: %w", err)
	}

	entry := audit.Entry{
		Entity:    "tenant_feature_override",
		RecordID:  in.TenantID + "/" + string(in.Capability),
		Operation: "set",
		Severity:  model.SeverityWarning,
		After:     o,
	}
	if existed {
		entry.Before = prev
	}
	e.audit.Record(ctx, entry)

	verb := "disabled"
	if o.Enabled {
		verb = "enabled"
	}
	e.notifier.Notify(ctx, notify.NewEvent(notify.EventOverrideChanged, in.TenantID,
		"Feature access changed",
		fmt.Sprintf("%s was %s for your account", in.Capability, verb),
		map[string]any{"capability": string(in.Capability), "enabled": o.Enabled, "expires_at": o.ExpiresAt}))
	return o, nil
}

func (e *Engine) RemoveOverride(ctx context.Context, tenantID string, c model.Capability) error {
	if _, err := e.caps.Require(c); err != nil {
		return err
	}
	prev, found, err := e.overrides.GetOverride(ctx, tenantID, c)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("override %s/%s: %w", tenantID, c, model.ErrNotFound)
	}
	if err := e.overrides.DeleteOverride(ctx, tenantID, c); err != nil {
		return err
	}
	e.audit.Record(ctx, audit.Entry{
		Entity:    "tenant_feature_override",
		RecordID:  tenantID + "/" + string(c),
		Operation: "remove",
		Severity:  model.SeverityWarning,
		Before:    prev,
	})
	e.notifier.Notify(ctx, notify.NewEvent(notify.EventOverrideChanged, tenantID,
		"Feature access changed",
		fmt.Sprintf("%s now follows your plan", c),
		map[string]any{"capability": string(c), "removed": true}))
	return nil
}

func (e *Engine) ListOverrides(ctx context.Context, tenantID string) ([]model.Override, error) {
	if _, err := e.tenants.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	return e.overrides.ListOverrides(ctx, tenantID)
}

// SweepExpiredOverrides deletes overrides whose window has closed. Expired
// overrides are already ignored by access checks; this keeps the table small
// and leaves an audit trail.
func (e *Engine) SweepExpiredOverrides(ctx context.Context) (int, error) {
	now := e.now()
	expired, err := e.overrides.ListExpiredOverrides(ctx, now)
	if err != nil {
		return 0, err
	}
	ctx = audit.WithActor(ctx, audit.SystemActor)
	removed := 0
	for _, o := range expired {
		if err := e.overrides.DeleteOverride(ctx, o.TenantID, o.Capability); err != nil {
			e.logger.Warn("expire override failed", "tenant_id", o.TenantID, "capability", string(o.Capability), "err", err)
			continue
		}
		removed++
		e.audit.Record(ctx, audit.Entry{
			Entity:    "tenant_feature_override",
			RecordID:  o.TenantID + "/" + string(o.Capability),
			Operation: "expire",
			Before:    o,
		})
	}
	e.metrics.ObserveSweep("overrides", removed)
	if removed > 0 {
		e.logger.Info("expired overrides removed", "count", removed)
	}
	return removed, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
