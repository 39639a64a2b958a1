package entitlements

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/capability"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

func TestSetOverrideValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenant(t, "t1", model.RolePharmacyAdmin, model.PlanBasic, "")

	_, err := f.engine.SetOverride(ctx, OverrideInput{TenantID: "t1", Capability: "teleportation", Enabled: true})
	assert.ErrorIs(t, err, model.ErrUnknownCapability)

	start := f.clock.Now()
	_, err = f.engine.SetOverride(ctx, OverrideInput{TenantID: "t1", Capability: capability.POS, StartsAt: &start, ExpiresAt: &start})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.engine.SetOverride(ctx, OverrideInput{TenantID: "ghost", Capability: capability.POS})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSetAndRemoveOverrideAreAudited(t *testing.T) {
	f := newFixture(t)
	ctx := audit.WithActor(context.Background(), "admin-9")
	f.tenant(t, "t1", model.RolePharmacyAdmin, model.PlanBasic, "")

	o, err := f.engine.SetOverride(ctx, OverrideInput{TenantID: "t1", Capability: capability.Marketplace, Enabled: true, Reason: " trial "})
	require.NoError(t, err)
	assert.Equal(t, "admin-9", o.CreatedBy)
	assert.Equal(t, "trial", o.Reason)

	list, err := f.engine.ListOverrides(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.engine.RemoveOverride(ctx, "t1", capability.Marketplace))
	assert.ErrorIs(t, f.engine.RemoveOverride(ctx, "t1", capability.Marketplace), model.ErrNotFound)

	entries, err := f.store.ListAudit(ctx, 10)
	require.NoError(t, err)
	var ops []string
	for _, e := range entries {
		if e.Entity == "tenant_feature_override" {
			ops = append(ops, e.Operation)
			assert.Equal(t, "admin-9", e.ChangedBy)
		}
	}
	assert.Equal(t, []string{"remove", "set"}, ops)
}

func TestSweepExpiredOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenant(t, "t1", model.RolePharmacyAdmin, model.PlanBasic, "")
	soon := f.clock.Now().Add(time.Minute)

	_, err := f.engine.SetOverride(ctx, OverrideInput{TenantID: "t1", Capability: capability.Marketplace, Enabled: true, ExpiresAt: &soon})
	require.NoError(t, err)
	_, err = f.engine.SetOverride(ctx, OverrideInput{TenantID: "t1", Capability: capability.BulkImport, Enabled: true})
	require.NoError(t, err)

	n, err := f.engine.SweepExpiredOverrides(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Minute)
	n, err = f.engine.SweepExpiredOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := f.engine.ListOverrides(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, capability.BulkImport, list[0].Capability)
}
