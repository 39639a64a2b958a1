package plans

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/capability"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
)

func newSeededRegistry(t *testing.T) (*Registry, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	caps := capability.Default()
	reg := NewRegistry(store, caps, audit.NewRecorder(store, nil), nil, nil)

	catalog, err := LoadCatalog("", caps)
	require.NoError(t, err)
	n, err := reg.Seed(context.Background(), catalog)
	require.NoError(t, err)
	require.Equal(t, len(catalog), n)
	return reg, store
}

func TestDefaultCatalogParses(t *testing.T) {
	plans, err := LoadCatalog("", capability.Default())
	require.NoError(t, err)
	require.Len(t, plans, 5)

	var platinum model.Plan
	for _, p := range plans {
		if p.Name == model.PlanPlatinum {
			platinum = p
		}
		assert.True(t, p.Active, p.Name)
	}
	assert.True(t, platinum.Unlimited)
	assert.True(t, platinum.Grants("marketplace"))
}

func TestMarshalCatalogReparses(t *testing.T) {
	caps := capability.Default()
	plans, err := LoadCatalog("", caps)
	require.NoError(t, err)
	plans[0].Active = false

	raw, err := MarshalCatalog(plans)
	require.NoError(t, err)
	again, err := ParseCatalog(raw, caps)
	require.NoError(t, err)
	require.Len(t, again, len(plans))
	assert.False(t, again[0].Active)
	assert.Equal(t, plans[1].Quotas, again[1].Quotas)
}

func TestParseCatalogRejectsUnknownCapability(t *testing.T) {
	_, err := ParseCatalog([]byte(`
plans:
  - name: Basic
    rank: 1
    monthly_price: 1
    yearly_price: 10
    capabilities: [teleportation]
`), capability.Default())
	assert.ErrorIs(t, err, model.ErrUnknownCapability)
}

func TestParseCatalogRejectsDuplicatesAndNegativePrices(t *testing.T) {
	_, err := ParseCatalog([]byte(`
plans:
  - name: Basic
  - name: Basic
`), capability.Default())
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = ParseCatalog([]byte(`
plans:
  - name: Basic
    monthly_price: -1
`), capability.Default())
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestListPlansOrderedByRankThenName(t *testing.T) {
	reg, _ := newSeededRegistry(t)
	plans, err := reg.ListPlans(context.Background())
	require.NoError(t, err)

	var names []model.PlanName
	for _, p := range plans {
		names = append(names, p.Name)
	}
	assert.Equal(t, []model.PlanName{
		model.PlanBasic, model.PlanPatientFree,
		model.PlanPatientPremium, model.PlanStandard,
		model.PlanPlatinum,
	}, names)
}

func TestGetPlanUnknown(t *testing.T) {
	reg, _ := newSeededRegistry(t)
	_, err := reg.GetPlan(context.Background(), "Diamond")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdatePlanPricingRejectsInvalidAndLeavesPlanUntouched(t *testing.T) {
	reg, _ := newSeededRegistry(t)
	ctx := context.Background()
	before, err := reg.GetPlan(ctx, model.PlanBasic)
	require.NoError(t, err)

	cases := []struct {
		name                      string
		monthly, yearly, discount float64
	}{
		{"negative monthly", -5, 100, 10},
		{"negative yearly", 5, -1, 10},
		{"discount above 100", 5, 100, 101},
		{"discount below 0", 5, 100, -1},
		{"nan", math.NaN(), 100, 10},
		{"inf", 5, math.Inf(1), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.UpdatePlanPricing(ctx, model.PlanBasic, tc.monthly, tc.yearly, tc.discount)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}

	after, err := reg.GetPlan(ctx, model.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, before.MonthlyPrice, after.MonthlyPrice)
	assert.Equal(t, before.YearlyPrice, after.YearlyPrice)
	assert.Equal(t, before.YearlyDiscountPercent, after.YearlyDiscountPercent)
}

func TestUpdatePlanPricingIsVisibleAndAudited(t *testing.T) {
	reg, store := newSeededRegistry(t)
	ctx := audit.WithActor(context.Background(), "admin-1")

	updated, err := reg.UpdatePlanPricing(ctx, model.PlanStandard, 69, 690, 20)
	require.NoError(t, err)
	assert.Equal(t, 69.0, updated.MonthlyPrice)

	got, err := reg.GetPlan(ctx, model.PlanStandard)
	require.NoError(t, err)
	assert.Equal(t, 690.0, got.YearlyPrice)

	entries, err := store.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "update_pricing", entries[0].Operation)
	assert.Equal(t, "admin-1", entries[0].ChangedBy)

	_, err = reg.UpdatePlanPricing(ctx, "Diamond", 1, 1, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdatePlanFeatures(t *testing.T) {
	reg, _ := newSeededRegistry(t)
	ctx := context.Background()

	_, err := reg.UpdatePlanFeatures(ctx, model.PlanBasic, []model.Capability{"inventory", "nope"}, nil)
	assert.ErrorIs(t, err, model.ErrUnknownCapability)

	_, err = reg.UpdatePlanFeatures(ctx, model.PlanBasic, []model.Capability{"inventory"}, map[model.Capability]int64{"pos": 3})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = reg.UpdatePlanFeatures(ctx, model.PlanBasic,
		[]model.Capability{"inventory", "pos", "ai_insights"}, map[model.Capability]int64{"ai_insights": 2})
	require.NoError(t, err)

	caps, err := reg.ResolveCapabilities(ctx, model.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, []model.Capability{"ai_insights", "inventory", "pos"}, caps)
}

func TestResolveCapabilitiesUnlimitedPlanReturnsAll(t *testing.T) {
	reg, _ := newSeededRegistry(t)
	caps, err := reg.ResolveCapabilities(context.Background(), model.PlanPlatinum)
	require.NoError(t, err)
	assert.Len(t, caps, len(capability.Default().All()))
}

func TestPlansGrantingSkipsInactive(t *testing.T) {
	reg, _ := newSeededRegistry(t)
	ctx := context.Background()

	got, err := reg.PlansGranting(ctx, "export_reports")
	require.NoError(t, err)
	assert.Equal(t, []model.PlanName{model.PlanStandard, model.PlanPlatinum}, got)

	_, err = reg.SetPlanActive(ctx, model.PlanStandard, false)
	require.NoError(t, err)
	got, err = reg.PlansGranting(ctx, "export_reports")
	require.NoError(t, err)
	assert.Equal(t, []model.PlanName{model.PlanPlatinum}, got)
}

func TestSeedKeepsAdminEdits(t *testing.T) {
	reg, _ := newSeededRegistry(t)
	ctx := context.Background()
	_, err := reg.UpdatePlanPricing(ctx, model.PlanBasic, 1, 10, 0)
	require.NoError(t, err)

	catalog, err := LoadCatalog("", capability.Default())
	require.NoError(t, err)
	n, err := reg.Seed(ctx, catalog)
	require.NoError(t, err)
	assert.Zero(t, n)

	p, err := reg.GetPlan(ctx, model.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.MonthlyPrice)
}

func TestMonotonicGaps(t *testing.T) {
	plans := []model.Plan{
		{Name: "Low", Rank: 1, Capabilities: []model.Capability{"pos", "reports"}},
		{Name: "High", Rank: 2, Capabilities: []model.Capability{"pos"}},
		{Name: "Top", Rank: 3, Unlimited: true},
	}
	gaps := MonotonicGaps(plans)
	require.Len(t, gaps, 1)
	assert.Equal(t, Gap{Plan: "High", LowerPlan: "Low", Capability: "reports"}, gaps[0])

	catalog, err := LoadCatalog("", capability.Default())
	require.NoError(t, err)
	assert.Empty(t, MonotonicGaps(catalog))
}
