package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOverrideWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)

	assert.True(t, Override{}.ActiveAt(now))
	assert.True(t, Override{StartsAt: &start, ExpiresAt: &end}.ActiveAt(now))
	assert.False(t, Override{StartsAt: &end}.ActiveAt(now))
	assert.False(t, Override{ExpiresAt: &now}.ActiveAt(now), "expiry is exclusive")
	assert.True(t, Override{ExpiresAt: &now}.ExpiredAt(now))
}

func TestPlanCloneIsDeep(t *testing.T) {
	p := Plan{Capabilities: []Capability{"pos"}, Quotas: map[Capability]int64{"ai_insights": 5}}
	c := p.Clone()
	c.Capabilities[0] = "marketplace"
	c.Quotas["ai_insights"] = 50

	assert.Equal(t, Capability("pos"), p.Capabilities[0])
	assert.Equal(t, int64(5), p.Quotas["ai_insights"])
}

func TestBillingCyclePeriodEnd(t *testing.T) {
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), CycleYearly.PeriodEnd(start))
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), CycleMonthly.PeriodEnd(start))
	assert.False(t, BillingCycle("weekly").Valid())
}

func TestTenantPlanExpiryAndLocation(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	assert.True(t, Tenant{PlanExpiresAt: &past}.PlanExpired(now))
	assert.False(t, Tenant{}.PlanExpired(now))
	assert.Equal(t, time.UTC, Tenant{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "Asia/Dhaka", Tenant{Timezone: "Asia/Dhaka"}.Location().String())
}

func TestUpgradeStatusTerminal(t *testing.T) {
	for _, s := range OpenUpgradeStatuses {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, UpgradePaymentFailed.Terminal())
	assert.True(t, UpgradeApproved.Terminal())
	assert.True(t, UpgradeRejected.Terminal())
}
