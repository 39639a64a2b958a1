package model

import (
	"slices"
	"time"
)

type PlanName string

const (
	PlanBasic          PlanName = "Basic"
	PlanStandard       PlanName = "Standard"
	PlanPlatinum       PlanName = "Platinum"
	PlanPatientFree    PlanName = "PatientFree"
	PlanPatientPremium PlanName = "PatientPremium"
)

// Capability is a gatable unit of functionality, e.g. "marketplace".
type Capability string

// Plan is a subscription tier. Tenants reference plans by name, so edits are
// visible to every tenant on the plan at their next read.
type Plan struct {
	Name                  PlanName             `json:"name"`
	Rank                  int                  `json:"rank"`
	Description           string               `json:"description,omitempty"`
	Audience              []Role               `json:"audience"`
	MonthlyPrice          float64              `json:"monthly_price"`
	YearlyPrice           float64              `json:"yearly_price"`
	YearlyDiscountPercent float64              `json:"yearly_discount_percent"`
	Currency              string               `json:"currency"`
	Capabilities          []Capability         `json:"capabilities"`
	Quotas                map[Capability]int64 `json:"quotas,omitempty"`
	Unlimited             bool                 `json:"unlimited"`
	Active                bool                 `json:"active"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

func (p Plan) Grants(c Capability) bool {
	return p.Unlimited || slices.Contains(p.Capabilities, c)
}

// QuotaFor returns the plan's daily limit for c. A negative limit means unmetered.
func (p Plan) QuotaFor(c Capability) (int64, bool) {
	limit, ok := p.Quotas[c]
	return limit, ok
}

func (p Plan) OpenTo(r Role) bool {
	return len(p.Audience) == 0 || slices.Contains(p.Audience, r)
}

// Price returns the amount charged for one billing period of the given cycle.
func (p Plan) Price(cycle BillingCycle) float64 {
	if cycle == CycleYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// Clone returns a deep copy so callers can mutate slices and maps freely.
func (p Plan) Clone() Plan {
	out := p
	out.Audience = slices.Clone(p.Audience)
	out.Capabilities = slices.Clone(p.Capabilities)
	if p.Quotas != nil {
		out.Quotas = make(map[Capability]int64, len(p.Quotas))
		for k, v := range p.Quotas {
			out.Quotas[k] = v
		}
	}
	return out
}

type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// PeriodEnd returns when a period of this cycle that starts at start ends.
func (c BillingCycle) PeriodEnd(start time.Time) time.Time {
	if c == CycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
