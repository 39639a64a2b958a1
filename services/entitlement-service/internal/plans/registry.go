// Package plans is the source of truth for plan definitions, prices, and the
// capability sets they grant.
package plans

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/capability"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/notify"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
)

type Pricing struct {
	MonthlyPrice          float64 `json:"monthly_price" validate:"gte=0"`
	YearlyPrice           float64 `json:"yearly_price" validate:"gte=0"`
	YearlyDiscountPercent float64 `json:"yearly_discount_percent" validate:"gte=0,lte=100"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validatePricing(p Pricing) error {
	for _, v := range []float64{p.MonthlyPrice, p.YearlyPrice, p.YearlyDiscountPercent} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: prices must be finite numbers", model.ErrValidation)
		}
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", model.ErrValidation, err)
	}
	return nil
}

func validateFeatures(caps *capability.Registry, granted []model.Capability, quotas map[model.Capability]int64) error {
	for _, c := range granted {
		if _, err := caps.Require(c); err != nil {
			return err
		}
	}
	for c := range quotas {
		info, err := caps.Require(c)
		if err != nil {
			return err
		}
		if !info.QuotaBound {
			return fmt.Errorf("%w: capability %q is not quota bound", model.ErrValidation, c)
		}
	}
	return nil
}

type Registry struct {
	store    storage.PlanStore
	caps     *capability.Registry
	audit    *audit.Recorder
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	// Serializes read-modify-write of a plan; reads do not take it.
	mu sync.Mutex
}

func NewRegistry(store storage.PlanStore, caps *capability.Registry, rec *audit.Recorder, n notify.Notifier, logger *slog.Logger) *Registry {
	if n == nil {
		n = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, caps: caps, audit: rec, notifier: n, logger: logger, now: time.Now}
}

func (r *Registry) GetPlan(ctx context.Context, name model.PlanName) (model.Plan, error) {
	return r.store.GetPlan(ctx, name)
}

// ListPlans orders by tier rank, then name.
func (r *Registry) ListPlans(ctx context.Context) ([]model.Plan, error) {
	plans, err := r.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Rank != plans[j].Rank {
			return plans[i].Rank < plans[j].Rank
		}
		return plans[i].Name < plans[j].Name
	})
	return plans, nil
}

// ResolveCapabilities returns the capabilities a plan grants. Unlimited plans
// grant every registered capability.
func (r *Registry) ResolveCapabilities(ctx context.Context, name model.PlanName) ([]model.Capability, error) {
	p, err := r.store.GetPlan(ctx, name)
	if err != nil {
		return nil, err
	}
	if p.Unlimited {
		all := r.caps.All()
		out := make([]model.Capability, 0, len(all))
		for _, info := range all {
			out = append(out, info.Key)
		}
		return out, nil
	}
	out := slices.Clone(p.Capabilities)
	slices.Sort(out)
	return slices.Compact(out), nil
}

// PlansGranting lists the active plans that grant c, lowest rank first.
func (r *Registry) PlansGranting(ctx context.Context, c model.Capability) ([]model.PlanName, error) {
	plans, err := r.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.PlanName
	for _, p := range plans {
		if p.Active && p.Grants(c) {
			out = append(out, p.Name)
		}
	}
	return out, nil
}

func (r *Registry) UpdatePlanPricing(ctx context.Context, name model.PlanName, monthly, yearly, discountPercent float64) (model.Plan, error) {
	in := Pricing{MonthlyPrice: monthly, YearlyPrice: yearly, YearlyDiscountPercent: discountPercent}
	if err := validatePricing(in); err != nil {
		return model.Plan{}, err
	}
	return r.mutate(ctx, name, "update_pricing", func(p *model.Plan) error {
		p.MonthlyPrice = in.MonthlyPrice
		p.YearlyPrice = in.YearlyPrice
		p.YearlyDiscountPercent = in.YearlyDiscountPercent
		return nil
	})
}

// UpdatePlanFeatures replaces the capability set and quotas of a plan.
func (r *Registry) UpdatePlanFeatures(ctx context.Context, name model.PlanName, capabilities []model.Capability, quotas map[model.Capability]int64) (model.Plan, error) {
	if err := validateFeatures(r.caps, capabilities, quotas); err != nil {
		return model.Plan{}, err
	}
	updated, err := r.mutate(ctx, name, "update_features", func(p *model.Plan) error {
		p.Capabilities = slices.Clone(capabilities)
		p.Quotas = nil
		if len(quotas) > 0 {
			p.Quotas = make(map[model.Capability]int64, len(quotas))
			for c, limit := range quotas {
				p.Quotas[c] = limit
			}
		}
		return nil
	})
	if err == nil {
		r.warnNonMonotonic(ctx)
	}
	return updated, err
}

// SetPlanActive toggles whether a plan can be chosen for new upgrades. Tenants
// already on an inactive plan keep it.
func (r *Registry) SetPlanActive(ctx context.Context, name model.PlanName, active bool) (model.Plan, error) {
	op := "deactivate"
	if active {
		op = "activate"
	}
	return r.mutate(ctx, name, op, func(p *model.Plan) error {
		p.Active = active
		return nil
	})
}

func (r *Registry) mutate(ctx context.Context, name model.PlanName, op string, apply func(p *model.Plan) error) (model.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before, err := r.store.GetPlan(ctx, name)
	if err != nil {
		return model.Plan{}, err
	}
	after := before.Clone()
	if err := apply(&after); err != nil {
		return model.Plan{}, err
	}
	after.UpdatedAt = r.now().UTC()
	if err := r.store.SavePlan(ctx, after); err != nil {
		return model.Plan{}, fmt.Errorf("save plan %q: %w", name, err)
	}

	r.audit.Record(ctx, audit.Entry{
		Entity:    "plan",
		RecordID:  string(name),
		Operation: op,
		Severity:  model.SeverityWarning,
		Before:    before,
		After:     after,
	})
	r.notifier.Notify(ctx, notify.NewEvent(notify.EventPlanUpdated, "", "Plan updated",
		fmt.Sprintf("Plan %s changed (%s)", name, op), map[string]any{"plan": string(name), "operation": op}))
	r.logger.Info("plan updated", "plan", string(name), "operation", op, "actor", audit.ActorFromContext(ctx))
	return after, nil
}

// Seed stores catalog plans that are not yet present. Existing plans keep
// their administrator edits.
func (r *Registry) Seed(ctx context.Context, catalog []model.Plan) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.ListPlans(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[model.PlanName]bool, len(existing))
	for _, p := range existing {
		have[p.Name] = true
	}

	added := 0
	for _, p := range catalog {
		if have[p.Name] {
			continue
		}
		p.UpdatedAt = r.now().UTC()
		if err := r.store.SavePlan(ctx, p); err != nil {
			return added, fmt.Errorf("seed plan %q: %w", p.Name, err)
		}
		added++
	}
	r.warnNonMonotonic(ctx)
	return added, nil
}

func (r *Registry) warnNonMonotonic(ctx context.Context) {
	plans, err := r.ListPlans(ctx)
	if err != nil {
		return
	}
	for _, gap := range MonotonicGaps(plans) {
		r.logger.Warn("higher tier does not include a lower tier capability",
			"plan", string(gap.Plan), "lower_plan", string(gap.LowerPlan), "capability", string(gap.Capability))
	}
}

type Gap struct {
	Plan       model.PlanName
	LowerPlan  model.PlanName
	Capability model.Capability
}

func (g Gap) String() string {
	return fmt.Sprintf("%s does not grant %s although lower tier %s does", g.Plan, g.Capability, g.LowerPlan)
}

// MonotonicGaps reports capabilities granted by a lower-ranked plan but not by
// a higher-ranked plan sharing an audience role.
func MonotonicGaps(plans []model.Plan) []Gap {
	var gaps []Gap
	for _, hi := range plans {
		for _, lo := range plans {
			if lo.Rank >= hi.Rank || !sharesAudience(lo, hi) {
				continue
			}
			for _, c := range lo.Capabilities {
				if !hi.Grants(c) {
					gaps = append(gaps, Gap{Plan: hi.Name, LowerPlan: lo.Name, Capability: c})
				}
			}
		}
	}
	return gaps
}

func sharesAudience(a, b model.Plan) bool {
	if len(a.Audience) == 0 || len(b.Audience) == 0 {
		return true
	}
	for _, role := range a.Audience {
		if slices.Contains(b.Audience, role) {
			return true
		}
	}
	return false
}
