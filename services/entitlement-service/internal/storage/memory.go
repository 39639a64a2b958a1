package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

type overrideKey struct {
	tenantID   string
	capability model.Capability
}

// MemoryStore keeps every collection in process memory. It backs tests and
// single-instance development runs.
type MemoryStore struct {
	mu        sync.RWMutex
	plans     map[model.PlanName]model.Plan
	tenants   map[string]model.Tenant
	overrides map[overrideKey]model.Override
	upgrades  map[string]model.UpgradeRequest
	audit     []model.AuditLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:     map[model.PlanName]model.Plan{},
		tenants:   map[string]model.Tenant{},
		overrides: map[overrideKey]model.Override{},
		upgrades:  map[string]model.UpgradeRequest{},
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) GetPlan(_ context.Context, name model.PlanName) (model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[name]
	if !ok {
		return model.Plan{}, fmt.Errorf("plan %q: %w", name, model.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPlans(context.Context) ([]model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *MemoryStore) SavePlan(_ context.Context, p model.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.Name] = p.Clone()
	return nil
}

func (s *MemoryStore) GetTenant(_ context.Context, id string) (model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return model.Tenant{}, fmt.Errorf("tenant %q: %w", id, model.ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) ListTenants(context.Context) ([]model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveTenant(_ context.Context, t model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	return nil
}

func (s *MemoryStore) GetOverride(_ context.Context, tenantID string, c model.Capability) (model.Override, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[overrideKey{tenantID, c}]
	return o, ok, nil
}

func (s *MemoryStore) ListOverrides(_ context.Context, tenantID string) ([]model.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Override
	for k, o := range s.overrides {
		if k.tenantID == tenantID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out, nil
}

func (s *MemoryStore) SaveOverride(_ context.Context, o model.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[overrideKey{o.TenantID, o.Capability}] = o
	return nil
}

func (s *MemoryStore) DeleteOverride(_ context.Context, tenantID string, c model.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := overrideKey{tenantID, c}
	if _, ok := s.overrides[k]; !ok {
		return fmt.Errorf("override %s/%s: %w", tenantID, c, model.ErrNotFound)
	}
	delete(s.overrides, k)
	return nil
}

func (s *MemoryStore) ListExpiredOverrides(_ context.Context, now time.Time) ([]model.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Override
	for _, o := range s.overrides {
		if o.ExpiredAt(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateUpgradeRequest(_ context.Context, r model.UpgradeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.upgrades[r.ID]; exists {
		return fmt.Errorf("upgrade request %q: %w", r.ID, model.ErrConflict)
	}
	if !r.Status.Terminal() {
		for _, existing := range s.upgrades {
			if existing.TenantID == r.TenantID && !existing.Status.Terminal() {
				return fmt.Errorf("tenant %q already has open upgrade request %q: %w", r.TenantID, existing.ID, model.ErrConflict)
			}
		}
	}
	s.upgrades[r.ID] = r
	return nil
}

func (s *MemoryStore) GetUpgradeRequest(_ context.Context, id string) (model.UpgradeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.upgrades[id]
	if !ok {
		return model.UpgradeRequest{}, fmt.Errorf("upgrade request %q: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) FindUpgradeByTransaction(_ context.Context, transactionID string) (model.UpgradeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.upgrades {
		if transactionID != "" && r.TransactionID == transactionID {
			return r, nil
		}
	}
	return model.UpgradeRequest{}, fmt.Errorf("transaction %q: %w", transactionID, model.ErrNotFound)
}

func (s *MemoryStore) ListUpgradeRequests(_ context.Context, f UpgradeFilter) ([]model.UpgradeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.UpgradeRequest
	for _, r := range s.upgrades {
		if f.TenantID != "" && r.TenantID != f.TenantID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := clampLimit(f.Limit, 500); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateUpgradeRequest(_ context.Context, r model.UpgradeRequest, expected model.UpgradeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.upgrades[r.ID]
	if !ok {
		return fmt.Errorf("upgrade request %q: %w", r.ID, model.ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("upgrade request %q is %s, expected %s: %w", r.ID, current.Status, expected, ErrStaleWrite)
	}
	if r.TransactionID != "" {
		for id, other := range s.upgrades {
			if id != r.ID && other.TransactionID == r.TransactionID {
				return fmt.Errorf("transaction %q already attached to %q: %w", r.TransactionID, id, model.ErrConflict)
			}
		}
	}
	s.upgrades[r.ID] = r
	return nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, e model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

// ListAudit returns the newest entries first.
func (s *MemoryStore) ListAudit(_ context.Context, limit int) ([]model.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit, 200)
	out := make([]model.AuditLogEntry, 0, min(limit, len(s.audit)))
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}
