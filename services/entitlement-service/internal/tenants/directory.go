package tenants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/lock"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
)

type CreateInput struct {
	ID          string `json:"id" validate:"omitempty,max=64"`
	Role        string `json:"role" validate:"required,oneof=super_admin pharmacy_admin doctor patient"`
	DisplayName string `json:"display_name" validate:"required,max=200"`
	Plan        string `json:"plan" validate:"required"`
	Timezone    string `json:"timezone" validate:"omitempty,timezone"`
}

// Directory manages tenant records. Soft-deleted tenants are invisible to
// every read except the store itself.
type Directory struct {
	store    storage.Store
	audit    *audit.Recorder
	locker   lock.Locker
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewDirectory builds a Directory. locker must be the one the upgrade workflow
// uses so deletes serialize with plan assignment; nil means an in-process lock.
func NewDirectory(store storage.Store, rec *audit.Recorder, locker lock.Locker, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Directory{
		store:    store,
		audit:    rec,
		locker:   locker,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      time.Now,
	}
}

func (d *Directory) Create(ctx context.Context, in CreateInput) (model.Tenant, error) {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := d.validate.Struct(in); err != nil {
		return model.Tenant{}, fmt.Errorf("%w: %s", model.ErrValidation, err)
	}
	plan, err := d.store.GetPlan(ctx, model.PlanName(in.Plan))
	if err != nil {
		return model.Tenant{}, err
	}
	role := model.Role(in.Role)
	if role != model.RoleSuperAdmin && !plan.OpenTo(role) {
		return model.Tenant{}, fmt.Errorf("%w: plan %s is not offered to role %s", model.ErrValidation, plan.Name, role)
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := d.store.GetTenant(ctx, id); err == nil {
		return model.Tenant{}, fmt.Errorf("tenant %q already exists: %w", id, model.ErrConflict)
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.Tenant{}, err
	}

	now := d.now().UTC()
	t := model.Tenant{
		ID:            id,
		Role:          role,
		DisplayName:   in.DisplayName,
		Plan:          plan.Name,
		PlanStartedAt: now,
		Timezone:      in.Timezone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.Timezone == "" {
		t.Timezone = "UTC"
	}
	if err := d.store.SaveTenant(ctx, t); err != nil {
		return model.Tenant{}, err
	}
	d.audit.Record(ctx, audit.Entry{Entity: "tenant", RecordID: t.ID, Operation: "create", After: t})
	return t, nil
}

func (d *Directory) Get(ctx context.Context, id string) (model.Tenant, error) {
	t, err := d.store.GetTenant(ctx, id)
	if err != nil {
		return model.Tenant{}, err
	}
	if t.Deleted() {
		return model.Tenant{}, fmt.Errorf("tenant %q: %w", id, model.ErrNotFound)
	}
	return t, nil
}

// List returns live tenants ordered by id.
func (d *Directory) List(ctx context.Context) ([]model.Tenant, error) {
	all, err := d.store.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if !t.Deleted() {
			out = append(out, t)
		}
	}
	return out, nil
}

// SoftDelete marks the tenant deleted under the tenant lock.
func (d *Directory) SoftDelete(ctx context.Context, id string) error {
	unlock, err := d.locker.Lock(ctx, lock.TenantKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	t, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	before := t
	now := d.now().UTC()
	t.DeletedAt = &now
	t.UpdatedAt = now
	if err := d.store.SaveTenant(ctx, t); err != nil {
		return err
	}
	d.audit.Record(ctx, audit.Entry{
		Entity:    "tenant",
		RecordID:  id,
		Operation: "soft_delete",
		Severity:  model.SeverityWarning,
		Before:    before,
		After:     t,
	})
	return nil
}

// AssignPlan moves a live tenant onto plan for the period [start, expiresAt).
// A nil expiresAt means the plan does not lapse. It returns the previous record
// so callers can restore it. Callers hold lock.TenantKey(id).
func (d *Directory) AssignPlan(ctx context.Context, id string, plan model.PlanName, start time.Time, expiresAt *time.Time) (model.Tenant, model.Tenant, error) {
	if _, err := d.store.GetPlan(ctx, plan); err != nil {
		return model.Tenant{}, model.Tenant{}, err
	}
	before, err := d.Get(ctx, id)
	if err != nil {
		return model.Tenant{}, model.Tenant{}, err
	}
	after := before
	after.Plan = plan
	after.PlanStartedAt = start.UTC()
	after.PlanExpiresAt = expiresAt
	after.UpdatedAt = d.now().UTC()
	if err := d.store.SaveTenant(ctx, after); err != nil {
		return model.Tenant{}, model.Tenant{}, err
	}
	d.logger.Info("tenant plan assigned", "tenant_id", id, "from_plan", string(before.Plan), "to_plan", string(plan))
	return after, before, nil
}

// Restore writes back a record returned by AssignPlan.
func (d *Directory) Restore(ctx context.Context, t model.Tenant) error {
	return d.store.SaveTenant(ctx, t)
}
