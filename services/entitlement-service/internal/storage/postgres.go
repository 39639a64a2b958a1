package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/pharmagate/libs/db"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

const pgUniqueViolation = "23505"

type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const planColumns = `name, rank, description, audience, monthly_price, yearly_price, yearly_discount_percent,
	currency, capabilities, quotas, unlimited, active, updated_at`

func scanPlan(row pgx.Row) (model.Plan, error) {
	var (
		p        model.Plan
		name     string
		audience []string
		caps     []string
		quotas   []byte
	)
	if err := row.Scan(&name, &p.Rank, &p.Description, &audience, &p.MonthlyPrice, &p.YearlyPrice,
		&p.YearlyDiscountPercent, &p.Currency, &caps, &quotas, &p.Unlimited, &p.Active, &p.UpdatedAt); err != nil {
		return model.Plan{}, err
	}
	p.Name = model.PlanName(name)
	for _, a := range audience {
		p.Audience = append(p.Audience, model.Role(a))
	}
	for _, c := range caps {
		p.Capabilities = append(p.Capabilities, model.Capability(c))
	}
	if len(quotas) > 0 {
		if err := json.Unmarshal(quotas, &p.Quotas); err != nil {
			return model.Plan{}, fmt.Errorf("decode quotas for plan %q: %w", name, err)
		}
	}
	return p, nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, name model.PlanName) (model.Plan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE name = $1`, string(name)))
	if err != nil {
		return model.Plan{}, notFound(err, "plan %q", name)
	}
	return p, nil
}

func (s *PostgresStore) ListPlans(ctx context.Context) ([]model.Plan, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY rank, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SavePlan(ctx context.Context, p model.Plan) error {
	quotas, err := json.Marshal(p.Quotas)
	if err != nil {
		return err
	}
	if p.Quotas == nil {
		quotas = []byte("{}")
	}
	audience := make([]string, 0, len(p.Audience))
	for _, a := range p.Audience {
		audience = append(audience, string(a))
	}
	caps := make([]string, 0, len(p.Capabilities))
	for _, c := range p.Capabilities {
		caps = append(caps, string(c))
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (name)
		DO UPDATE SET rank = EXCLUDED.rank,
		              description = EXCLUDED.description,
		              audience = EXCLUDED.audience,
		              monthly_price = EXCLUDED.monthly_price,
		              yearly_price = EXCLUDED.yearly_price,
		              yearly_discount_percent = EXCLUDED.yearly_discount_percent,
		              currency = EXCLUDED.currency,
		              capabilities = EXCLUDED.capabilities,
		              quotas = EXCLUDED.quotas,
		              unlimited = EXCLUDED.unlimited,
		              active = EXCLUDED.active,
		              updated_at = EXCLUDED.updated_at
	`, string(p.Name), p.Rank, p.Description, audience, p.MonthlyPrice, p.YearlyPrice, p.YearlyDiscountPercent,
		p.Currency, caps, quotas, p.Unlimited, p.Active, p.UpdatedAt)
	return err
}

const tenantColumns = `id, role, display_name, plan, plan_started_at, plan_expires_at, timezone, deleted_at, created_at, updated_at`

func scanTenant(row pgx.Row) (model.Tenant, error) {
	var (
		t    model.Tenant
		role string
		plan string
	)
	err := row.Scan(&t.ID, &role, &t.DisplayName, &plan, &t.PlanStartedAt, &t.PlanExpiresAt, &t.Timezone,
		&t.DeletedAt, &t.CreatedAt, &t.UpdatedAt)
	t.Role = model.Role(role)
	t.Plan = model.PlanName(plan)
	return t, err
}

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (model.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		return model.Tenant{}, notFound(err, "tenant %q", id)
	}
	return t, nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveTenant(ctx context.Context, t model.Tenant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET role = EXCLUDED.role,
		              display_name = EXCLUDED.display_name,
		              plan = EXCLUDED.plan,
		              plan_started_at = EXCLUDED.plan_started_at,
		              plan_expires_at = EXCLUDED.plan_expires_at,
		              timezone = EXCLUDED.timezone,
		              deleted_at = EXCLUDED.deleted_at,
		              updated_at = EXCLUDED.updated_at
	`, t.ID, string(t.Role), t.DisplayName, string(t.Plan), t.PlanStartedAt, t.PlanExpiresAt, defaultIfEmpty(t.Timezone, "UTC"),
		t.DeletedAt, t.CreatedAt, t.UpdatedAt)
	return err
}

const overrideColumns = `tenant_id, capability, enabled, starts_at, expires_at, reason, created_by, created_at`

func scanOverride(row pgx.Row) (model.Override, error) {
	var (
		o          model.Override
		capability string
	)
	err := row.Scan(&o.TenantID, &capability, &o.Enabled, &o.StartsAt, &o.ExpiresAt, &o.Reason, &o.CreatedBy, &o.CreatedAt)
	o.Capability = model.Capability(capability)
	return o, err
}

func (s *PostgresStore) GetOverride(ctx context.Context, tenantID string, c model.Capability) (model.Override, bool, error) {
	o, err := scanOverride(s.pool.QueryRow(ctx, `
		SELECT `+overrideColumns+` FROM tenant_feature_overrides WHERE tenant_id = $1 AND capability = $2
	`, tenantID, string(c)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Override{}, false, nil
		}
		return model.Override{}, false, err
	}
	return o, true, nil
}

func (s *PostgresStore) queryOverrides(ctx context.Context, sql string, args ...any) ([]model.Override, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListOverrides(ctx context.Context, tenantID string) ([]model.Override, error) {
	return s.queryOverrides(ctx, `
		SELECT `+overrideColumns+` FROM tenant_feature_overrides WHERE tenant_id = $1 ORDER BY capability
	`, tenantID)
}

func (s *PostgresStore) ListExpiredOverrides(ctx context.Context, now time.Time) ([]model.Override, error) {
	return s.queryOverrides(ctx, `
		SELECT `+overrideColumns+` FROM tenant_feature_overrides
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
	`, now)
}

func (s *PostgresStore) SaveOverride(ctx context.Context, o model.Override) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_feature_overrides (`+overrideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, capability)
		DO UPDATE SET enabled = EXCLUDED.enabled,
		              starts_at = EXCLUDED.starts_at,
		              expires_at = EXCLUDED.expires_at,
		              reason = EXCLUDED.reason,
		              created_by = EXCLUDED.created_by,
		              created_at = EXCLUDED.created_at
	`, o.TenantID, string(o.Capability), o.Enabled, o.StartsAt, o.ExpiresAt, o.Reason, o.CreatedBy, o.CreatedAt)
	return err
}

func (s *PostgresStore) DeleteOverride(ctx context.Context, tenantID string, c model.Capability) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenant_feature_overrides WHERE tenant_id = $1 AND capability = $2`, tenantID, string(c))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("override %s/%s: %w", tenantID, c, model.ErrNotFound)
	}
	return nil
}

const upgradeColumns = `id, tenant_id, tenant_name, current_plan, requested_plan, billing_cycle, amount, currency,
	COALESCE(transaction_id, ''), status, admin_note, decided_by, created_at, updated_at, decided_at`

func scanUpgrade(row pgx.Row) (model.UpgradeRequest, error) {
	var (
		r                  model.UpgradeRequest
		current, requested string
		cycle, status      string
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.TenantName, &current, &requested, &cycle, &r.Amount, &r.Currency,
		&r.TransactionID, &status, &r.AdminNote, &r.DecidedBy, &r.CreatedAt, &r.UpdatedAt, &r.DecidedAt)
	r.CurrentPlan = model.PlanName(current)
	r.RequestedPlan = model.PlanName(requested)
	r.Cycle = model.BillingCycle(cycle)
	r.Status = model.UpgradeStatus(status)
	return r, err
}

func (s *PostgresStore) CreateUpgradeRequest(ctx context.Context, r model.UpgradeRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO upgrade_requests (id, tenant_id, tenant_name, current_plan, requested_plan, billing_cycle, amount,
		                              currency, transaction_id, status, admin_note, decided_by, created_at, updated_at, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.ID, r.TenantID, r.TenantName, string(r.CurrentPlan), string(r.RequestedPlan), string(r.Cycle), r.Amount,
		r.Currency, nullIfEmpty(r.TransactionID), string(r.Status), r.AdminNote, r.DecidedBy, r.CreatedAt, r.UpdatedAt, r.DecidedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("tenant %q already has an open upgrade request: %w", r.TenantID, model.ErrConflict)
	}
	return err
}

func (s *PostgresStore) GetUpgradeRequest(ctx context.Context, id string) (model.UpgradeRequest, error) {
	r, err := scanUpgrade(s.pool.QueryRow(ctx, `SELECT `+upgradeColumns+` FROM upgrade_requests WHERE id = $1`, id))
	if err != nil {
		return model.UpgradeRequest{}, notFound(err, "upgrade request %q", id)
	}
	return r, nil
}

func (s *PostgresStore) FindUpgradeByTransaction(ctx context.Context, transactionID string) (model.UpgradeRequest, error) {
	r, err := scanUpgrade(s.pool.QueryRow(ctx, `SELECT `+upgradeColumns+` FROM upgrade_requests WHERE transaction_id = $1`, transactionID))
	if err != nil {
		return model.UpgradeRequest{}, notFound(err, "transaction %q", transactionID)
	}
	return r, nil
}

func (s *PostgresStore) ListUpgradeRequests(ctx context.Context, f UpgradeFilter) ([]model.UpgradeRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !f.UpdatedBefore.IsZero() {
		args = append(args, f.UpdatedBefore)
		where = append(where, fmt.Sprintf("updated_at < $%d", len(args)))
	}
	sql := `SELECT ` + upgradeColumns + ` FROM upgrade_requests`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(f.Limit, 500))
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UpgradeRequest
	for rows.Next() {
		r, err := scanUpgrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateUpgradeRequest(ctx context.Context, r model.UpgradeRequest, expected model.UpgradeStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE upgrade_requests
		SET transaction_id = $3,
		    status = $4,
		    admin_note = $5,
		    decided_by = $6,
		    updated_at = $7,
		    decided_at = $8
		WHERE id = $1 AND status = $2
	`, r.ID, string(expected), nullIfEmpty(r.TransactionID), string(r.Status), r.AdminNote, r.DecidedBy, r.UpdatedAt, r.DecidedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("transaction %q already attached: %w", r.TransactionID, model.ErrConflict)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetUpgradeRequest(ctx, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("upgrade request %q is no longer %s: %w", r.ID, expected, ErrStaleWrite)
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e model.AuditLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, entity, record_id, operation, changed_by, severity, before, after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.Entity, e.RecordID, e.Operation, e.ChangedBy, string(e.Severity), rawOrNil(e.Before), rawOrNil(e.After), e.At)
	return err
}

func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity, record_id, operation, changed_by, severity, before, after, created_at
		FROM audit_log
		ORDER BY seq DESC
		LIMIT $1
	`, clampLimit(limit, 200))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditLogEntry
	for rows.Next() {
		var (
			e             model.AuditLogEntry
			severity      string
			before, after []byte
		)
		if err := rows.Scan(&e.ID, &e.Entity, &e.RecordID, &e.Operation, &e.ChangedBy, &severity, &before, &after, &e.At); err != nil {
			return nil, err
		}
		e.Severity = model.Severity(severity)
		e.Before = before
		e.After = after
		out = append(out, e)
	}
	return out, rows.Err()
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, model.ErrNotFound)...)
	}
	return err
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func defaultIfEmpty(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
