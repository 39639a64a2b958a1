// Package upgrades runs the upgrade request state machine: payment,
// confirmation, and admin review of a tenant's move to another plan.
package upgrades

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/pharmagate/libs/otel"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/audit"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/lock"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/metrics"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/notify"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/payment"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
)

type TenantDirectory interface {
	Get(ctx context.Context, id string) (model.Tenant, error)
	AssignPlan(ctx context.Context, id string, plan model.PlanName, start time.Time, expiresAt *time.Time) (after, before model.Tenant, err error)
	Restore(ctx context.Context, t model.Tenant) error
}

type PlanReader interface {
	GetPlan(ctx context.Context, name model.PlanName) (model.Plan, error)
}

type Deps struct {
	Store    storage.UpgradeStore
	Tenants  TenantDirectory
	Plans    PlanReader
	Gateway  payment.Gateway
	Poller   *payment.Poller
	Locker   lock.Locker
	Audit    *audit.Recorder
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Currency is used when a plan does not name one.
	Currency string
}

type Workflow struct {
	store    storage.UpgradeStore
	tenants  TenantDirectory
	plans    PlanReader
	gateway  payment.Gateway
	poller   *payment.Poller
	locker   lock.Locker
	audit    *audit.Recorder
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	currency string
	now      func() time.Time
}

func New(d Deps) *Workflow {
	if d.Locker == nil {
		d.Locker = lock.NewKeyedMutex()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Discard{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Poller == nil && d.Gateway != nil {
		d.Poller = payment.NewPoller(d.Gateway, 0, d.Logger)
	}
	if d.Currency == "" {
		d.Currency = "usd"
	}
	return &Workflow{
		store:    d.Store,
		tenants:  d.Tenants,
		plans:    d.Plans,
		gateway:  d.Gateway,
		poller:   d.Poller,
		locker:   d.Locker,
		audit:    d.Audit,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger,
		tracer:   otelx.Tracer("upgrades"),
		currency: d.Currency,
		now:      time.Now,
	}
}

// Initiate opens an upgrade request for tenantID. A tenant may hold at most
// one non-terminal request.
func (w *Workflow) Initiate(ctx context.Context, tenantID string, target model.PlanName, cycle model.BillingCycle) (model.UpgradeRequest, error) {
	ctx, span := w.start(ctx, "upgrades.Initiate", attribute.String("tenant.id", tenantID), attribute.String("plan", string(target)))
	defer span.End()

	if !cycle.Valid() {
		return model.UpgradeRequest{}, fmt.Errorf("%w: billing cycle must be monthly or yearly", model.ErrValidation)
	}
	tenant, err := w.tenants.Get(ctx, tenantID)
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	plan, err := w.plans.GetPlan(ctx, target)
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	if !plan.Active {
		return model.UpgradeRequest{}, fmt.Errorf("%w: plan %s is not available", model.ErrValidation, target)
	}
	if !plan.OpenTo(tenant.Role) {
		return model.UpgradeRequest{}, fmt.Errorf("%w: plan %s is not offered to %s accounts", model.ErrValidation, target, tenant.Role)
	}
	now := w.now().UTC()
	if tenant.Plan == target && !tenant.PlanExpired(now) {
		return model.UpgradeRequest{}, fmt.Errorf("%w: tenant is already on plan %s", model.ErrValidation, target)
	}

	unlock, err := w.locker.Lock(ctx, lock.TenantKey(tenantID))
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	defer unlock()

	open, err := w.store.ListUpgradeRequests(ctx, storage.UpgradeFilter{
		TenantID: tenantID,
		Statuses: model.OpenUpgradeStatuses,
		Limit:    1,
	})
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	if len(open) > 0 {
		return model.UpgradeRequest{}, fmt.Errorf("tenant %q has open upgrade request %q: %w", tenantID, open[0].ID, model.ErrConflict)
	}

	currency := plan.Currency
	if currency == "" {
		currency = w.currency
	}
	r := model.UpgradeRequest{
		ID:            uuid.NewString(),
		TenantID:      tenant.ID,
		TenantName:    tenant.DisplayName,
		CurrentPlan:   tenant.Plan,
		RequestedPlan: plan.Name,
		Cycle:         cycle,
		Amount:        plan.Price(cycle),
		Currency:      currency,
		Status:        model.UpgradeInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := w.store.CreateUpgradeRequest(ctx, r); err != nil {
		return model.UpgradeRequest{}, err
	}
	w.metrics.ObserveTransition("", string(r.Status))
	w.audit.Record(ctx, audit.Entry{Entity: "upgrade_request", RecordID: r.ID, Operation: "initiate", After: r})
	w.notifier.Notify(ctx, notify.NewEvent(notify.EventUpgradeRequested, r.TenantID,
		"Upgrade requested",
		fmt.Sprintf("%s requested %s (%s)", r.TenantName, r.RequestedPlan, r.Cycle),
		requestData(r)))
	w.logger.Info("upgrade initiated", "request_id", r.ID, "tenant_id", r.TenantID, "plan", string(r.RequestedPlan))
	return r, nil
}

// AttachPayment links a payment transaction and moves the request to payment_pending.
func (w *Workflow) AttachPayment(ctx context.Context, requestID, transactionID string) (model.UpgradeRequest, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return model.UpgradeRequest{}, fmt.Errorf("%w: transaction id is required", model.ErrValidation)
	}
	return w.locked(ctx, requestID, func(r *model.UpgradeRequest) error {
		r.TransactionID = transactionID
		return w.advance(ctx, r, model.UpgradePaymentPending)
	})
}

// StartPayment asks the gateway for a transaction and attaches it. A gateway
// failure ends the request in payment_failed and is not returned as an error.
func (w *Workflow) StartPayment(ctx context.Context, requestID string) (model.UpgradeRequest, error) {
	ctx, span := w.start(ctx, "upgrades.StartPayment", attribute.String("request.id", requestID))
	defer span.End()

	r, err := w.store.GetUpgradeRequest(ctx, requestID)
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	if r.Status != model.UpgradeInitiated {
		return model.UpgradeRequest{}, invalidState(r, model.UpgradePaymentPending)
	}
	if w.gateway == nil {
		return model.UpgradeRequest{}, errors.New("payment gateway not configured")
	}

	txID, err := w.gateway.Initiate(ctx, payment.Charge{
		TenantID:  r.TenantID,
		Amount:    r.Amount,
		Currency:  r.Currency,
		Reference: r.ID,
	})
	if err != nil {
		span.RecordError(err)
		w.logger.Warn("payment initiation failed", "request_id", r.ID, "tenant_id", r.TenantID, "err", err)
		return w.fail(ctx, requestID, "payment initiation failed")
	}
	return w.AttachPayment(ctx, requestID, txID)
}

// OnPaymentResult applies a payment outcome. Paid and pending both move the
// request on to admin review; failed is terminal.
func (w *Workflow) OnPaymentResult(ctx context.Context, requestID string, status model.PaymentStatus) (model.UpgradeRequest, error) {
	if !status.Valid() {
		return model.UpgradeRequest{}, fmt.Errorf("%w: payment status must be paid, pending or failed", model.ErrValidation)
	}
	if status == model.PaymentFailed {
		r, err := w.fail(ctx, requestID, "payment failed")
		if errors.Is(err, model.ErrInvalidState) {
			w.flagLateFailure(ctx, requestID)
		}
		return r, err
	}
	r, err := w.locked(ctx, requestID, func(r *model.UpgradeRequest) error {
		if r.Status != model.UpgradePaymentConfirmed {
			if err := w.advance(ctx, r, model.UpgradePaymentConfirmed); err != nil {
				return err
			}
		}
		return w.advance(ctx, r, model.UpgradeAdminPending)
	})
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	w.notifier.Notify(ctx, notify.NewEvent(notify.EventUpgradeAwaitingApproval, r.TenantID,
		"Upgrade awaiting approval",
		fmt.Sprintf("%s paid for %s; review required", r.TenantName, r.RequestedPlan),
		requestData(r)))
	return r, nil
}

// OnPaymentResultByTransaction is the entry point for gateway callbacks.
func (w *Workflow) OnPaymentResultByTransaction(ctx context.Context, transactionID string, status model.PaymentStatus) (model.UpgradeRequest, error) {
	r, err := w.store.FindUpgradeByTransaction(ctx, transactionID)
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	return w.OnPaymentResult(ctx, r.ID, status)
}

// SettlePayment polls the gateway for the attached transaction, bounded by the
// poller's timeout, and applies the result. Timeouts count as failed.
func (w *Workflow) SettlePayment(ctx context.Context, requestID string) (model.UpgradeRequest, error) {
	ctx, span := w.start(ctx, "upgrades.SettlePayment", attribute.String("request.id", requestID))
	defer span.End()

	r, err := w.store.GetUpgradeRequest(ctx, requestID)
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	if r.Status != model.UpgradePaymentPending || r.TransactionID == "" {
		return model.UpgradeRequest{}, invalidState(r, model.UpgradePaymentConfirmed)
	}
	if w.poller == nil {
		return model.UpgradeRequest{}, errors.New("payment gateway not configured")
	}
	status := w.poller.Await(ctx, r.TransactionID)
	span.SetAttributes(attribute.String("payment.status", string(status)))
	return w.OnPaymentResult(ctx, requestID, status)
}

// Approve moves the tenant onto the requested plan for one billing period.
func (w *Workflow) Approve(ctx context.Context, requestID, note string) (model.UpgradeRequest, error) {
	ctx, span := w.start(ctx, "upgrades.Approve", attribute.String("request.id", requestID))
	defer span.End()
	defer w.metrics.Time("approve")()

	var before model.UpgradeRequest
	r, err := w.locked(ctx, requestID, func(r *model.UpgradeRequest) error {
		before = *r
		if !CanTransition(r.Status, model.UpgradeApproved) {
			return invalidState(*r, model.UpgradeApproved)
		}
		now := w.now().UTC()
		expires := r.Cycle.PeriodEnd(now)
		_, prevTenant, err := w.tenants.AssignPlan(ctx, r.TenantID, r.RequestedPlan, now, &expires)
		if err != nil {
			return fmt.Errorf("assign plan: %w", err)
		}
		w.decide(ctx, r, note, now)
		if err := w.advance(ctx, r, model.UpgradeApproved); err != nil {
			if rerr := w.tenants.Restore(ctx, prevTenant); rerr != nil {
				w.logger.Error("restore tenant plan failed", "tenant_id", r.TenantID, "err", rerr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return model.UpgradeRequest{}, err
	}

	w.audit.Record(ctx, audit.Entry{
		Entity:    "upgrade_request",
		RecordID:  r.ID,
		Operation: "approve",
		Severity:  model.SeverityCritical,
		Before:    before,
		After:     r,
	})
	w.notifier.Notify(ctx, notify.NewEvent(notify.EventUpgradeApproved, r.TenantID,
		"Upgrade approved",
		fmt.Sprintf("Your account is now on %s", r.RequestedPlan),
		requestData(r)))
	w.logger.Info("upgrade approved", "request_id", r.ID, "tenant_id", r.TenantID, "plan", string(r.RequestedPlan), "actor", r.DecidedBy)
	return r, nil
}

// Reject closes the request without touching the tenant's plan.
func (w *Workflow) Reject(ctx context.Context, requestID, note string) (model.UpgradeRequest, error) {
	ctx, span := w.start(ctx, "upgrades.Reject", attribute.String("request.id", requestID))
	defer span.End()

	var before model.UpgradeRequest
	r, err := w.locked(ctx, requestID, func(r *model.UpgradeRequest) error {
		before = *r
		if !CanTransition(r.Status, model.UpgradeRejected) {
			return invalidState(*r, model.UpgradeRejected)
		}
		w.decide(ctx, r, note, w.now().UTC())
		return w.advance(ctx, r, model.UpgradeRejected)
	})
	if err != nil {
		span.RecordError(err)
		return model.UpgradeRequest{}, err
	}

	w.audit.Record(ctx, audit.Entry{
		Entity:    "upgrade_request",
		RecordID:  r.ID,
		Operation: "reject",
		Severity:  model.SeverityWarning,
		Before:    before,
		After:     r,
	})
	w.notifier.Notify(ctx, notify.NewEvent(notify.EventUpgradeRejected, r.TenantID,
		"Upgrade rejected",
		fmt.Sprintf("Your request for %s was not approved", r.RequestedPlan),
		requestData(r)))
	return r, nil
}

func (w *Workflow) Get(ctx context.Context, requestID string) (model.UpgradeRequest, error) {
	return w.store.GetUpgradeRequest(ctx, requestID)
}

func (w *Workflow) List(ctx context.Context, f storage.UpgradeFilter) ([]model.UpgradeRequest, error) {
	return w.store.ListUpgradeRequests(ctx, f)
}

// ExpireStale fails requests that have sat in initiated or payment_pending
// for longer than olderThan.
func (w *Workflow) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := w.store.ListUpgradeRequests(ctx, storage.UpgradeFilter{
		Statuses:      []model.UpgradeStatus{model.UpgradeInitiated, model.UpgradePaymentPending},
		UpdatedBefore: w.now().Add(-olderThan),
		Limit:         500,
	})
	if err != nil {
		return 0, err
	}
	ctx = audit.WithActor(ctx, audit.SystemActor)
	expired := 0
	for _, r := range stale {
		if _, err := w.fail(ctx, r.ID, "expired without a payment result"); err != nil {
			if !errors.Is(err, model.ErrInvalidState) {
				w.logger.Warn("expire upgrade request failed", "request_id", r.ID, "err", err)
			}
			continue
		}
		expired++
	}
	w.metrics.ObserveSweep("upgrades", expired)
	if expired > 0 {
		w.logger.Info("stale upgrade requests expired", "count", expired)
	}
	return expired, nil
}

// ReconcilePayments settles requests whose payment has been pending longer
// than olderThan, for gateways whose callbacks were lost.
func (w *Workflow) ReconcilePayments(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if w.poller == nil {
		return 0, nil
	}
	pending, err := w.store.ListUpgradeRequests(ctx, storage.UpgradeFilter{
		Statuses:      []model.UpgradeStatus{model.UpgradePaymentPending},
		UpdatedBefore: w.now().Add(-olderThan),
		Limit:         limit,
	})
	if err != nil {
		return 0, err
	}
	ctx = audit.WithActor(ctx, audit.SystemActor)
	settled := 0
	for _, r := range pending {
		if ctx.Err() != nil {
			break
		}
		if r.TransactionID == "" {
			continue
		}
		if _, err := w.SettlePayment(ctx, r.ID); err != nil {
			if !errors.Is(err, model.ErrInvalidState) {
				w.logger.Warn("reconcile payment failed", "request_id", r.ID, "err", err)
			}
			continue
		}
		settled++
	}
	return settled, nil
}

func (w *Workflow) fail(ctx context.Context, requestID, note string) (model.UpgradeRequest, error) {
	r, err := w.locked(ctx, requestID, func(r *model.UpgradeRequest) error {
		r.AdminNote = note
		return w.advance(ctx, r, model.UpgradePaymentFailed)
	})
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	w.audit.Record(ctx, audit.Entry{
		Entity:    "upgrade_request",
		RecordID:  r.ID,
		Operation: "payment_failed",
		Severity:  model.SeverityWarning,
		After:     r,
	})
	w.notifier.Notify(ctx, notify.NewEvent(notify.EventUpgradePaymentFailed, r.TenantID,
		"Upgrade payment failed",
		fmt.Sprintf("Payment for %s did not complete: %s", r.RequestedPlan, note),
		requestData(r)))
	return r, nil
}

// flagLateFailure records a failed payment reported after the request already
// reached review. The request keeps its state; the audit entry and the
// notification are what the reviewing admin sees.
func (w *Workflow) flagLateFailure(ctx context.Context, requestID string) {
	r, err := w.store.GetUpgradeRequest(ctx, requestID)
	if err != nil {
		return
	}
	severity := model.SeverityWarning
	switch r.Status {
	case model.UpgradeAdminPending:
	case model.UpgradeApproved:
		severity = model.SeverityCritical
	default:
		return
	}
	w.logger.Warn("payment failed after review started", "request_id", r.ID, "tenant_id", r.TenantID, "status", string(r.Status))
	w.audit.Record(ctx, audit.Entry{
		Entity:    "upgrade_request",
		RecordID:  r.ID,
		Operation: "payment_failed_after_review",
		Severity:  severity,
		After:     r,
	})
	data := requestData(r)
	data["payment_status"] = string(model.PaymentFailed)
	w.notifier.Notify(ctx, notify.NewEvent(notify.EventUpgradePaymentFailed, r.TenantID,
		"Upgrade payment failed",
		fmt.Sprintf("Payment for %s failed after the request was %s", r.RequestedPlan, r.Status),
		data))
}

// locked loads the request, takes the tenant lock, reloads, and runs fn on the
// fresh copy. fn persists its own changes through advance.
func (w *Workflow) locked(ctx context.Context, requestID string, fn func(r *model.UpgradeRequest) error) (model.UpgradeRequest, error) {
	r, err := w.store.GetUpgradeRequest(ctx, requestID)
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	unlock, err := w.locker.Lock(ctx, lock.TenantKey(r.TenantID))
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	defer unlock()

	r, err = w.store.GetUpgradeRequest(ctx, requestID)
	if err != nil {
		return model.UpgradeRequest{}, err
	}
	if err := fn(&r); err != nil {
		return model.UpgradeRequest{}, err
	}
	return r, nil
}

// advance moves r to the given status with a compare-and-set write.
func (w *Workflow) advance(ctx context.Context, r *model.UpgradeRequest, to model.UpgradeStatus) error {
	from := r.Status
	if !CanTransition(from, to) {
		return invalidState(*r, to)
	}
	next := *r
	next.Status = to
	next.UpdatedAt = w.now().UTC()
	if err := w.store.UpdateUpgradeRequest(ctx, next, from); err != nil {
		if errors.Is(err, storage.ErrStaleWrite) {
			return fmt.Errorf("upgrade request %q changed concurrently: %w", r.ID, model.ErrInvalidState)
		}
		return err
	}
	*r = next
	w.metrics.ObserveTransition(string(from), string(to))
	return nil
}

func (w *Workflow) decide(ctx context.Context, r *model.UpgradeRequest, note string, at time.Time) {
	r.AdminNote = strings.TrimSpace(note)
	r.DecidedBy = audit.ActorFromContext(ctx)
	r.DecidedAt = &at
}

func (w *Workflow) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return w.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func invalidState(r model.UpgradeRequest, to model.UpgradeStatus) error {
	return fmt.Errorf("upgrade request %q cannot move from %s to %s: %w", r.ID, r.Status, to, model.ErrInvalidState)
}

func requestData(r model.UpgradeRequest) map[string]any {
	return map[string]any{
		"request_id":     r.ID,
		"requested_plan": string(r.RequestedPlan),
		"billing_cycle":  string(r.Cycle),
		"status":         string(r.Status),
		"amount":         r.Amount,
		"currency":       r.Currency,
	}
}
