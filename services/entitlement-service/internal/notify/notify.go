// Package notify delivers fire-and-forget domain events to tenants and admins.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	EventUpgradeRequested        = "upgrade.requested.v1"
	EventUpgradePaymentFailed    = "upgrade.payment_failed.v1"
	EventUpgradeAwaitingApproval = "upgrade.awaiting_approval.v1"
	EventUpgradeApproved         = "upgrade.approved.v1"
	EventUpgradeRejected         = "upgrade.rejected.v1"
	EventOverrideChanged         = "override.changed.v1"
	EventPlanUpdated             = "plan.updated.v1"
)

type Event struct {
	ID         string         `json:"event_id"`
	Type       string         `json:"event_type"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Subject    string         `json:"subject"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent fills in the id and timestamp.
func NewEvent(eventType, tenantID, subject, message string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		Subject:    subject,
		Message:    message,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// Notifier never reports delivery failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier writes events to the log. Used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) {
	n.logger.InfoContext(ctx, "notification",
		"event_type", e.Type,
		"event_id", e.ID,
		"tenant_id", e.TenantID,
		"subject", e.Subject,
	)
}

type Discard struct{}

func (Discard) Notify(context.Context, Event) {}
