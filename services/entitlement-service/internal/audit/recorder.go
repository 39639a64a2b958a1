package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
)

// Entry describes one change to record. Before and After are marshalled to JSON.
type Entry struct {
	Entity    string
	RecordID  string
	Operation string
	ChangedBy string
	Severity  model.Severity
	Before    any
	After     any
}

type Recorder struct {
	store  storage.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(store storage.AuditStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Record appends an audit entry. A failed write is logged and does not fail
// the operation being audited.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	if e.ChangedBy == "" {
		e.ChangedBy = ActorFromContext(ctx)
	}
	if e.Severity == "" {
		e.Severity = model.SeverityInfo
	}
	entry := model.AuditLogEntry{
		ID:        uuid.NewString(),
		Entity:    e.Entity,
		RecordID:  e.RecordID,
		Operation: e.Operation,
		ChangedBy: e.ChangedBy,
		Severity:  e.Severity,
		Before:    snapshot(e.Before),
		After:     snapshot(e.After),
		At:        r.now().UTC(),
	}
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		r.logger.Error("audit write failed",
			"entity", e.Entity,
			"record_id", e.RecordID,
			"operation", e.Operation,
			"err", err,
		)
	}
}

func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	return r.store.ListAudit(ctx, limit)
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
