package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/storage"
)

type failingStore struct{ storage.AuditStore }

func (failingStore) AppendAudit(context.Context, model.AuditLogEntry) error {
	return errors.New("disk full")
}

func TestRecordSnapshotsBeforeAndAfter(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	rec := NewRecorder(store, nil)

	rec.Record(ctx, Entry{
		Entity:    "plan",
		RecordID:  "Standard",
		Operation: "update_pricing",
		ChangedBy: "admin-1",
		Before:    map[string]float64{"monthly_price": 10},
		After:     map[string]float64{"monthly_price": 12},
	})

	got, err := rec.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.SeverityInfo, got[0].Severity)
	assert.JSONEq(t, `{"monthly_price":10}`, string(got[0].Before))
	assert.JSONEq(t, `{"monthly_price":12}`, string(got[0].After))
	assert.NotEmpty(t, got[0].ID)
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	rec := NewRecorder(failingStore{}, nil)
	assert.NotPanics(t, func() {
		rec.Record(context.Background(), Entry{Entity: "override", Operation: "set"})
	})

	var nilRec *Recorder
	assert.NotPanics(t, func() { nilRec.Record(context.Background(), Entry{}) })
}

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, SystemActor, ActorFromContext(context.Background()))
	assert.Equal(t, "admin-7", ActorFromContext(WithActor(context.Background(), "admin-7")))
}
