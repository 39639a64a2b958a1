package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/pharmagate/libs/kafkax"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/metrics"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) snapshot() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestKafkaNotifierPublishesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	m := metrics.New()
	n := newKafkaNotifier(w, KafkaConfig{FlushEvery: time.Hour}, nil, m)

	n.Notify(context.Background(), NewEvent(EventUpgradeApproved, "t1", "Plan upgraded", "Welcome to Platinum", nil))
	n.Notify(context.Background(), NewEvent(EventOverrideChanged, "t2", "Feature enabled", "marketplace", nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	msgs := w.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, EventUpgradeApproved, msgs[0].Topic)
	assert.Equal(t, "t1", string(msgs[0].Key))
	assert.Equal(t, EventUpgradeApproved, kafkax.HeaderValue(msgs[0].Headers, "event_type"))
	assert.True(t, w.closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsPublished.WithLabelValues(EventOverrideChanged)))
}

func TestKafkaNotifierFlushesFullBatch(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w, KafkaConfig{FlushEvery: time.Hour, BatchSize: 2}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Notify(ctx, NewEvent(EventPlanUpdated, "", "Plan updated", "Standard", nil))
	n.Notify(ctx, NewEvent(EventPlanUpdated, "", "Plan updated", "Basic", nil))

	assert.Eventually(t, func() bool { return len(w.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestKafkaNotifierDropsWhenQueueFull(t *testing.T) {
	m := metrics.New()
	n := newKafkaNotifier(&fakeWriter{}, KafkaConfig{QueueSize: 1}, nil, m)

	n.Notify(context.Background(), NewEvent(EventUpgradeRequested, "t1", "s", "m", nil))
	n.Notify(context.Background(), NewEvent(EventUpgradeRequested, "t1", "s", "m", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped.WithLabelValues(EventUpgradeRequested)))
}

func TestKafkaNotifierWriteFailureIsCountedNotReturned(t *testing.T) {
	m := metrics.New()
	w := &fakeWriter{err: errors.New("broker down")}
	n := newKafkaNotifier(w, KafkaConfig{}, nil, m)

	n.flush(context.Background(), []queued{{ctx: context.Background(), event: NewEvent(EventUpgradeRejected, "t1", "s", "m", nil)}})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped.WithLabelValues(EventUpgradeRejected)))
}
