package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/pharmagate/libs/kafkax"
	otelx "github.com/md-rashed-zaman/pharmagate/libs/otel"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type queued struct {
	ctx   context.Context
	event Event
}

type KafkaConfig struct {
	Brokers    string
	QueueSize  int
	FlushEvery time.Duration
	BatchSize  int
}

// KafkaNotifier buffers events in a bounded queue and publishes them in
// batches from Run. Topic is the event type; key is the tenant id.
type KafkaNotifier struct {
	writer     messageWriter
	queue      chan queued
	logger     *slog.Logger
	metrics    *metrics.Metrics
	flushEvery time.Duration
	batchSize  int
}

func NewKafkaNotifier(cfg KafkaConfig, logger *slog.Logger, m *metrics.Metrics) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(kafkax.SplitBrokers(cfg.Brokers)...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newKafkaNotifier(writer, cfg, logger, m)
}

func newKafkaNotifier(w messageWriter, cfg KafkaConfig, logger *slog.Logger, m *metrics.Metrics) *KafkaNotifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{
		writer:     w,
		queue:      make(chan queued, cfg.QueueSize),
		logger:     logger,
		metrics:    m,
		flushEvery: cfg.FlushEvery,
		batchSize:  cfg.BatchSize,
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, e Event) {
	select {
	case n.queue <- queued{ctx: otelx.DetachedContext(ctx), event: e}:
	default:
		n.metrics.ObserveDropped(e.Type)
		n.logger.Warn("notification queue full, dropping event", "event_type", e.Type, "tenant_id", e.TenantID)
	}
}

// Run publishes queued events until ctx is done, then flushes what is left.
func (n *KafkaNotifier) Run(ctx context.Context) {
	defer func() {
		if err := n.writer.Close(); err != nil {
			n.logger.Warn("kafka writer close failed", "err", err)
		}
	}()

	ticker := time.NewTicker(n.flushEvery)
	defer ticker.Stop()

	batch := make([]queued, 0, n.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = n.drain(batch)
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n.flush(flushCtx, batch)
			cancel()
			return
		case q := <-n.queue:
			batch = append(batch, q)
			if len(batch) >= n.batchSize {
				n.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				n.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (n *KafkaNotifier) drain(batch []queued) []queued {
	for {
		select {
		case q := <-n.queue:
			batch = append(batch, q)
		default:
			return batch
		}
	}
}

func (n *KafkaNotifier) flush(ctx context.Context, batch []queued) {
	if len(batch) == 0 {
		return
	}
	msgs := make([]kafka.Message, 0, len(batch))
	for _, q := range batch {
		payload, err := json.Marshal(q.event)
		if err != nil {
			n.metrics.ObserveDropped(q.event.Type)
			n.logger.Error("encode notification failed", "event_type", q.event.Type, "err", err)
			continue
		}
		msg := kafka.Message{
			Topic: q.event.Type,
			Key:   []byte(q.event.TenantID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(q.event.ID)},
				{Key: "event_type", Value: []byte(q.event.Type)},
			},
		}
		msg.Headers = kafkax.InjectTraceHeaders(q.ctx, msg.Headers)
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}
	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		n.logger.Error("notification publish failed", "count", len(msgs), "err", err)
		for _, m := range msgs {
			n.metrics.ObserveDropped(m.Topic)
		}
		return
	}
	for _, m := range msgs {
		n.metrics.ObservePublished(m.Topic)
	}
}
