package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/metrics"
	"github.com/attaboy/adaptiveauth/internal/repository"
)

// Publisher sends one message to a topic. KafkaProducer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// OutboxPoller polls the event_outbox table and publishes events to Kafka.
// Published rows are deleted; a row whose publish fails stays for the next
// poll, and rows after it in the batch are held back to keep per-key order.
type OutboxPoller struct {
	db          repository.DBTX
	outbox      repository.OutboxRepository
	publisher   Publisher
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	topicPrefix string
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(db repository.DBTX, outbox repository.OutboxRepository, publisher Publisher, cfg *Config, logger *slog.Logger) *OutboxPoller {
	p := &OutboxPoller{
		db:          db,
		outbox:      outbox,
		publisher:   publisher,
		logger:      logger,
		interval:    cfg.OutboxInterval,
		batchSize:   cfg.OutboxBatchSize,
		topicPrefix: cfg.KafkaTopicPrefix,
	}
	if p.interval <= 0 {
		p.interval = 500 * time.Millisecond
	}
	if p.batchSize <= 0 {
		p.batchSize = 100
	}
	return p
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// Poll publishes one batch and returns how many events were relayed.
func (p *OutboxPoller) Poll(ctx context.Context) (int, error) {
	events, err := p.outbox.FetchUnpublished(ctx, p.db, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		metrics.OutboxPending.Set(0)
		return 0, nil
	}

	published := make([]int64, 0, len(events))
	for _, e := range events {
		msg, err := json.Marshal(envelope(e))
		if err != nil {
			p.logger.Error("encode outbox event failed", "event_id", e.EventID, "error", err)
			break
		}
		if err := p.publisher.Publish(ctx, p.Topic(e.EventType), []byte(e.PartitionKey), msg); err != nil {
			p.logger.Error("kafka publish failed", "event_id", e.EventID, "error", err)
			break
		}
		published = append(published, e.SeqID)
	}

	if err := p.outbox.MarkPublished(ctx, p.db, published); err != nil {
		return 0, err
	}
	metrics.OutboxPublishedTotal.Add(float64(len(published)))
	p.updatePending(ctx)
	p.logger.Debug("outbox poll complete", "published", len(published), "fetched", len(events))
	return len(published), nil
}

func (p *OutboxPoller) updatePending(ctx context.Context) {
	n, err := p.outbox.Pending(ctx, p.db)
	if err != nil {
		p.logger.Warn("outbox backlog not sampled", "error", err)
		return
	}
	metrics.OutboxPending.Set(float64(n))
}

// Topic names the Kafka topic of an event type, e.g. adaptiveauth.auth.risk.assessed.
func (p *OutboxPoller) Topic(evt domain.EventType) string {
	return p.topicPrefix + "." + string(evt)
}

type outboxEnvelope struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Headers       json.RawMessage `json:"headers,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func envelope(e domain.OutboxRow) outboxEnvelope {
	return outboxEnvelope{
		EventID:       e.EventID.String(),
		AggregateType: string(e.AggregateType),
		AggregateID:   e.AggregateID,
		EventType:     string(e.EventType),
		Headers:       e.Headers,
		Payload:       e.Payload,
		OccurredAt:    e.OccurredAt,
	}
}
