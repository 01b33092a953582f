package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chipline/sportsbook/internal/domain"
)

// OutboxSource reads and acknowledges rows of the event_outbox table.
type OutboxSource interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxDraft, error)
	MarkPublished(ctx context.Context, seqIDs []int64) error
}

// Publisher delivers one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// OutboxPoller polls the event_outbox table and publishes events to Kafka.
type OutboxPoller struct {
	source      OutboxSource
	producer    Publisher
	metrics     *Metrics
	logger      *slog.Logger
	topicPrefix string
	interval    time.Duration
	batchSize   int
}

// OutboxPollerOption tunes an OutboxPoller.
type OutboxPollerOption func(*OutboxPoller)

// WithPollInterval sets the delay between polls.
func WithPollInterval(d time.Duration) OutboxPollerOption {
	return func(p *OutboxPoller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithBatchSize sets the number of rows fetched per poll.
func WithBatchSize(n int) OutboxPollerOption {
	return func(p *OutboxPoller) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(source OutboxSource, producer Publisher, topicPrefix string, metrics *Metrics, logger *slog.Logger, opts ...OutboxPollerOption) *OutboxPoller {
	p := &OutboxPoller{
		source:      source,
		producer:    producer,
		metrics:     metrics,
		logger:      logger,
		topicPrefix: topicPrefix,
		interval:    500 * time.Millisecond,
		batchSize:   100,
	}
	for _, opt := range opts {
		opt(p)
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
			if _, err := p.PollOnce(ctx); err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// Start runs the poller in a goroutine.
func (p *OutboxPoller) Start(ctx context.Context) {
	go p.Run(ctx)
}

// Topic returns the Kafka topic for an outbox event.
func (p *OutboxPoller) Topic(d domain.OutboxDraft) string {
	return p.topicPrefix + "." + string(d.AggregateType)
}

// PollOnce publishes one batch in sequence order and returns how many rows
// were acknowledged. Publishing stops at the first failure so later events
// for the same aggregate are not delivered ahead of it.
func (p *OutboxPoller) PollOnce(ctx context.Context) (int, error) {
	events, err := p.source.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(events))
	var publishErr error
	for _, e := range events {
		msg, err := json.Marshal(e)
		if err != nil {
			publishErr = fmt.Errorf("marshal event %s: %w", e.EventID, err)
			break
		}

		if err := p.producer.Publish(ctx, p.Topic(e), []byte(e.PartitionKey), msg); err != nil {
			p.logger.Error("kafka publish failed", "event_id", e.EventID, "error", err)
			p.metrics.OutboxPublished("error")
			publishErr = fmt.Errorf("publish event %s: %w", e.EventID, err)
			break
		}
		p.metrics.OutboxPublished("ok")
		published = append(published, e.SeqID)
	}

	if len(published) > 0 {
		if err := p.source.MarkPublished(ctx, published); err != nil {
			return 0, fmt.Errorf("mark published: %w", err)
		}
	}

	p.logger.Debug("outbox poll complete", "published", len(published))
	return len(published), publishErr
}
