package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chipline/sportsbook/internal/settlement"
	"github.com/hibiken/asynq"
)

// Queue enqueues tasks into Redis.
type Queue struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewQueue creates a queue client from a redis:// URL.
func NewQueue(redisURL string, logger *slog.Logger) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt), logger: logger}, nil
}

// EnqueueSettlement queues an event settlement. A settlement already queued
// for the same event is not an error.
func (q *Queue) EnqueueSettlement(ctx context.Context, req settlement.SettleRequest) error {
	task, err := NewSettleEventTask(req)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.logger.Debug("settlement already queued", "event_id", req.EventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue settlement for event %d: %w", req.EventID, err)
	}
	q.logger.Info("settlement enqueued", "event_id", req.EventID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

// EnqueueOddsSync queues an immediate odds sync.
func (q *Queue) EnqueueOddsSync(ctx context.Context) error {
	if _, err := q.client.EnqueueContext(ctx, NewOddsSyncTask()); err != nil {
		return fmt.Errorf("enqueue odds sync: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// ServerConfig returns the asynq server configuration used by cmd/worker.
func ServerConfig(redisURL string, concurrency int, logger *slog.Logger) (asynq.RedisConnOpt, asynq.Config, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, asynq.Config{}, fmt.Errorf("parse redis url: %w", err)
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", "type", task.Type(), "error", err)
		}),
	}, nil
}
