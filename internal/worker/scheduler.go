package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SyncEnqueuer queues an odds sync pass.
type SyncEnqueuer interface {
	EnqueueOddsSync(ctx context.Context) error
}

// enqueueTimeout bounds one scheduled enqueue.
const enqueueTimeout = 10 * time.Second

// NewScheduler returns a cron that enqueues an odds sync on spec. The spec
// accepts a leading seconds field and descriptors such as "@every 10m".
// The caller starts and stops it.
func NewScheduler(spec string, q SyncEnqueuer, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()
		if err := q.EnqueueOddsSync(ctx); err != nil {
			logger.Error("enqueue odds sync failed", "error", err)
			return
		}
		logger.Debug("odds sync enqueued")
	})
	if err != nil {
		return nil, fmt.Errorf("schedule odds sync %q: %w", spec, err)
	}
	return c, nil
}
