// Package worker defines the asynq tasks run by cmd/worker and the queue
// client the API and the odds sync use to enqueue them.
package worker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/chipline/sportsbook/internal/settlement"
	"github.com/hibiken/asynq"
)

// Task types.
const (
	TypeSettleEvent = "settlement:event"
	TypeOddsSync    = "odds:sync"
)

// Queue names and their asynq priority weights.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// NewSettleEventTask builds a settlement task. The task ID is derived from
// the event so a second enqueue while one is pending or retained is rejected.
func NewSettleEventTask(req settlement.SettleRequest) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal settle payload: %w", err)
	}
	return asynq.NewTask(TypeSettleEvent, payload,
		asynq.TaskID("settle:"+strconv.FormatInt(req.EventID, 10)),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.Retention(24*time.Hour),
	), nil
}

// NewOddsSyncTask builds a one-off odds sync task.
func NewOddsSyncTask() *asynq.Task {
	return asynq.NewTask(TypeOddsSync, nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
	)
}
