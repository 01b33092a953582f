package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/oddssync"
	"github.com/chipline/sportsbook/internal/settlement"
	"github.com/hibiken/asynq"
)

// Settler settles one event.
type Settler interface {
	SettleEvent(ctx context.Context, req settlement.SettleRequest) (*settlement.Result, error)
}

// OddsSyncer runs one odds sync pass.
type OddsSyncer interface {
	SyncAll(ctx context.Context) (oddssync.Result, error)
}

// Processor handles background tasks.
type Processor struct {
	settler Settler
	syncer  OddsSyncer
	logger  *slog.Logger
}

// NewProcessor creates a task processor.
func NewProcessor(settler Settler, syncer OddsSyncer, logger *slog.Logger) *Processor {
	return &Processor{settler: settler, syncer: syncer, logger: logger}
}

// Register binds the task handlers on mux.
func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSettleEvent, p.HandleSettleEvent)
	mux.HandleFunc(TypeOddsSync, p.HandleOddsSync)
}

// HandleSettleEvent settles the event in the payload. A partial settlement
// returns an error so asynq retries and the engine resumes on the bets still
// Pending. Invalid requests are not retried.
func (p *Processor) HandleSettleEvent(ctx context.Context, t *asynq.Task) error {
	var req settlement.SettleRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("unmarshal settle payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := p.settler.SettleEvent(ctx, req)
	if err != nil {
		if appErr, ok := domain.AsAppError(err); ok && appErr.Status < 500 {
			p.logger.Warn("settlement task rejected", "event_id", req.EventID, "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("settle event %d: %w", req.EventID, err)
	}

	if result.AlreadySettled {
		p.logger.Info("settlement task skipped, event already settled", "event_id", req.EventID)
		return nil
	}
	if result.Failed > 0 {
		return fmt.Errorf("settle event %d: %d bets failed", req.EventID, result.Failed)
	}

	p.logger.Info("settlement task done",
		"event_id", req.EventID,
		"settled", result.Settled,
		"conflicts", result.Conflicts,
	)
	return nil
}

// HandleOddsSync runs a full odds sync.
func (p *Processor) HandleOddsSync(ctx context.Context, _ *asynq.Task) error {
	_, err := p.syncer.SyncAll(ctx)
	return err
}
