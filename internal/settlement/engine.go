package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/shopspring/decimal"
)

// ErrConcurrencyConflict is returned inside a bet transaction when the bet
// was no longer Pending at the time of the compare-and-swap.
var ErrConcurrencyConflict = errors.New("bet status changed concurrently")

// BetRepository is the narrow capability the engine needs over bets.
type BetRepository interface {
	LoadPendingByEvent(ctx context.Context, eventID int64) ([]domain.Bet, error)
	// WithinTx runs fn in one database transaction. A non-nil error from fn
	// rolls back every write fn made.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx BetTx) error) error
}

// BetTx is the set of writes allowed while settling a single bet.
type BetTx interface {
	// CompareAndSwapStatus moves a bet from one status to another and
	// records its payout. Returns false if the bet was not in from.
	CompareAndSwapStatus(ctx context.Context, betID int64, from, to domain.BetStatus, payout decimal.Decimal) (bool, error)
	// CreditBalance adds to the account balance and records the paired
	// COMPLETED payment transaction.
	CreditBalance(ctx context.Context, credit domain.BalanceCredit) error
}

// EventRepository is the narrow capability the engine needs over events.
type EventRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.Event, error)
	// ClaimOutcome fixes the event's resolution unless a run already did,
	// and returns the event carrying the claim that holds.
	ClaimOutcome(ctx context.Context, id int64, outcome string, winningTeamID *int64) (*domain.Event, error)
	// MarkSettled records the claimed outcome only while none is recorded.
	MarkSettled(ctx context.Context, id int64, outcome string) (bool, error)
}

// SettleRequest is the input of SettleEvent.
type SettleRequest struct {
	EventID       int64  `json:"eventId" validate:"required,gt=0"`
	Outcome       string `json:"outcome" validate:"required,max=128"`
	WinningTeamID *int64 `json:"winningTeamId,omitempty" validate:"omitempty,gt=0"`
}

// BetFailure describes a bet that was not settled by this call.
type BetFailure struct {
	BetID    int64  `json:"betId"`
	Reason   string `json:"reason"`
	Conflict bool   `json:"conflict"`
}

// Result summarises one SettleEvent call.
type Result struct {
	EventID        int64           `json:"eventId"`
	Outcome        string          `json:"outcome"`
	AlreadySettled bool            `json:"alreadySettled"`
	Settled        int             `json:"settled"`
	Won            int             `json:"won"`
	Lost           int             `json:"lost"`
	Cancelled      int             `json:"cancelled"`
	Conflicts      int             `json:"conflicts"`
	Failed         int             `json:"failed"`
	TotalPayout    decimal.Decimal `json:"totalPayout"`
	TotalRefund    decimal.Decimal `json:"totalRefund"`
	Failures       []BetFailure    `json:"failures,omitempty"`
}

// Complete reports whether the event outcome was recorded by this call.
func (r *Result) Complete() bool {
	return !r.AlreadySettled && r.Failed == 0
}

// Engine settles events: every Pending bet is resolved exactly once, each in
// its own short transaction pairing the status change with its balance credit.
type Engine struct {
	bets    BetRepository
	events  EventRepository
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewEngine creates a settlement engine.
func NewEngine(bets BetRepository, events EventRepository, metrics *infra.Metrics, logger *slog.Logger) *Engine {
	return &Engine{bets: bets, events: events, metrics: metrics, logger: logger}
}

// resolution is the terminal state chosen for one bet.
type resolution struct {
	status domain.BetStatus
	payout decimal.Decimal
	credit *domain.BalanceCredit
}

// SettleEvent resolves all Pending bets on the event.
//
// A settled event (non-empty outcome) is reported as AlreadySettled with no
// writes. Bets that lose the compare-and-swap to another writer are counted
// as conflicts and skipped. Bets whose transaction fails are rolled back,
// counted and skipped; the loop continues. The event outcome is recorded only
// when no bet failed, so a later call picks up the bets still Pending.
//
// The first call claims the resolution before touching any bet. A later call
// that asks for a different resolution gets a CONFLICT error and writes
// nothing.
func (e *Engine) SettleEvent(ctx context.Context, req SettleRequest) (*Result, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSettle(time.Since(start)) }()

	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}

	event, err := e.events.FindByID(ctx, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", req.EventID, err)
	}
	if event == nil {
		return nil, domain.ErrNotFound("event", strconv.FormatInt(req.EventID, 10))
	}

	result := &Result{
		EventID:     event.ID,
		TotalPayout: decimal.Zero,
		TotalRefund: decimal.Zero,
	}
	if event.Settled() {
		result.AlreadySettled = true
		result.Outcome = event.Outcome
		e.logger.Info("event already settled", "event_id", event.ID, "outcome", event.Outcome)
		return result, nil
	}

	cancel := domain.IsCancelOutcome(req.Outcome)
	outcome := domain.OutcomeCancelled
	var winner *int64
	if !cancel {
		if req.WinningTeamID == nil {
			return nil, domain.ErrValidation("winningTeamId is required unless the outcome cancels the event")
		}
		if _, ok := event.Team(*req.WinningTeamID); !ok {
			return nil, domain.ErrValidation(fmt.Sprintf("team %d does not participate in event %d", *req.WinningTeamID, event.ID))
		}
		winner = req.WinningTeamID
		outcome = strings.TrimSpace(req.Outcome)
	}

	claimed, err := e.events.ClaimOutcome(ctx, event.ID, outcome, winner)
	if err != nil {
		return nil, fmt.Errorf("claim outcome for event %d: %w", event.ID, err)
	}
	if claimed == nil {
		return nil, domain.ErrNotFound("event", strconv.FormatInt(req.EventID, 10))
	}
	if claimed.Settled() {
		result.AlreadySettled = true
		result.Outcome = claimed.Outcome
		e.logger.Info("event already settled", "event_id", event.ID, "outcome", claimed.Outcome)
		return result, nil
	}
	if !claimed.SameResolution(cancel, winner) {
		e.logger.Warn("settlement request conflicts with claimed outcome",
			"event_id", event.ID, "claimed", claimed.SettlingOutcome, "requested", outcome)
		return nil, domain.ErrConflict(fmt.Sprintf("event %d is already being settled with outcome %q", event.ID, claimed.SettlingOutcome))
	}
	result.Outcome = claimed.SettlingOutcome
	var winnerID int64
	if claimed.WinningTeamID != nil {
		winnerID = *claimed.WinningTeamID
	}

	bets, err := e.bets.LoadPendingByEvent(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("load pending bets for event %d: %w", event.ID, err)
	}

	e.logger.Info("settling event",
		"event_id", event.ID, "outcome", result.Outcome, "pending_bets", len(bets))

	for i, bet := range bets {
		if err := ctx.Err(); err != nil {
			remaining := len(bets) - i
			result.Failed += remaining
			e.logger.Warn("settlement interrupted", "event_id", event.ID, "remaining", remaining, "error", err)
			return result, fmt.Errorf("settle event %d interrupted: %w", event.ID, err)
		}

		res := resolve(bet, cancel, winnerID)
		err := e.bets.WithinTx(ctx, func(ctx context.Context, tx BetTx) error {
			ok, err := tx.CompareAndSwapStatus(ctx, bet.ID, domain.BetStatusPending, res.status, res.payout)
			if err != nil {
				return err
			}
			if !ok {
				return ErrConcurrencyConflict
			}
			if res.credit != nil {
				return tx.CreditBalance(ctx, *res.credit)
			}
			return nil
		})

		switch {
		case err == nil:
			e.record(result, res)
		case errors.Is(err, ErrConcurrencyConflict):
			result.Conflicts++
			result.Failures = append(result.Failures, BetFailure{BetID: bet.ID, Reason: err.Error(), Conflict: true})
			e.metrics.SettlementFailure("conflict")
			e.logger.Warn("bet settlement conflict", "event_id", event.ID, "bet_id", bet.ID)
		default:
			result.Failed++
			result.Failures = append(result.Failures, BetFailure{BetID: bet.ID, Reason: err.Error()})
			e.metrics.SettlementFailure("error")
			e.logger.Error("bet settlement failed", "event_id", event.ID, "bet_id", bet.ID, "error", err)
		}
	}

	if result.Failed > 0 {
		e.logger.Warn("event left open after partial settlement",
			"event_id", event.ID, "settled", result.Settled, "failed", result.Failed)
		return result, nil
	}

	marked, err := e.events.MarkSettled(ctx, event.ID, result.Outcome)
	if err != nil {
		return result, fmt.Errorf("mark event %d settled: %w", event.ID, err)
	}
	if !marked {
		e.logger.Warn("event outcome recorded by a concurrent settlement", "event_id", event.ID)
	}

	e.logger.Info("event settled",
		"event_id", event.ID,
		"outcome", result.Outcome,
		"won", result.Won,
		"lost", result.Lost,
		"cancelled", result.Cancelled,
		"conflicts", result.Conflicts,
		"total_payout", result.TotalPayout.String(),
		"total_refund", result.TotalRefund.String(),
	)
	return result, nil
}

func resolve(bet domain.Bet, cancel bool, winnerID int64) resolution {
	switch {
	case cancel:
		return resolution{
			status: domain.BetStatusCancelled,
			payout: decimal.Zero,
			credit: &domain.BalanceCredit{
				AccountID: bet.AccountID,
				BetID:     bet.ID,
				Type:      domain.TxRefund,
				Amount:    bet.Stake,
			},
		}
	case bet.TeamID == winnerID:
		payout := bet.WinningPayout()
		return resolution{
			status: domain.BetStatusWon,
			payout: payout,
			credit: &domain.BalanceCredit{
				AccountID: bet.AccountID,
				BetID:     bet.ID,
				Type:      domain.TxPayout,
				Amount:    payout,
			},
		}
	default:
		return resolution{status: domain.BetStatusLost, payout: decimal.Zero}
	}
}

func (e *Engine) record(result *Result, res resolution) {
	result.Settled++
	e.metrics.BetSettled(string(res.status))
	switch res.status {
	case domain.BetStatusWon:
		result.Won++
		result.TotalPayout = result.TotalPayout.Add(res.payout)
	case domain.BetStatusLost:
		result.Lost++
	case domain.BetStatusCancelled:
		result.Cancelled++
		result.TotalRefund = result.TotalRefund.Add(res.credit.Amount)
	}
}
