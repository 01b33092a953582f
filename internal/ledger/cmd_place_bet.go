package ledger

import (
	"context"
	"fmt"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ExecutePlaceBet debits the stake and records a Pending bet at the quoted odds.
func (e *Engine) ExecutePlaceBet(ctx context.Context, tx pgx.Tx, params domain.PlaceBetParams) (*domain.CommandResult, error) {
	if err := domain.ValidatePositiveAmount(params.Stake); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidateOdds(params.Odds); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	// Lock
	account, err := e.LockAccountForUpdate(ctx, tx, params.AccountID)
	if err != nil {
		return nil, fmt.Errorf("place bet: %w", err)
	}

	// Idempotency check
	existing, err := e.FindExistingTransaction(ctx, tx, params.AccountID, domain.TxBet, params.Reference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result := &domain.CommandResult{Transaction: existing, Account: account, Idempotent: true}
		if existing.BetID != nil {
			bet, err := e.bets.FindByID(ctx, tx, *existing.BetID)
			if err != nil {
				return nil, fmt.Errorf("load existing bet: %w", err)
			}
			result.Bet = bet
		}
		return result, nil
	}

	if !account.HasFunds(params.Stake) {
		return nil, domain.ErrInsufficientBalance()
	}

	bet, err := e.bets.Insert(ctx, tx, &domain.Bet{
		AccountID: params.AccountID,
		EventID:   params.EventID,
		TeamID:    params.TeamID,
		Stake:     params.Stake,
		Odds:      params.Odds,
		Status:    domain.BetStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("place bet insert: %w", err)
	}

	betID := bet.ID
	entry, updated, err := e.PostEntry(ctx, tx, domain.EntryParams{
		AccountID: params.AccountID,
		Type:      domain.TxBet,
		Amount:    params.Stake,
		Delta:     params.Stake.Neg(),
		BetID:     &betID,
		Reference: strPtr(params.Reference),
		Metadata: mergeMeta(nil, map[string]interface{}{
			"eventId": params.EventID,
			"teamId":  params.TeamID,
			"odds":    params.Odds.String(),
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("place bet post: %w", err)
	}

	if err := e.outbox.Insert(ctx, tx, domain.NewBetPlacedEvent(bet)); err != nil {
		return nil, fmt.Errorf("place bet outbox: %w", err)
	}

	return &domain.CommandResult{Transaction: entry, Account: updated, Bet: bet}, nil
}
