package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/jackc/pgx/v5"
)

// CompleteDeposit settles the PENDING deposit created for a checkout session:
// the row moves to COMPLETED and the balance is credited in one transaction.
// A second call for the same session returns the completed row with
// Idempotent set and changes nothing.
func (e *Engine) CompleteDeposit(ctx context.Context, tx pgx.Tx, sessionID string, metadata json.RawMessage) (*domain.CommandResult, error) {
	pending, err := e.transactions.LockByProviderSessionID(ctx, tx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("complete deposit: %w", err)
	}
	if pending == nil {
		return nil, domain.ErrNotFound("checkout session", sessionID)
	}

	// Lock
	account, err := e.LockAccountForUpdate(ctx, tx, pending.AccountID)
	if err != nil {
		return nil, fmt.Errorf("complete deposit: %w", err)
	}

	switch pending.Status {
	case domain.TxStatusCompleted:
		return &domain.CommandResult{Transaction: pending, Account: account, Idempotent: true}, nil
	case domain.TxStatusPending:
	default:
		return nil, domain.ErrConflict(fmt.Sprintf("deposit for session %s is %s", sessionID, pending.Status))
	}
	if pending.Type != domain.TxDeposit {
		return nil, domain.ErrConflict(fmt.Sprintf("session %s is not a deposit", sessionID))
	}

	updated, err := e.accounts.AdjustBalance(ctx, tx, pending.AccountID, pending.Amount)
	if err != nil {
		return nil, fmt.Errorf("complete deposit credit: %w", err)
	}
	if updated == nil {
		return nil, domain.ErrInternal("deposit credit rejected", nil)
	}

	ok, err := e.transactions.CompletePending(ctx, tx, pending.ID, updated.CreditBalance, ensureJSON(metadata))
	if err != nil {
		return nil, fmt.Errorf("complete deposit row: %w", err)
	}
	if !ok {
		return nil, domain.ErrConflict(fmt.Sprintf("deposit for session %s is no longer pending", sessionID))
	}

	completed := *pending
	completed.Status = domain.TxStatusCompleted
	balanceAfter := updated.CreditBalance
	completed.BalanceAfter = &balanceAfter

	if err := e.outbox.Insert(ctx, tx, domain.NewTransactionPostedEvent(&completed)); err != nil {
		return nil, fmt.Errorf("complete deposit outbox: %w", err)
	}

	e.metrics.LedgerEntry(string(domain.TxDeposit))
	return &domain.CommandResult{Transaction: &completed, Account: updated}, nil
}

// CancelPendingDeposit marks an abandoned or expired checkout deposit
// CANCELLED (or FAILED). Completed rows are untouched and reported as false.
func (e *Engine) CancelPendingDeposit(ctx context.Context, tx pgx.Tx, sessionID string, status domain.TransactionStatus) (bool, error) {
	pending, err := e.transactions.LockByProviderSessionID(ctx, tx, sessionID)
	if err != nil {
		return false, fmt.Errorf("cancel deposit: %w", err)
	}
	if pending == nil {
		return false, domain.ErrNotFound("checkout session", sessionID)
	}
	if pending.Status != domain.TxStatusPending {
		return false, nil
	}
	return e.transactions.TransitionPending(ctx, tx, pending.ID, status)
}
