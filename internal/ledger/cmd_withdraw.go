package ledger

import (
	"context"
	"fmt"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ExecuteWithdraw debits chips from the account. The balance may not go negative.
func (e *Engine) ExecuteWithdraw(ctx context.Context, tx pgx.Tx, params domain.WithdrawParams) (*domain.CommandResult, error) {
	if err := domain.ValidatePositiveAmount(params.Amount); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	// Lock
	account, err := e.LockAccountForUpdate(ctx, tx, params.AccountID)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}

	// Idempotency check
	existing, err := e.FindExistingTransaction(ctx, tx, params.AccountID, domain.TxWithdrawal, params.Reference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.CommandResult{Transaction: existing, Account: account, Idempotent: true}, nil
	}

	if !account.HasFunds(params.Amount) {
		return nil, domain.ErrInsufficientBalance()
	}

	entry, updated, err := e.PostEntry(ctx, tx, domain.EntryParams{
		AccountID: params.AccountID,
		Type:      domain.TxWithdrawal,
		Amount:    params.Amount,
		Delta:     params.Amount.Neg(),
		Reference: strPtr(params.Reference),
		Metadata:  params.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("withdraw post: %w", err)
	}

	return &domain.CommandResult{Transaction: entry, Account: updated}, nil
}
