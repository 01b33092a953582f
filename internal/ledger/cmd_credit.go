package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ExecuteCredit adds chips to an account: DEPOSIT, PAYOUT or REFUND.
// Pattern: Lock → Idempotency → PostEntry
func (e *Engine) ExecuteCredit(ctx context.Context, tx pgx.Tx, params domain.CreditParams) (*domain.CommandResult, error) {
	if !params.Type.IsCredit() {
		return nil, domain.ErrValidation(fmt.Sprintf("%s is not a credit type", params.Type))
	}
	if err := domain.ValidatePositiveAmount(params.Amount); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	// Lock
	account, err := e.LockAccountForUpdate(ctx, tx, params.AccountID)
	if err != nil {
		return nil, fmt.Errorf("credit: %w", err)
	}

	// Idempotency check
	existing, err := e.FindExistingTransaction(ctx, tx, params.AccountID, params.Type, params.Reference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.CommandResult{Transaction: existing, Account: account, Idempotent: true}, nil
	}

	entry, updated, err := e.PostEntry(ctx, tx, domain.EntryParams{
		AccountID: params.AccountID,
		Type:      params.Type,
		Amount:    params.Amount,
		Delta:     params.Amount,
		BetID:     params.BetID,
		ProductID: params.ProductID,
		Provider:  strPtr(params.Provider),
		Reference: strPtr(params.Reference),
		Metadata:  params.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("credit post: %w", err)
	}

	return &domain.CommandResult{Transaction: entry, Account: updated}, nil
}

// CreditSettlement posts the PAYOUT or REFUND for one settled bet. The
// reference is derived from the bet so a replayed credit is a no-op.
func (e *Engine) CreditSettlement(ctx context.Context, tx pgx.Tx, credit domain.BalanceCredit) (*domain.CommandResult, error) {
	if credit.Type != domain.TxPayout && credit.Type != domain.TxRefund {
		return nil, domain.ErrValidation(fmt.Sprintf("settlement credit must be PAYOUT or REFUND, got %s", credit.Type))
	}
	ref := credit.Reference
	if ref == "" {
		ref = SettlementReference(credit.BetID, credit.Type)
	}
	betID := credit.BetID
	return e.ExecuteCredit(ctx, tx, domain.CreditParams{
		AccountID: credit.AccountID,
		Type:      credit.Type,
		Amount:    credit.Amount,
		BetID:     &betID,
		Reference: ref,
		Metadata: mergeMeta(nil, map[string]interface{}{
			"betId": credit.BetID,
		}),
	})
}

// SettlementReference is the idempotency key of a bet's settlement credit.
func SettlementReference(betID int64, txType domain.TransactionType) string {
	return "settle:" + strconv.FormatInt(betID, 10) + ":" + string(txType)
}
