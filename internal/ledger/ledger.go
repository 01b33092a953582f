package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/chipline/sportsbook/internal/repository"
	"github.com/jackc/pgx/v5"
)

// Engine provides the 3 foundational ledger operations:
//  1. LockAccountForUpdate — row-level pessimistic lock
//  2. FindExistingTransaction — idempotency check by reference
//  3. PostEntry — guarded balance update + COMPLETED row + outbox event
type Engine struct {
	accounts     repository.AccountRepository
	transactions repository.TransactionRepository
	bets         repository.BetRepository
	outbox       repository.OutboxRepository
	metrics      *infra.Metrics
}

// NewEngine creates a ledger engine with the given repositories.
func NewEngine(
	accounts repository.AccountRepository,
	transactions repository.TransactionRepository,
	bets repository.BetRepository,
	outbox repository.OutboxRepository,
	metrics *infra.Metrics,
) *Engine {
	return &Engine{
		accounts:     accounts,
		transactions: transactions,
		bets:         bets,
		outbox:       outbox,
		metrics:      metrics,
	}
}

// LockAccountForUpdate acquires a row-level lock and returns the account.
// Must be called within a transaction.
func (e *Engine) LockAccountForUpdate(ctx context.Context, tx pgx.Tx, accountID int64) (*domain.Account, error) {
	account, err := e.accounts.LockForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if account == nil {
		return nil, domain.ErrNotFound("account", strconv.FormatInt(accountID, 10))
	}
	return account, nil
}

// FindExistingTransaction returns the row already posted under reference, or nil.
func (e *Engine) FindExistingTransaction(ctx context.Context, tx pgx.Tx, accountID int64, txType domain.TransactionType, reference string) (*domain.PaymentTransaction, error) {
	if reference == "" {
		return nil, nil
	}
	existing, err := e.transactions.FindByReference(ctx, tx, accountID, txType, reference)
	if err != nil {
		return nil, fmt.Errorf("find existing transaction: %w", err)
	}
	return existing, nil
}

// PostEntry atomically updates the credit balance and inserts a COMPLETED
// payment transaction. Every command delegates here.
//
// Steps:
//  1. Update balance with server-side arithmetic (rejects a negative result)
//  2. Insert the transaction with the post-update balance snapshot
//  3. Insert outbox event
//
// All 3 steps run within the caller's transaction.
func (e *Engine) PostEntry(ctx context.Context, tx pgx.Tx, params domain.EntryParams) (*domain.PaymentTransaction, *domain.Account, error) {
	if err := domain.ValidatePositiveAmount(params.Amount); err != nil {
		return nil, nil, domain.ErrValidation(err.Error())
	}

	// Step 1: guarded balance update
	updated, err := e.accounts.AdjustBalance(ctx, tx, params.AccountID, params.Delta)
	if err != nil {
		return nil, nil, fmt.Errorf("update balance: %w", err)
	}
	if updated == nil {
		return nil, nil, domain.ErrInsufficientBalance()
	}

	// Step 2: append-only row with balance snapshot
	balanceAfter := updated.CreditBalance
	entry, err := e.transactions.Insert(ctx, tx, &domain.PaymentTransaction{
		AccountID:    params.AccountID,
		Type:         params.Type,
		Amount:       params.Amount,
		Status:       domain.TxStatusCompleted,
		BetID:        params.BetID,
		ProductID:    params.ProductID,
		Provider:     params.Provider,
		Reference:    params.Reference,
		BalanceAfter: &balanceAfter,
		Metadata:     ensureJSON(params.Metadata),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("insert transaction: %w", err)
	}

	// Step 3: outbox event in the same transaction
	if err := e.outbox.Insert(ctx, tx, domain.NewTransactionPostedEvent(entry)); err != nil {
		return nil, nil, fmt.Errorf("insert outbox event: %w", err)
	}

	e.metrics.LedgerEntry(string(params.Type))
	return entry, updated, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ensureJSON(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage(`{}`)
	}
	return data
}

func mergeMeta(base json.RawMessage, extra map[string]interface{}) json.RawMessage {
	merged := make(map[string]interface{})
	if len(base) > 0 {
		_ = json.Unmarshal(base, &merged)
	}
	for k, v := range extra {
		merged[k] = v
	}
	out, _ := json.Marshal(merged)
	return out
}
