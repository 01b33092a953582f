package repository

import (
	"context"
	"encoding/json"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TxBeginner starts transactions. *pgxpool.Pool satisfies it and it is the
// shape pgx.BeginTxFunc expects.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Conn is a pool-like handle that can both query and begin transactions.
type Conn interface {
	DBTX
	TxBeginner
}

// AccountRepository provides access to user_accounts.
type AccountRepository interface {
	// FindByID returns an account by ID, or nil if absent.
	FindByID(ctx context.Context, db DBTX, id int64) (*domain.Account, error)

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the account.
	LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Account, error)

	// Create inserts a new account and sets its ID.
	Create(ctx context.Context, db DBTX, account *domain.Account) error

	// AdjustBalance applies delta with server-side arithmetic. Returns nil
	// without error when the result would be negative.
	AdjustBalance(ctx context.Context, db DBTX, id int64, delta decimal.Decimal) (*domain.Account, error)
}

// TransactionRepository provides access to payment_transactions.
type TransactionRepository interface {
	// FindByReference checks the idempotency index for a duplicate transaction.
	FindByReference(ctx context.Context, db DBTX, accountID int64, txType domain.TransactionType, reference string) (*domain.PaymentTransaction, error)

	// Insert creates a row in any status and returns it.
	Insert(ctx context.Context, db DBTX, tx *domain.PaymentTransaction) (*domain.PaymentTransaction, error)

	// FindByID returns a transaction by ID.
	FindByID(ctx context.Context, db DBTX, id int64) (*domain.PaymentTransaction, error)

	// FindByProviderSessionID returns the row created for a provider checkout session.
	FindByProviderSessionID(ctx context.Context, db DBTX, sessionID string) (*domain.PaymentTransaction, error)

	// LockByProviderSessionID is FindByProviderSessionID with FOR UPDATE.
	LockByProviderSessionID(ctx context.Context, tx pgx.Tx, sessionID string) (*domain.PaymentTransaction, error)

	// CompletePending moves a PENDING row to COMPLETED. Returns false if the
	// row was no longer PENDING.
	CompletePending(ctx context.Context, db DBTX, id int64, balanceAfter decimal.Decimal, metadata json.RawMessage) (bool, error)

	// TransitionPending moves a PENDING row to FAILED or CANCELLED.
	TransitionPending(ctx context.Context, db DBTX, id int64, status domain.TransactionStatus) (bool, error)

	// ListByAccount returns transactions for an account, newest first.
	ListByAccount(ctx context.Context, db DBTX, accountID int64, limit int) ([]domain.PaymentTransaction, error)

	// SumCompleted returns the signed total of an account's COMPLETED rows
	// (credits positive, debits negative).
	SumCompleted(ctx context.Context, db DBTX, accountID int64) (decimal.Decimal, int, error)
}

// BetRepository provides access to bets.
type BetRepository interface {
	// Insert creates a Pending bet and returns it with ID and PlacedAt.
	Insert(ctx context.Context, db DBTX, bet *domain.Bet) (*domain.Bet, error)

	// FindByID returns a bet by ID.
	FindByID(ctx context.Context, db DBTX, id int64) (*domain.Bet, error)

	// ListPendingByEvent returns Pending bets for an event in ID order.
	ListPendingByEvent(ctx context.Context, db DBTX, eventID int64) ([]domain.Bet, error)

	// ListByAccount returns an account's bets, newest first.
	ListByAccount(ctx context.Context, db DBTX, accountID int64, limit int) ([]domain.Bet, error)

	// CompareAndSwapStatus updates status and payout only if the current
	// status equals from. Returns false when another writer got there first.
	CompareAndSwapStatus(ctx context.Context, db DBTX, betID int64, from, to domain.BetStatus, payout decimal.Decimal) (bool, error)
}

// EventRepository provides access to events and event_teams.
type EventRepository interface {
	// Create inserts an event with its teams and sets their IDs.
	Create(ctx context.Context, db DBTX, event *domain.Event) error

	// FindByID returns an event with teams.
	FindByID(ctx context.Context, db DBTX, id int64) (*domain.Event, error)

	// FindByExternalID returns an event by odds feed ID.
	FindByExternalID(ctx context.Context, db DBTX, externalID string) (*domain.Event, error)

	// ListOpen returns unsettled events ordered by start time.
	ListOpen(ctx context.Context, db DBTX, limit int) ([]domain.Event, error)

	// UpsertExternal inserts or refreshes a feed event and its team odds.
	// Settled events are left untouched.
	UpsertExternal(ctx context.Context, db DBTX, event *domain.Event) (*domain.Event, error)

	// ClaimSettlement fixes the resolution of an open event if no run has
	// claimed it yet, and returns the event with the claim that holds.
	ClaimSettlement(ctx context.Context, db DBTX, id int64, outcome string, winningTeamID *int64) (*domain.Event, error)

	// MarkSettled records the claimed outcome if none is recorded yet.
	MarkSettled(ctx context.Context, db DBTX, id int64, outcome string) (bool, error)
}

// ProductRepository provides access to the chip package catalog.
type ProductRepository interface {
	FindByID(ctx context.Context, db DBTX, id int64) (*domain.Product, error)
	ListActive(ctx context.Context, db DBTX) ([]domain.Product, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the ledger entry).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events for the outbox poller.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error)

	// MarkPublished deletes relayed events by sequence ID.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}
