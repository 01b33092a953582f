package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates balance-affecting operations.
type TransactionType string

const (
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
	TxBet        TransactionType = "BET"
	TxPayout     TransactionType = "PAYOUT"
	TxRefund     TransactionType = "REFUND"
)

// IsCredit reports whether the type adds to the balance.
func (t TransactionType) IsCredit() bool {
	return t == TxDeposit || t == TxPayout || t == TxRefund
}

// TransactionStatus tracks the payment_transactions lifecycle.
type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "PENDING"
	TxStatusCompleted TransactionStatus = "COMPLETED"
	TxStatusFailed    TransactionStatus = "FAILED"
	TxStatusCancelled TransactionStatus = "CANCELLED"
)

// PaymentTransaction represents a payment_transactions row. Once COMPLETED,
// Amount and Type are immutable.
type PaymentTransaction struct {
	ID                int64             `json:"id"`
	AccountID         int64             `json:"account_id"`
	Type              TransactionType   `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	Status            TransactionStatus `json:"status"`
	BetID             *int64            `json:"bet_id,omitempty"`
	ProductID         *int64            `json:"product_id,omitempty"`
	Provider          *string           `json:"provider,omitempty"`
	ProviderSessionID *string           `json:"provider_session_id,omitempty"`
	Reference         *string           `json:"reference,omitempty"`
	BalanceAfter      *decimal.Decimal  `json:"balance_after,omitempty"`
	Metadata          json.RawMessage   `json:"metadata"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// EntryParams is the input to the ledger's atomic PostEntry operation.
// Delta is signed: positive credits, negative debits.
type EntryParams struct {
	AccountID int64
	Type      TransactionType
	Amount    decimal.Decimal
	Delta     decimal.Decimal
	BetID     *int64
	ProductID *int64
	Provider  *string
	Reference *string
	Metadata  json.RawMessage
}

// CreditParams holds the input for ExecuteCredit (deposit, payout, refund).
type CreditParams struct {
	AccountID int64
	Type      TransactionType
	Amount    decimal.Decimal
	BetID     *int64
	ProductID *int64
	Provider  string
	Reference string
	Metadata  json.RawMessage
}

// PlaceBetParams holds the input for ExecutePlaceBet.
type PlaceBetParams struct {
	AccountID int64
	EventID   int64
	TeamID    int64
	Stake     decimal.Decimal
	Odds      decimal.Decimal
	Reference string
}

// WithdrawParams holds the input for ExecuteWithdraw.
type WithdrawParams struct {
	AccountID int64
	Amount    decimal.Decimal
	Reference string
	Metadata  json.RawMessage
}

// CommandResult is the return value from all ledger commands.
type CommandResult struct {
	Transaction *PaymentTransaction
	Account     *Account
	Bet         *Bet
	Idempotent  bool // true if this was a duplicate that returned the existing row
}

// BalanceCredit is a settlement credit applied inside a bet transaction:
// PAYOUT for a won bet, REFUND for a cancelled one.
type BalanceCredit struct {
	AccountID int64
	BetID     int64
	Type      TransactionType
	Amount    decimal.Decimal
	Reference string
}
