package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a user_accounts row. CreditBalance is the single
// mutable chip balance; every change to it is paired with a
// payment_transactions row.
type Account struct {
	ID            int64           `json:"id"`
	Email         string          `json:"email"`
	DisplayName   string          `json:"display_name"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HasFunds reports whether the balance covers amount.
func (a *Account) HasFunds(amount decimal.Decimal) bool {
	return a.CreditBalance.GreaterThanOrEqual(amount)
}
