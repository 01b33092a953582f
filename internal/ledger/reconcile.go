package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/repository"
	"github.com/shopspring/decimal"
)

// InvariantCheck records a single invariant validation.
type InvariantCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// ReconcileResult is the outcome of checking an account against its ledger.
type ReconcileResult struct {
	AccountID        int64            `json:"accountId"`
	Balance          decimal.Decimal  `json:"balance"`
	LedgerTotal      decimal.Decimal  `json:"ledgerTotal"`
	TransactionCount int              `json:"transactionCount"`
	Invariants       []InvariantCheck `json:"invariants"`
	AllPassed        bool             `json:"allPassed"`
}

// Reconcile compares an account's balance with the signed sum of its
// COMPLETED payment transactions.
func (e *Engine) Reconcile(ctx context.Context, db repository.DBTX, accountID int64) (*ReconcileResult, error) {
	account, err := e.accounts.FindByID(ctx, db, accountID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if account == nil {
		return nil, domain.ErrNotFound("account", strconv.FormatInt(accountID, 10))
	}

	total, count, err := e.transactions.SumCompleted(ctx, db, accountID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	checks := CheckInvariants(account, total)
	result := &ReconcileResult{
		AccountID:        accountID,
		Balance:          account.CreditBalance,
		LedgerTotal:      total,
		TransactionCount: count,
		Invariants:       checks,
		AllPassed:        true,
	}
	for _, c := range checks {
		if !c.Passed {
			result.AllPassed = false
		}
	}
	return result, nil
}

// CheckInvariants validates an account against its ledger total:
//  1. Balance non-negativity
//  2. Ledger parity: every balance change is paired with a COMPLETED row
func CheckInvariants(account *domain.Account, ledgerTotal decimal.Decimal) []InvariantCheck {
	return []InvariantCheck{
		{
			Name:   "balance_non_negative",
			Passed: !account.CreditBalance.IsNegative(),
			Detail: fmt.Sprintf("balance=%s", account.CreditBalance),
		},
		{
			Name:   "ledger_parity",
			Passed: ledgerTotal.Equal(account.CreditBalance),
			Detail: fmt.Sprintf("account=%s ledger=%s", account.CreditBalance, ledgerTotal),
		},
	}
}
