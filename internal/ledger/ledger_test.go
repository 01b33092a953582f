package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/chipline/sportsbook/internal/repository/repotest"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine(store *repotest.Store) *Engine {
	return NewEngine(store.Accounts(), store.TransactionRepo(), store.Bets(), store.OutboxRepo(), infra.NewMetrics())
}

// inTx runs fn the way services do, so rollback semantics apply.
func inTx(t *testing.T, store *repotest.Store, fn func(tx pgx.Tx) error) error {
	t.Helper()
	return pgx.BeginTxFunc(context.Background(), store, pgx.TxOptions{}, fn)
}

func TestExecuteCredit(t *testing.T) {
	store := repotest.NewStore()
	engine := newTestEngine(store)
	acct := store.AddAccount("a@example.com", decimal.Zero)

	var result *domain.CommandResult
	err := inTx(t, store, func(tx pgx.Tx) error {
		var err error
		result, err = engine.ExecuteCredit(context.Background(), tx, domain.CreditParams{
			AccountID: acct, Type: domain.TxDeposit, Amount: d("500"), Reference: "dep-1", Provider: "stripe",
		})
		return err
	})
	require.NoError(t, err)
	assert.False(t, result.Idempotent)
	assert.True(t, result.Account.CreditBalance.Equal(d("500")))
	assert.Equal(t, domain.TxStatusCompleted, result.Transaction.Status)
	require.NotNil(t, result.Transaction.BalanceAfter)
	assert.True(t, result.Transaction.BalanceAfter.Equal(d("500")))

	outbox := store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, domain.EventTransactionPosted, outbox[0].EventType)

	t.Run("same reference is idempotent", func(t *testing.T) {
		err := inTx(t, store, func(tx pgx.Tx) error {
			var err error
			result, err = engine.ExecuteCredit(context.Background(), tx, domain.CreditParams{
				AccountID: acct, Type: domain.TxDeposit, Amount: d("500"), Reference: "dep-1",
			})
			return err
		})
		require.NoError(t, err)
		assert.True(t, result.Idempotent)
		assert.True(t, store.Account(acct).CreditBalance.Equal(d("500")))
		assert.Len(t, store.Transactions(), 1)
	})

	t.Run("debit type rejected", func(t *testing.T) {
		err := inTx(t, store, func(tx pgx.Tx) error {
			_, err := engine.ExecuteCredit(context.Background(), tx, domain.CreditParams{
				AccountID: acct, Type: domain.TxBet, Amount: d("1"),
			})
			return err
		})
		assert.True(t, domain.IsCode(err, "VALIDATION_ERROR"))
	})

	t.Run("unknown account", func(t *testing.T) {
		err := inTx(t, store, func(tx pgx.Tx) error {
			_, err := engine.ExecuteCredit(context.Background(), tx, domain.CreditParams{
				AccountID: 9999, Type: domain.TxDeposit, Amount: d("1"),
			})
			return err
		})
		assert.True(t, domain.IsCode(err, "NOT_FOUND"))
	})
}

func TestExecutePlaceBet(t *testing.T) {
	store := repotest.NewStore()
	engine := newTestEngine(store)
	acct := store.AddAccount("b@example.com", d("100"))

	var result *domain.CommandResult
	err := inTx(t, store, func(tx pgx.Tx) error {
		var err error
		result, err = engine.ExecutePlaceBet(context.Background(), tx, domain.PlaceBetParams{
			AccountID: acct, EventID: 42, TeamID: 1, Stake: d("40"), Odds: d("2.5"), Reference: "bet-1",
		})
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, result.Bet)
	assert.Equal(t, domain.BetStatusPending, result.Bet.Status)
	assert.True(t, result.Account.CreditBalance.Equal(d("60")))
	require.NotNil(t, result.Transaction.BetID)
	assert.Equal(t, result.Bet.ID, *result.Transaction.BetID)

	// transaction posted + bet placed
	assert.Len(t, store.Outbox(), 2)

	t.Run("replay returns the same bet", func(t *testing.T) {
		err := inTx(t, store, func(tx pgx.Tx) error {
			var err error
			result, err = engine.ExecutePlaceBet(context.Background(), tx, domain.PlaceBetParams{
				AccountID: acct, EventID: 42, TeamID: 1, Stake: d("40"), Odds: d("2.5"), Reference: "bet-1",
			})
			return err
		})
		require.NoError(t, err)
		assert.True(t, result.Idempotent)
		require.NotNil(t, result.Bet)
		assert.True(t, store.Account(acct).CreditBalance.Equal(d("60")))
	})

	t.Run("insufficient balance leaves no bet behind", func(t *testing.T) {
		before := len(store.Transactions())
		err := inTx(t, store, func(tx pgx.Tx) error {
			_, err := engine.ExecutePlaceBet(context.Background(), tx, domain.PlaceBetParams{
				AccountID: acct, EventID: 42, TeamID: 1, Stake: d("60.01"), Odds: d("2"),
			})
			return err
		})
		assert.True(t, domain.IsCode(err, "INSUFFICIENT_BALANCE"))
		assert.Len(t, store.Transactions(), before)
		assert.True(t, store.Account(acct).CreditBalance.Equal(d("60")))
	})

	t.Run("odds must exceed one", func(t *testing.T) {
		err := inTx(t, store, func(tx pgx.Tx) error {
			_, err := engine.ExecutePlaceBet(context.Background(), tx, domain.PlaceBetParams{
				AccountID: acct, EventID: 42, TeamID: 1, Stake: d("1"), Odds: d("1"),
			})
			return err
		})
		assert.True(t, domain.IsCode(err, "VALIDATION_ERROR"))
	})
}

func TestExecuteWithdraw(t *testing.T) {
	store := repotest.NewStore()
	engine := newTestEngine(store)
	acct := store.AddAccount("c@example.com", d("50"))

	err := inTx(t, store, func(tx pgx.Tx) error {
		_, err := engine.ExecuteWithdraw(context.Background(), tx, domain.WithdrawParams{AccountID: acct, Amount: d("50")})
		return err
	})
	require.NoError(t, err)
	assert.True(t, store.Account(acct).CreditBalance.IsZero())

	err = inTx(t, store, func(tx pgx.Tx) error {
		_, err := engine.ExecuteWithdraw(context.Background(), tx, domain.WithdrawParams{AccountID: acct, Amount: d("0.01")})
		return err
	})
	assert.True(t, domain.IsCode(err, "INSUFFICIENT_BALANCE"))
	assert.True(t, store.Account(acct).CreditBalance.IsZero())
}

func seedPendingDeposit(t *testing.T, store *repotest.Store, acct int64, sessionID string, amount decimal.Decimal) {
	t.Helper()
	provider := "stripe"
	_, err := store.TransactionRepo().Insert(context.Background(), store.DB(), &domain.PaymentTransaction{
		AccountID:         acct,
		Type:              domain.TxDeposit,
		Amount:            amount,
		Status:            domain.TxStatusPending,
		Provider:          &provider,
		ProviderSessionID: &sessionID,
	})
	require.NoError(t, err)
}

func TestCompleteDeposit(t *testing.T) {
	store := repotest.NewStore()
	engine := newTestEngine(store)
	acct := store.AddAccount("d@example.com", d("10"))
	seedPendingDeposit(t, store, acct, "cs_test_1", d("500"))

	var result *domain.CommandResult
	err := inTx(t, store, func(tx pgx.Tx) error {
		var err error
		result, err = engine.CompleteDeposit(context.Background(), tx, "cs_test_1", json.RawMessage(`{"payment_intent":"pi_1"}`))
		return err
	})
	require.NoError(t, err)
	assert.False(t, result.Idempotent)
	assert.Equal(t, domain.TxStatusCompleted, result.Transaction.Status)
	assert.True(t, store.Account(acct).CreditBalance.Equal(d("510")))

	t.Run("webhook replay credits once", func(t *testing.T) {
		err := inTx(t, store, func(tx pgx.Tx) error {
			var err error
			result, err = engine.CompleteDeposit(context.Background(), tx, "cs_test_1", nil)
			return err
		})
		require.NoError(t, err)
		assert.True(t, result.Idempotent)
		assert.True(t, store.Account(acct).CreditBalance.Equal(d("510")))
	})

	t.Run("unknown session", func(t *testing.T) {
		err := inTx(t, store, func(tx pgx.Tx) error {
			_, err := engine.CompleteDeposit(context.Background(), tx, "cs_missing", nil)
			return err
		})
		assert.True(t, domain.IsCode(err, "NOT_FOUND"))
	})

	t.Run("cancelled session cannot complete", func(t *testing.T) {
		seedPendingDeposit(t, store, acct, "cs_test_2", d("100"))
		err := inTx(t, store, func(tx pgx.Tx) error {
			ok, err := engine.CancelPendingDeposit(context.Background(), tx, "cs_test_2", domain.TxStatusCancelled)
			assert.True(t, ok)
			return err
		})
		require.NoError(t, err)

		err = inTx(t, store, func(tx pgx.Tx) error {
			_, err := engine.CompleteDeposit(context.Background(), tx, "cs_test_2", nil)
			return err
		})
		assert.True(t, domain.IsCode(err, "CONFLICT"))
		assert.True(t, store.Account(acct).CreditBalance.Equal(d("510")))
	})
}

func TestCreditSettlement(t *testing.T) {
	store := repotest.NewStore()
	engine := newTestEngine(store)
	acct := store.AddAccount("e@example.com", decimal.Zero)

	credit := domain.BalanceCredit{AccountID: acct, BetID: 5, Type: domain.TxPayout, Amount: d("200")}
	for i := 0; i < 2; i++ {
		err := inTx(t, store, func(tx pgx.Tx) error {
			_, err := engine.CreditSettlement(context.Background(), tx, credit)
			return err
		})
		require.NoError(t, err)
	}
	assert.True(t, store.Account(acct).CreditBalance.Equal(d("200")))

	txs := store.Transactions()
	require.Len(t, txs, 1)
	require.NotNil(t, txs[0].Reference)
	assert.Equal(t, "settle:5:PAYOUT", *txs[0].Reference)

	err := inTx(t, store, func(tx pgx.Tx) error {
		_, err := engine.CreditSettlement(context.Background(), tx, domain.BalanceCredit{AccountID: acct, BetID: 5, Type: domain.TxDeposit, Amount: d("1")})
		return err
	})
	assert.True(t, domain.IsCode(err, "VALIDATION_ERROR"))
}

func TestReconcile(t *testing.T) {
	store := repotest.NewStore()
	engine := newTestEngine(store)
	acct := store.AddAccount("f@example.com", decimal.Zero)

	require.NoError(t, inTx(t, store, func(tx pgx.Tx) error {
		if _, err := engine.ExecuteCredit(context.Background(), tx, domain.CreditParams{AccountID: acct, Type: domain.TxDeposit, Amount: d("100")}); err != nil {
			return err
		}
		_, err := engine.ExecutePlaceBet(context.Background(), tx, domain.PlaceBetParams{AccountID: acct, EventID: 1, TeamID: 1, Stake: d("30"), Odds: d("2")})
		return err
	}))

	result, err := engine.Reconcile(context.Background(), store.DB(), acct)
	require.NoError(t, err)
	assert.True(t, result.AllPassed)
	assert.True(t, result.LedgerTotal.Equal(d("70")))
	assert.Equal(t, 2, result.TransactionCount)

	_, err = engine.Reconcile(context.Background(), store.DB(), 12345)
	assert.True(t, domain.IsCode(err, "NOT_FOUND"))
}
