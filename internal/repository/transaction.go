package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, account_id, type, amount, status, bet_id, product_id,
	provider, provider_session_id, reference, balance_after, metadata, created_at, updated_at`

type transactionRepo struct{}

// NewTransactionRepository returns a pgx-backed TransactionRepository.
func NewTransactionRepository() TransactionRepository {
	return &transactionRepo{}
}

func (r *transactionRepo) FindByReference(ctx context.Context, db DBTX, accountID int64, txType domain.TransactionType, reference string) (*domain.PaymentTransaction, error) {
	row := db.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE account_id = $1 AND type = $2 AND reference = $3`,
		accountID, string(txType), reference)
	return scanTransaction(row)
}

func (r *transactionRepo) Insert(ctx context.Context, db DBTX, t *domain.PaymentTransaction) (*domain.PaymentTransaction, error) {
	meta := t.Metadata
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}
	status := t.Status
	if status == "" {
		status = domain.TxStatusPending
	}
	var balanceAfter pgtype.Numeric
	if t.BalanceAfter != nil {
		balanceAfter = infra.DecimalToNumeric(*t.BalanceAfter)
	}

	row := db.QueryRow(ctx, `
		INSERT INTO payment_transactions
		  (account_id, type, amount, status, bet_id, product_id,
		   provider, provider_session_id, reference, balance_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+transactionColumns,
		t.AccountID,
		string(t.Type),
		infra.DecimalToNumeric(t.Amount),
		string(status),
		t.BetID,
		t.ProductID,
		t.Provider,
		t.ProviderSessionID,
		t.Reference,
		balanceAfter,
		meta,
	)
	inserted, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("insert payment transaction: %w", err)
	}
	return inserted, nil
}

func (r *transactionRepo) FindByID(ctx context.Context, db DBTX, id int64) (*domain.PaymentTransaction, error) {
	row := db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (r *transactionRepo) FindByProviderSessionID(ctx context.Context, db DBTX, sessionID string) (*domain.PaymentTransaction, error) {
	row := db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE provider_session_id = $1`, sessionID)
	return scanTransaction(row)
}

func (r *transactionRepo) LockByProviderSessionID(ctx context.Context, tx pgx.Tx, sessionID string) (*domain.PaymentTransaction, error) {
	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE provider_session_id = $1 FOR UPDATE`, sessionID)
	return scanTransaction(row)
}

// CompletePending only touches PENDING rows; COMPLETED rows are immutable.
func (r *transactionRepo) CompletePending(ctx context.Context, db DBTX, id int64, balanceAfter decimal.Decimal, metadata json.RawMessage) (bool, error) {
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}
	tag, err := db.Exec(ctx, `
		UPDATE payment_transactions
		SET status = 'COMPLETED', balance_after = $2, metadata = metadata || $3::jsonb, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`,
		id, infra.DecimalToNumeric(balanceAfter), metadata)
	if err != nil {
		return false, fmt.Errorf("complete payment transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *transactionRepo) TransitionPending(ctx context.Context, db DBTX, id int64, status domain.TransactionStatus) (bool, error) {
	if status != domain.TxStatusFailed && status != domain.TxStatusCancelled {
		return false, fmt.Errorf("invalid pending transition to %s", status)
	}
	tag, err := db.Exec(ctx, `
		UPDATE payment_transactions SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`, id, string(status))
	if err != nil {
		return false, fmt.Errorf("transition payment transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *transactionRepo) ListByAccount(ctx context.Context, db DBTX, accountID int64, limit int) ([]domain.PaymentTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query payment transactions: %w", err)
	}
	defer rows.Close()

	var result []domain.PaymentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *transactionRepo) SumCompleted(ctx context.Context, db DBTX, accountID int64) (decimal.Decimal, int, error) {
	var sum pgtype.Numeric
	var count int
	err := db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type IN ('DEPOSIT', 'PAYOUT', 'REFUND') THEN amount ELSE -amount END), 0),
		       COUNT(*)
		FROM payment_transactions
		WHERE account_id = $1 AND status = 'COMPLETED'`, accountID).Scan(&sum, &count)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("sum completed transactions: %w", err)
	}
	total, err := infra.NumericToDecimal(sum)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("convert sum: %w", err)
	}
	return total, count, nil
}

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var t domain.PaymentTransaction
	var txType, status string
	var amountNum, balanceNum pgtype.Numeric
	err := row.Scan(&t.ID, &t.AccountID, &txType, &amountNum, &status, &t.BetID, &t.ProductID,
		&t.Provider, &t.ProviderSessionID, &t.Reference, &balanceNum, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment transaction: %w", err)
	}
	t.Type = domain.TransactionType(txType)
	t.Status = domain.TransactionStatus(status)

	t.Amount, err = infra.NumericToDecimal(amountNum)
	if err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	t.BalanceAfter, err = infra.NullableNumericToDecimal(balanceNum)
	if err != nil {
		return nil, fmt.Errorf("convert balance_after: %w", err)
	}
	return &t, nil
}
