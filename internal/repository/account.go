package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, email, display_name, credit_balance, created_at, updated_at`

type accountRepo struct{}

// NewAccountRepository returns a pgx-backed AccountRepository.
func NewAccountRepository() AccountRepository {
	return &accountRepo{}
}

func (r *accountRepo) FindByID(ctx context.Context, db DBTX, id int64) (*domain.Account, error) {
	row := db.QueryRow(ctx, `SELECT `+accountColumns+` FROM user_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *accountRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Account, error) {
	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM user_accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

func (r *accountRepo) Create(ctx context.Context, db DBTX, a *domain.Account) error {
	err := db.QueryRow(ctx, `
		INSERT INTO user_accounts (email, display_name, credit_balance)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		a.Email, a.DisplayName, infra.DecimalToNumeric(a.CreditBalance),
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// AdjustBalance uses server-side arithmetic guarded against going negative.
func (r *accountRepo) AdjustBalance(ctx context.Context, db DBTX, id int64, delta decimal.Decimal) (*domain.Account, error) {
	row := db.QueryRow(ctx, `
		UPDATE user_accounts
		SET credit_balance = credit_balance + $2, updated_at = now()
		WHERE id = $1 AND credit_balance + $2 >= 0
		RETURNING `+accountColumns,
		id, infra.DecimalToNumeric(delta))
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var balNum pgtype.Numeric
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &balNum, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	a.CreditBalance, err = infra.NumericToDecimal(balNum)
	if err != nil {
		return nil, fmt.Errorf("convert credit_balance: %w", err)
	}
	return &a, nil
}
