package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const productColumns = `id, name, chips, price_cents, currency, active, created_at`

type productRepo struct{}

// NewProductRepository returns a pgx-backed ProductRepository.
func NewProductRepository() ProductRepository {
	return &productRepo{}
}

func (r *productRepo) FindByID(ctx context.Context, db DBTX, id int64) (*domain.Product, error) {
	row := db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (r *productRepo) ListActive(ctx context.Context, db DBTX) ([]domain.Product, error) {
	rows, err := db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE active ORDER BY price_cents ASC`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	var chipsNum pgtype.Numeric
	err := row.Scan(&p.ID, &p.Name, &chipsNum, &p.PriceCents, &p.Currency, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	if p.Chips, err = infra.NumericToDecimal(chipsNum); err != nil {
		return nil, fmt.Errorf("convert chips: %w", err)
	}
	return &p, nil
}
