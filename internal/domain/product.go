package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a purchasable chip package from the catalog.
type Product struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Chips      decimal.Decimal `json:"chips"`
	PriceCents int64           `json:"price_cents"`
	Currency   string          `json:"currency"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}
