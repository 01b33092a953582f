package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetStatus tracks the lifecycle of a bet.
type BetStatus string

const (
	BetStatusPending   BetStatus = "Pending"
	BetStatusWon       BetStatus = "Won"
	BetStatusLost      BetStatus = "Lost"
	BetStatusCancelled BetStatus = "Cancelled"
)

// Valid reports whether s is a known status.
func (s BetStatus) Valid() bool {
	switch s {
	case BetStatusPending, BetStatusWon, BetStatusLost, BetStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s BetStatus) Terminal() bool {
	return s == BetStatusWon || s == BetStatusLost || s == BetStatusCancelled
}

// CanTransition allows only Pending -> {Won, Lost, Cancelled}.
func CanTransition(from, to BetStatus) bool {
	return from == BetStatusPending && to.Terminal()
}

// Bet represents a bets row: a stake on one team of an event at fixed odds.
type Bet struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	EventID   int64           `json:"event_id"`
	TeamID    int64           `json:"team_id"`
	Stake     decimal.Decimal `json:"stake"`
	Odds      decimal.Decimal `json:"odds"`
	Payout    decimal.Decimal `json:"payout"`
	Status    BetStatus       `json:"status"`
	PlacedAt  time.Time       `json:"placed_at"`
	SettledAt *time.Time      `json:"settled_at,omitempty"`
}

// WinningPayout is stake x odds rounded to cents.
func (b *Bet) WinningPayout() decimal.Decimal {
	return CalculatePayout(b.Stake, b.Odds)
}

// PotentialPayout is what the bet pays if it wins.
func (b *Bet) PotentialPayout() decimal.Decimal {
	return b.WinningPayout()
}

// CalculatePayout returns stake x odds rounded to two decimal places.
func CalculatePayout(stake, odds decimal.Decimal) decimal.Decimal {
	return stake.Mul(odds).Round(2)
}
