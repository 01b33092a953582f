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

const betColumns = `id, account_id, event_id, team_id, stake, odds, payout, status, placed_at, settled_at`

type betRepo struct{}

// NewBetRepository returns a pgx-backed BetRepository.
func NewBetRepository() BetRepository {
	return &betRepo{}
}

func (r *betRepo) Insert(ctx context.Context, db DBTX, b *domain.Bet) (*domain.Bet, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO bets (account_id, event_id, team_id, stake, odds, payout, status)
		VALUES ($1, $2, $3, $4, $5, 0, 'Pending')
		RETURNING `+betColumns,
		b.AccountID, b.EventID, b.TeamID,
		infra.DecimalToNumeric(b.Stake), infra.DecimalToNumeric(b.Odds))
	bet, err := scanBet(row)
	if err != nil {
		return nil, fmt.Errorf("insert bet: %w", err)
	}
	return bet, nil
}

func (r *betRepo) FindByID(ctx context.Context, db DBTX, id int64) (*domain.Bet, error) {
	row := db.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
	return scanBet(row)
}

func (r *betRepo) ListPendingByEvent(ctx context.Context, db DBTX, eventID int64) ([]domain.Bet, error) {
	rows, err := db.Query(ctx, `
		SELECT `+betColumns+`
		FROM bets
		WHERE event_id = $1 AND status = 'Pending'
		ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query pending bets: %w", err)
	}
	defer rows.Close()
	return collectBets(rows)
}

func (r *betRepo) ListByAccount(ctx context.Context, db DBTX, accountID int64, limit int) ([]domain.Bet, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT `+betColumns+`
		FROM bets
		WHERE account_id = $1
		ORDER BY placed_at DESC, id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query account bets: %w", err)
	}
	defer rows.Close()
	return collectBets(rows)
}

func (r *betRepo) CompareAndSwapStatus(ctx context.Context, db DBTX, betID int64, from, to domain.BetStatus, payout decimal.Decimal) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("illegal bet transition %s -> %s", from, to)
	}
	tag, err := db.Exec(ctx, `
		UPDATE bets SET status = $3, payout = $4, settled_at = now()
		WHERE id = $1 AND status = $2`,
		betID, string(from), string(to), infra.DecimalToNumeric(payout))
	if err != nil {
		return false, fmt.Errorf("update bet status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func collectBets(rows pgx.Rows) ([]domain.Bet, error) {
	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func scanBet(row pgx.Row) (*domain.Bet, error) {
	var b domain.Bet
	var status string
	var stakeNum, oddsNum, payoutNum pgtype.Numeric
	err := row.Scan(&b.ID, &b.AccountID, &b.EventID, &b.TeamID, &stakeNum, &oddsNum, &payoutNum,
		&status, &b.PlacedAt, &b.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan bet: %w", err)
	}
	b.Status = domain.BetStatus(status)

	if b.Stake, err = infra.NumericToDecimal(stakeNum); err != nil {
		return nil, fmt.Errorf("convert stake: %w", err)
	}
	if b.Odds, err = infra.NumericToDecimal(oddsNum); err != nil {
		return nil, fmt.Errorf("convert odds: %w", err)
	}
	if b.Payout, err = infra.NumericToDecimal(payoutNum); err != nil {
		return nil, fmt.Errorf("convert payout: %w", err)
	}
	return &b, nil
}
