package settlement

import (
	"context"
	"fmt"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/ledger"
	"github.com/chipline/sportsbook/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Store adapts the PostgreSQL repositories and the ledger to the engine's
// BetRepository and EventRepository. Every bet and the event outcome are
// written in their own READ COMMITTED transaction alongside an outbox row.
type Store struct {
	db     repository.Conn
	bets   repository.BetRepository
	events repository.EventRepository
	outbox repository.OutboxRepository
	ledger *ledger.Engine
}

// NewStore creates a settlement store.
func NewStore(
	db repository.Conn,
	bets repository.BetRepository,
	events repository.EventRepository,
	outbox repository.OutboxRepository,
	ledgerEngine *ledger.Engine,
) *Store {
	return &Store{db: db, bets: bets, events: events, outbox: outbox, ledger: ledgerEngine}
}

// Bets returns the store as the engine's BetRepository.
func (s *Store) Bets() BetRepository { return betStore{s} }

// Events returns the store as the engine's EventRepository.
func (s *Store) Events() EventRepository { return eventStore{s} }

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

type betStore struct{ s *Store }

func (b betStore) LoadPendingByEvent(ctx context.Context, eventID int64) ([]domain.Bet, error) {
	return b.s.bets.ListPendingByEvent(ctx, b.s.db, eventID)
}

func (b betStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx BetTx) error) error {
	return b.s.inTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgBetTx{s: b.s, tx: tx})
	})
}

type pgBetTx struct {
	s  *Store
	tx pgx.Tx
}

func (t *pgBetTx) CompareAndSwapStatus(ctx context.Context, betID int64, from, to domain.BetStatus, payout decimal.Decimal) (bool, error) {
	ok, err := t.s.bets.CompareAndSwapStatus(ctx, t.tx, betID, from, to, payout)
	if err != nil || !ok {
		return ok, err
	}
	bet, err := t.s.bets.FindByID(ctx, t.tx, betID)
	if err != nil {
		return false, fmt.Errorf("reload bet %d: %w", betID, err)
	}
	if bet == nil {
		return false, domain.ErrNotFound("bet", fmt.Sprint(betID))
	}
	draft := domain.NewBetSettledEvent(bet.ID, bet.EventID, to, payout.StringFixed(2))
	if err := t.s.outbox.Insert(ctx, t.tx, draft); err != nil {
		return false, fmt.Errorf("insert outbox event: %w", err)
	}
	return true, nil
}

func (t *pgBetTx) CreditBalance(ctx context.Context, credit domain.BalanceCredit) error {
	_, err := t.s.ledger.CreditSettlement(ctx, t.tx, credit)
	return err
}

type eventStore struct{ s *Store }

func (e eventStore) FindByID(ctx context.Context, id int64) (*domain.Event, error) {
	return e.s.events.FindByID(ctx, e.s.db, id)
}

func (e eventStore) ClaimOutcome(ctx context.Context, id int64, outcome string, winningTeamID *int64) (*domain.Event, error) {
	return e.s.events.ClaimSettlement(ctx, e.s.db, id, outcome, winningTeamID)
}

func (e eventStore) MarkSettled(ctx context.Context, id int64, outcome string) (bool, error) {
	var marked bool
	err := e.s.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := e.s.events.MarkSettled(ctx, tx, id, outcome)
		if err != nil || !ok {
			return err
		}
		marked = true
		return e.s.outbox.Insert(ctx, tx, domain.NewEventSettledEvent(id, outcome))
	})
	return marked, err
}
