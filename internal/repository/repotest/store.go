// Package repotest provides an in-memory implementation of the repository
// interfaces for tests that exercise services without PostgreSQL.
package repotest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Store holds every table in memory. Transactions started with BeginTx take
// a snapshot and restore it on rollback.
type Store struct {
	mu sync.Mutex
	// txMu is held from BeginTx until Commit or Rollback, so a rollback
	// never discards another transaction's writes.
	txMu sync.Mutex

	accounts     map[int64]domain.Account
	transactions []domain.PaymentTransaction
	bets         map[int64]domain.Bet
	events       map[int64]domain.Event
	products     map[int64]domain.Product
	outbox       []domain.OutboxDraft
	nextID       int64

	// FailAdjust, when set, is consulted before every balance change.
	FailAdjust func(accountID int64) error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[int64]domain.Account),
		bets:     make(map[int64]domain.Bet),
		events:   make(map[int64]domain.Event),
		products: make(map[int64]domain.Product),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// --- seeding and inspection ---

// AddAccount inserts an account with the given balance and returns its ID.
func (s *Store) AddAccount(email string, balance decimal.Decimal) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	now := time.Now()
	s.accounts[id] = domain.Account{ID: id, Email: email, CreditBalance: balance, CreatedAt: now, UpdatedAt: now}
	return id
}

// AddProduct inserts a catalog product and returns its ID.
func (s *Store) AddProduct(p domain.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.products[p.ID] = p
	return p.ID
}

// AddEvent inserts an event with teams, assigning IDs, and returns it.
func (s *Store) AddEvent(e domain.Event) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.id()
	}
	teams := make([]domain.EventTeam, len(e.Teams))
	for i, t := range e.Teams {
		if t.ID == 0 {
			t.ID = s.id()
		}
		t.EventID = e.ID
		teams[i] = t
	}
	e.Teams = teams
	s.events[e.ID] = e
	return e
}

// AddBet inserts a bet as-is and returns its ID.
func (s *Store) AddBet(b domain.Bet) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.id()
	}
	if b.Status == "" {
		b.Status = domain.BetStatusPending
	}
	s.bets[b.ID] = b
	return b.ID
}

// Account returns a copy of an account.
func (s *Store) Account(id int64) domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

// Bet returns a copy of a bet.
func (s *Store) Bet(id int64) domain.Bet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bets[id]
}

// Event returns a copy of an event.
func (s *Store) Event(id int64) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

// Transactions returns a copy of all payment transactions in insert order.
func (s *Store) Transactions() []domain.PaymentTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PaymentTransaction(nil), s.transactions...)
}

// Outbox returns a copy of all outbox drafts in insert order.
func (s *Store) Outbox() []domain.OutboxDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxDraft(nil), s.outbox...)
}

// --- transactions ---

type snapshot struct {
	accounts     map[int64]domain.Account
	transactions []domain.PaymentTransaction
	bets         map[int64]domain.Bet
	events       map[int64]domain.Event
	outbox       []domain.OutboxDraft
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		accounts:     make(map[int64]domain.Account, len(s.accounts)),
		transactions: append([]domain.PaymentTransaction(nil), s.transactions...),
		bets:         make(map[int64]domain.Bet, len(s.bets)),
		events:       make(map[int64]domain.Event, len(s.events)),
		outbox:       append([]domain.OutboxDraft(nil), s.outbox...),
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.bets {
		snap.bets[k] = v
	}
	for k, v := range s.events {
		snap.events[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = snap.accounts
	s.transactions = snap.transactions
	s.bets = snap.bets
	s.events = snap.events
	s.outbox = snap.outbox
}

// BeginTx satisfies the interface pgx.BeginTxFunc expects.
func (s *Store) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	s.txMu.Lock()
	return &Tx{store: s, snap: s.snapshot()}, nil
}

// DB returns a handle usable wherever a repository.DBTX is required. The
// in-memory repositories never call it.
func (s *Store) DB() repository.DBTX { return nopDB{} }

type nopDB struct{ repository.DBTX }

// Conn returns a repository.Conn backed by the store, standing in for a pool.
func (s *Store) Conn() repository.Conn { return conn{DBTX: nopDB{}, store: s} }

type conn struct {
	repository.DBTX
	store *Store
}

func (c conn) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return c.store.BeginTx(ctx, opts)
}

// Tx is a pgx.Tx whose only real behaviour is commit/rollback.
type Tx struct {
	pgx.Tx
	store  *Store
	snap   snapshot
	closed bool
}

func (t *Tx) Commit(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.store.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.store.restore(t.snap)
	t.store.txMu.Unlock()
	return nil
}

// --- repositories ---

// Accounts returns an in-memory AccountRepository.
func (s *Store) Accounts() repository.AccountRepository { return accountRepo{s} }

// TransactionRepo returns an in-memory TransactionRepository.
func (s *Store) TransactionRepo() repository.TransactionRepository { return transactionRepo{s} }

// Bets returns an in-memory BetRepository.
func (s *Store) Bets() repository.BetRepository { return betRepo{s} }

// Events returns an in-memory EventRepository.
func (s *Store) Events() repository.EventRepository { return eventRepo{s} }

// Products returns an in-memory ProductRepository.
func (s *Store) Products() repository.ProductRepository { return productRepo{s} }

// OutboxRepo returns an in-memory OutboxRepository.
func (s *Store) OutboxRepo() repository.OutboxRepository { return outboxRepo{s} }

type accountRepo struct{ s *Store }

func (r accountRepo) FindByID(_ context.Context, _ repository.DBTX, id int64) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r accountRepo) LockForUpdate(ctx context.Context, _ pgx.Tx, id int64) (*domain.Account, error) {
	return r.FindByID(ctx, nil, id)
}

func (r accountRepo) Create(_ context.Context, _ repository.DBTX, a *domain.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.accounts {
		if existing.Email == a.Email {
			return fmt.Errorf("insert account: duplicate email %s", a.Email)
		}
	}
	a.ID = r.s.id()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.s.accounts[a.ID] = *a
	return nil
}

func (r accountRepo) AdjustBalance(_ context.Context, _ repository.DBTX, id int64, delta decimal.Decimal) (*domain.Account, error) {
	if r.s.FailAdjust != nil {
		if err := r.s.FailAdjust(id); err != nil {
			return nil, err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	next := a.CreditBalance.Add(delta)
	if next.IsNegative() {
		return nil, nil
	}
	a.CreditBalance = next
	a.UpdatedAt = time.Now()
	r.s.accounts[id] = a
	return &a, nil
}

type transactionRepo struct{ s *Store }

func (r transactionRepo) find(match func(domain.PaymentTransaction) bool) *domain.PaymentTransaction {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.transactions {
		if match(t) {
			cp := t
			return &cp
		}
	}
	return nil
}

func (r transactionRepo) FindByReference(_ context.Context, _ repository.DBTX, accountID int64, txType domain.TransactionType, reference string) (*domain.PaymentTransaction, error) {
	return r.find(func(t domain.PaymentTransaction) bool {
		return t.AccountID == accountID && t.Type == txType && t.Reference != nil && *t.Reference == reference
	}), nil
}

func (r transactionRepo) Insert(_ context.Context, _ repository.DBTX, t *domain.PaymentTransaction) (*domain.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.transactions {
		if t.Reference != nil && existing.Reference != nil && *existing.Reference == *t.Reference &&
			existing.AccountID == t.AccountID && existing.Type == t.Type {
			return nil, errors.New("insert payment transaction: duplicate reference")
		}
		if t.ProviderSessionID != nil && existing.ProviderSessionID != nil && *existing.ProviderSessionID == *t.ProviderSessionID {
			return nil, errors.New("insert payment transaction: duplicate provider session")
		}
	}
	row := *t
	row.ID = r.s.id()
	if row.Status == "" {
		row.Status = domain.TxStatusPending
	}
	if row.Metadata == nil {
		row.Metadata = json.RawMessage(`{}`)
	}
	row.CreatedAt = time.Now()
	row.UpdatedAt = row.CreatedAt
	r.s.transactions = append(r.s.transactions, row)
	return &row, nil
}

func (r transactionRepo) FindByID(_ context.Context, _ repository.DBTX, id int64) (*domain.PaymentTransaction, error) {
	return r.find(func(t domain.PaymentTransaction) bool { return t.ID == id }), nil
}

func (r transactionRepo) FindByProviderSessionID(_ context.Context, _ repository.DBTX, sessionID string) (*domain.PaymentTransaction, error) {
	return r.find(func(t domain.PaymentTransaction) bool {
		return t.ProviderSessionID != nil && *t.ProviderSessionID == sessionID
	}), nil
}

func (r transactionRepo) LockByProviderSessionID(ctx context.Context, _ pgx.Tx, sessionID string) (*domain.PaymentTransaction, error) {
	return r.FindByProviderSessionID(ctx, nil, sessionID)
}

func (r transactionRepo) update(id int64, fn func(*domain.PaymentTransaction) bool) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.transactions {
		if r.s.transactions[i].ID == id {
			if !fn(&r.s.transactions[i]) {
				return false
			}
			r.s.transactions[i].UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

func (r transactionRepo) CompletePending(_ context.Context, _ repository.DBTX, id int64, balanceAfter decimal.Decimal, metadata json.RawMessage) (bool, error) {
	return r.update(id, func(t *domain.PaymentTransaction) bool {
		if t.Status != domain.TxStatusPending {
			return false
		}
		t.Status = domain.TxStatusCompleted
		t.BalanceAfter = &balanceAfter
		if len(metadata) > 0 {
			t.Metadata = metadata
		}
		return true
	}), nil
}

func (r transactionRepo) TransitionPending(_ context.Context, _ repository.DBTX, id int64, status domain.TransactionStatus) (bool, error) {
	if status != domain.TxStatusFailed && status != domain.TxStatusCancelled {
		return false, fmt.Errorf("invalid pending transition to %s", status)
	}
	return r.update(id, func(t *domain.PaymentTransaction) bool {
		if t.Status != domain.TxStatusPending {
			return false
		}
		t.Status = status
		return true
	}), nil
}

func (r transactionRepo) ListByAccount(_ context.Context, _ repository.DBTX, accountID int64, limit int) ([]domain.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.PaymentTransaction
	for i := len(r.s.transactions) - 1; i >= 0; i-- {
		if r.s.transactions[i].AccountID == accountID {
			out = append(out, r.s.transactions[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r transactionRepo) SumCompleted(_ context.Context, _ repository.DBTX, accountID int64) (decimal.Decimal, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	count := 0
	for _, t := range r.s.transactions {
		if t.AccountID != accountID || t.Status != domain.TxStatusCompleted {
			continue
		}
		count++
		if t.Type.IsCredit() {
			total = total.Add(t.Amount)
		} else {
			total = total.Sub(t.Amount)
		}
	}
	return total, count, nil
}

type betRepo struct{ s *Store }

func (r betRepo) Insert(_ context.Context, _ repository.DBTX, b *domain.Bet) (*domain.Bet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row := *b
	row.ID = r.s.id()
	row.Status = domain.BetStatusPending
	row.Payout = decimal.Zero
	row.PlacedAt = time.Now()
	r.s.bets[row.ID] = row
	return &row, nil
}

func (r betRepo) FindByID(_ context.Context, _ repository.DBTX, id int64) (*domain.Bet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bets[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r betRepo) list(match func(domain.Bet) bool) []domain.Bet {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Bet
	for _, b := range r.s.bets {
		if match(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r betRepo) ListPendingByEvent(_ context.Context, _ repository.DBTX, eventID int64) ([]domain.Bet, error) {
	return r.list(func(b domain.Bet) bool {
		return b.EventID == eventID && b.Status == domain.BetStatusPending
	}), nil
}

func (r betRepo) ListByAccount(_ context.Context, _ repository.DBTX, accountID int64, limit int) ([]domain.Bet, error) {
	out := r.list(func(b domain.Bet) bool { return b.AccountID == accountID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r betRepo) CompareAndSwapStatus(_ context.Context, _ repository.DBTX, betID int64, from, to domain.BetStatus, payout decimal.Decimal) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("illegal bet transition %s -> %s", from, to)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bets[betID]
	if !ok || b.Status != from {
		return false, nil
	}
	now := time.Now()
	b.Status = to
	b.Payout = payout
	b.SettledAt = &now
	r.s.bets[betID] = b
	return true, nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) Create(_ context.Context, _ repository.DBTX, e *domain.Event) error {
	created := r.s.AddEvent(*e)
	*e = created
	return nil
}

func (r eventRepo) FindByID(_ context.Context, _ repository.DBTX, id int64) (*domain.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return nil, nil
	}
	e.Teams = append([]domain.EventTeam(nil), e.Teams...)
	return &e, nil
}

func (r eventRepo) FindByExternalID(_ context.Context, _ repository.DBTX, externalID string) (*domain.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.ExternalID != nil && *e.ExternalID == externalID {
			e.Teams = append([]domain.EventTeam(nil), e.Teams...)
			return &e, nil
		}
	}
	return nil, nil
}

func (r eventRepo) ListOpen(_ context.Context, _ repository.DBTX, limit int) ([]domain.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Event
	for _, e := range r.s.events {
		if e.Outcome == "" {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r eventRepo) UpsertExternal(ctx context.Context, _ repository.DBTX, e *domain.Event) (*domain.Event, error) {
	if e.ExternalID == nil || *e.ExternalID == "" {
		return nil, errors.New("upsert event: external_id is required")
	}
	existing, _ := r.FindByExternalID(ctx, nil, *e.ExternalID)
	if existing == nil {
		created := r.s.AddEvent(*e)
		return &created, nil
	}
	if existing.Settled() {
		return existing, nil
	}

	r.s.mu.Lock()
	stored := r.s.events[existing.ID]
	stored.Name = e.Name
	stored.StartsAt = e.StartsAt
	for _, t := range e.Teams {
		found := false
		for i := range stored.Teams {
			if stored.Teams[i].Name == t.Name {
				stored.Teams[i].Odds = t.Odds
				found = true
			}
		}
		if !found {
			stored.Teams = append(stored.Teams, domain.EventTeam{ID: r.s.id(), EventID: stored.ID, Name: t.Name, Odds: t.Odds})
		}
	}
	r.s.events[stored.ID] = stored
	r.s.mu.Unlock()

	return r.FindByID(ctx, nil, stored.ID)
}

func (r eventRepo) ClaimSettlement(ctx context.Context, _ repository.DBTX, id int64, outcome string, winningTeamID *int64) (*domain.Event, error) {
	r.s.mu.Lock()
	e, ok := r.s.events[id]
	if ok && e.Outcome == "" && e.SettlingOutcome == "" {
		e.SettlingOutcome = outcome
		if winningTeamID != nil {
			w := *winningTeamID
			e.WinningTeamID = &w
		}
		r.s.events[id] = e
	}
	r.s.mu.Unlock()
	return r.FindByID(ctx, nil, id)
}

func (r eventRepo) MarkSettled(_ context.Context, _ repository.DBTX, id int64, outcome string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok || e.Outcome != "" || e.SettlingOutcome != outcome {
		return false, nil
	}
	now := time.Now()
	e.Outcome = e.SettlingOutcome
	e.SettledAt = &now
	r.s.events[id] = e
	return true, nil
}

type productRepo struct{ s *Store }

func (r productRepo) FindByID(_ context.Context, _ repository.DBTX, id int64) (*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r productRepo) ListActive(_ context.Context, _ repository.DBTX) ([]domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Product
	for _, p := range r.s.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out, nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Insert(_ context.Context, _ repository.DBTX, draft domain.OutboxDraft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	draft.SeqID = r.s.id()
	r.s.outbox = append(r.s.outbox, draft)
	return nil
}

func (r outboxRepo) FetchUnpublished(_ context.Context, _ repository.DBTX, limit int) ([]domain.OutboxDraft, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := append([]domain.OutboxDraft(nil), r.s.outbox...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r outboxRepo) MarkPublished(_ context.Context, _ repository.DBTX, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.s.outbox[:0]
	for _, d := range r.s.outbox {
		if !drop[d.SeqID] {
			kept = append(kept, d)
		}
	}
	r.s.outbox = kept
	return nil
}
