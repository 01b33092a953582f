package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/ledger"
	"github.com/chipline/sportsbook/internal/policy"
	"github.com/chipline/sportsbook/internal/repository"
	"github.com/chipline/sportsbook/internal/settlement"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	eventListLimit = 100
	betListLimit   = 50
	providerAdmin  = "admin"
)

// Settler settles an event's pending bets.
type Settler interface {
	SettleEvent(ctx context.Context, req settlement.SettleRequest) (*settlement.Result, error)
}

// SportsbookService handles events, bet placement, the chip wallet and the
// admin operations around them.
type SportsbookService struct {
	db       repository.Conn
	engine   *ledger.Engine
	accounts repository.AccountRepository
	events   repository.EventRepository
	bets     repository.BetRepository
	settler  Settler
	limits   policy.StakeLimits
	now      func() time.Time
	logger   *slog.Logger
}

// SportsbookOption configures a SportsbookService.
type SportsbookOption func(*SportsbookService)

// WithStakeLimits enforces per-bet stake bounds on PlaceBet.
func WithStakeLimits(l policy.StakeLimits) SportsbookOption {
	return func(s *SportsbookService) { s.limits = l }
}

// NewSportsbookService creates a SportsbookService.
func NewSportsbookService(
	db repository.Conn,
	engine *ledger.Engine,
	accounts repository.AccountRepository,
	events repository.EventRepository,
	bets repository.BetRepository,
	settler Settler,
	logger *slog.Logger,
	opts ...SportsbookOption,
) *SportsbookService {
	s := &SportsbookService{
		db:       db,
		engine:   engine,
		accounts: accounts,
		events:   events,
		bets:     bets,
		settler:  settler,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListEvents returns upcoming unsettled events with their teams and odds.
func (s *SportsbookService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	events, err := s.events.ListOpen(ctx, s.db, eventListLimit)
	if err != nil {
		return nil, domain.ErrInternal("list events", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

// GetEvent returns one event with teams.
func (s *SportsbookService) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	event, err := s.events.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, domain.ErrInternal("find event", err)
	}
	if event == nil {
		return nil, domain.ErrNotFound("event", strconv.FormatInt(id, 10))
	}
	return event, nil
}

// PlaceBetRequest is the body of POST /bets. Reference is an optional client
// idempotency key.
type PlaceBetRequest struct {
	EventID   int64           `json:"eventId" validate:"required,gt=0"`
	TeamID    int64           `json:"teamId" validate:"required,gt=0"`
	Stake     decimal.Decimal `json:"stake" validate:"gt=0"`
	Reference string          `json:"reference" validate:"omitempty,max=64"`
}

// PlaceBetResult is returned after a bet is booked.
type PlaceBetResult struct {
	Bet             *domain.Bet     `json:"bet"`
	Balance         decimal.Decimal `json:"balance"`
	PotentialPayout decimal.Decimal `json:"potentialPayout"`
	Idempotent      bool            `json:"idempotent"`
}

// PlaceBet debits the stake and books a Pending bet at the team's current odds.
func (s *SportsbookService) PlaceBet(ctx context.Context, accountID int64, req PlaceBetRequest) (*PlaceBetResult, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}
	if err := s.limits.Evaluate(req.Stake).Err(); err != nil {
		return nil, err
	}

	event, err := s.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if event.Settled() || event.Claimed() {
		return nil, domain.ErrConflict("event is already settled")
	}
	if !event.StartsAt.IsZero() && !s.now().Before(event.StartsAt) {
		return nil, domain.ErrConflict("betting is closed for this event")
	}
	team, ok := event.Team(req.TeamID)
	if !ok {
		return nil, domain.ErrValidation(fmt.Sprintf("team %d is not part of event %d", req.TeamID, event.ID))
	}

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = uuid.New().String()
	}

	var result *domain.CommandResult
	err = pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		r, err := s.engine.ExecutePlaceBet(ctx, tx, domain.PlaceBetParams{
			AccountID: accountID,
			EventID:   event.ID,
			TeamID:    team.ID,
			Stake:     req.Stake,
			Odds:      team.Odds,
			Reference: "bet:" + reference,
		})
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &PlaceBetResult{
		Bet:        result.Bet,
		Balance:    result.Account.CreditBalance,
		Idempotent: result.Idempotent,
	}
	if result.Bet != nil {
		out.PotentialPayout = result.Bet.PotentialPayout()
	}
	s.logger.Info("bet placed", "account_id", accountID, "event_id", event.ID, "team_id", team.ID, "stake", req.Stake, "idempotent", result.Idempotent)
	return out, nil
}

// MyBets returns the account's bets, newest first.
func (s *SportsbookService) MyBets(ctx context.Context, accountID int64) ([]domain.Bet, error) {
	bets, err := s.bets.ListByAccount(ctx, s.db, accountID, betListLimit)
	if err != nil {
		return nil, domain.ErrInternal("list bets", err)
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	return bets, nil
}

// Balance returns the account with its current chip balance.
func (s *SportsbookService) Balance(ctx context.Context, accountID int64) (*domain.Account, error) {
	account, err := s.accounts.FindByID(ctx, s.db, accountID)
	if err != nil {
		return nil, domain.ErrInternal("find account", err)
	}
	if account == nil {
		return nil, domain.ErrNotFound("account", strconv.FormatInt(accountID, 10))
	}
	return account, nil
}

// WithdrawRequest is the body of POST /wallet/withdraw.
type WithdrawRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Reference string          `json:"reference" validate:"omitempty,max=64"`
}

// Withdraw debits chips from the account.
func (s *SportsbookService) Withdraw(ctx context.Context, accountID int64, req WithdrawRequest) (*domain.CommandResult, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = uuid.New().String()
	}

	var result *domain.CommandResult
	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		r, err := s.engine.ExecuteWithdraw(ctx, tx, domain.WithdrawParams{
			AccountID: accountID,
			Amount:    req.Amount,
			Reference: "wd:" + reference,
		})
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TeamInput is one participant of an admin-created event.
type TeamInput struct {
	Name string          `json:"name" validate:"required,max=128"`
	Odds decimal.Decimal `json:"odds" validate:"gt=1"`
}

// CreateEventRequest is the body of POST /admin/events.
type CreateEventRequest struct {
	Name     string      `json:"name" validate:"required,max=256"`
	SportKey string      `json:"sportKey" validate:"omitempty,max=64"`
	StartsAt time.Time   `json:"startsAt" validate:"required"`
	Teams    []TeamInput `json:"teams" validate:"min=2,dive"`
}

// CreateEvent inserts an event with its teams.
func (s *SportsbookService) CreateEvent(ctx context.Context, req CreateEventRequest) (*domain.Event, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(req.Teams))
	event := &domain.Event{
		Name:     strings.TrimSpace(req.Name),
		SportKey: req.SportKey,
		StartsAt: req.StartsAt,
	}
	for _, t := range req.Teams {
		name := strings.TrimSpace(t.Name)
		if seen[strings.ToLower(name)] {
			return nil, domain.ErrValidation(fmt.Sprintf("duplicate team %q", name))
		}
		seen[strings.ToLower(name)] = true
		event.Teams = append(event.Teams, domain.EventTeam{Name: name, Odds: t.Odds})
	}

	if err := s.events.Create(ctx, s.db, event); err != nil {
		return nil, domain.ErrInternal("create event", err)
	}
	s.logger.Info("event created", "event_id", event.ID, "name", event.Name, "teams", len(event.Teams))
	return event, nil
}

// CreditRequest is the body of POST /admin/accounts/{id}/credit.
type CreditRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Reason    string          `json:"reason" validate:"required,max=256"`
	Reference string          `json:"reference" validate:"omitempty,max=64"`
}

// CreditAccount grants chips to an account outside the payment flow.
func (s *SportsbookService) CreditAccount(ctx context.Context, accountID, adminID int64, req CreditRequest) (*domain.CommandResult, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = uuid.New().String()
	}

	var result *domain.CommandResult
	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		r, err := s.engine.ExecuteCredit(ctx, tx, domain.CreditParams{
			AccountID: accountID,
			Type:      domain.TxDeposit,
			Amount:    req.Amount,
			Provider:  providerAdmin,
			Reference: "admin:" + reference,
			Metadata:  mustJSON(map[string]any{"reason": req.Reason, "adminId": adminID}),
		})
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("admin credit", "account_id", accountID, "admin_id", adminID, "amount", req.Amount, "idempotent", result.Idempotent)
	return result, nil
}

// Reconcile checks an account's balance against its ledger rows.
func (s *SportsbookService) Reconcile(ctx context.Context, accountID int64) (*ledger.ReconcileResult, error) {
	return s.engine.Reconcile(ctx, s.db, accountID)
}

// SettleEvent runs settlement for one event.
func (s *SportsbookService) SettleEvent(ctx context.Context, req settlement.SettleRequest) (*settlement.Result, error) {
	result, err := s.settler.SettleEvent(ctx, req)
	if err != nil {
		return result, err
	}
	s.logger.Info("settle requested",
		"event_id", req.EventID,
		"already_settled", result.AlreadySettled,
		"settled", result.Settled,
		"failed", result.Failed,
	)
	return result, nil
}
