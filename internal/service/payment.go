package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/guard"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/chipline/sportsbook/internal/ledger"
	"github.com/chipline/sportsbook/internal/provider"
	"github.com/chipline/sportsbook/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	providerStripe = "stripe"
	providerBypass = "bypass"

	checkoutAction = "checkout"
	historyLimit   = 50
)

// PaymentConfig carries the checkout settings taken from infra.Config.
type PaymentConfig struct {
	ReturnURL     string
	BypassEnabled bool
	RateLimit     int
	RateWindow    time.Duration
	WebhookTTL    time.Duration
}

// PaymentService handles chip purchases: embedded checkout sessions, the
// provider webhook that credits them, and the dev-only bypass.
type PaymentService struct {
	db       repository.Conn
	stripe   *provider.StripeProvider
	products repository.ProductRepository
	txRepo   repository.TransactionRepository
	engine   *ledger.Engine
	limiter  *guard.RateLimiter
	webhooks *guard.IdempotencyGuard
	metrics  *infra.Metrics
	cfg      PaymentConfig
	logger   *slog.Logger
}

// NewPaymentService creates a PaymentService.
func NewPaymentService(
	db repository.Conn,
	stripe *provider.StripeProvider,
	products repository.ProductRepository,
	txRepo repository.TransactionRepository,
	engine *ledger.Engine,
	metrics *infra.Metrics,
	cfg PaymentConfig,
	logger *slog.Logger,
) *PaymentService {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.WebhookTTL <= 0 {
		cfg.WebhookTTL = 24 * time.Hour
	}
	return &PaymentService{
		db:       db,
		stripe:   stripe,
		products: products,
		txRepo:   txRepo,
		engine:   engine,
		limiter:  guard.NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		webhooks: guard.NewIdempotencyGuard(cfg.WebhookTTL),
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
}

// CheckoutRequest is the body of POST /payment/create-checkout-session.
type CheckoutRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
}

// CheckoutSession is returned to the browser to mount the embedded widget.
type CheckoutSession struct {
	ClientSecret string `json:"clientSecret"`
	SessionID    string `json:"sessionId"`
}

// CreateCheckoutSession opens an embedded provider session for a chip
// package and records the PENDING deposit it will settle.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, accountID int64, req CheckoutRequest) (*CheckoutSession, error) {
	if err := domain.ValidateStruct(req); err != nil {
		s.metrics.CheckoutSession("invalid")
		return nil, err
	}
	if res := s.limiter.Check(ctx, guard.AccountKey(checkoutAction, accountID)); !res.Allowed {
		s.metrics.CheckoutSession("rate_limited")
		return nil, domain.ErrRateLimited(res.Reason)
	}
	if !s.stripe.Configured() {
		s.metrics.CheckoutSession("error")
		return nil, domain.ErrProvider("payments are not configured", nil)
	}

	product, err := s.activeProduct(ctx, req.ProductID)
	if err != nil {
		s.metrics.CheckoutSession("invalid")
		return nil, err
	}

	session, err := s.stripe.CreateEmbeddedSession(ctx, provider.EmbeddedSessionParams{
		AccountID:      accountID,
		ProductID:      product.ID,
		ProductName:    product.Name,
		AmountCents:    product.PriceCents,
		Currency:       product.Currency,
		ReturnURL:      s.cfg.ReturnURL,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		s.metrics.CheckoutSession("error")
		s.logger.Warn("create checkout session failed", "account_id", accountID, "product_id", product.ID, "error", err)
		return nil, domain.ErrProvider("could not start checkout", err)
	}

	productID := product.ID
	providerName := providerStripe
	sessionID := session.ID
	reference := "stripe:" + session.ID
	_, err = s.txRepo.Insert(ctx, s.db, &domain.PaymentTransaction{
		AccountID:         accountID,
		Type:              domain.TxDeposit,
		Amount:            product.Chips,
		Status:            domain.TxStatusPending,
		ProductID:         &productID,
		Provider:          &providerName,
		ProviderSessionID: &sessionID,
		Reference:         &reference,
		Metadata: mustJSON(map[string]any{
			"priceCents": product.PriceCents,
			"currency":   product.Currency,
		}),
	})
	if err != nil {
		s.metrics.CheckoutSession("error")
		return nil, domain.ErrInternal("record pending deposit", err)
	}

	s.metrics.CheckoutSession("created")
	s.logger.Info("checkout session created", "account_id", accountID, "product_id", product.ID, "session_id", session.ID)
	return &CheckoutSession{ClientSecret: session.ClientSecret, SessionID: session.ID}, nil
}

// SessionStatus is what the return page shows after the widget completes.
type SessionStatus struct {
	SessionID     string                   `json:"sessionId"`
	Status        string                   `json:"status"`
	PaymentStatus string                   `json:"paymentStatus"`
	Deposit       domain.TransactionStatus `json:"depositStatus"`
}

// SessionStatus reports the provider and ledger state of one of the
// account's checkout sessions.
func (s *PaymentService) SessionStatus(ctx context.Context, accountID int64, sessionID string) (*SessionStatus, error) {
	if sessionID == "" {
		return nil, domain.ErrValidation("session_id is required")
	}
	row, err := s.txRepo.FindByProviderSessionID(ctx, s.db, sessionID)
	if err != nil {
		return nil, domain.ErrInternal("find checkout session", err)
	}
	if row == nil || row.AccountID != accountID {
		return nil, domain.ErrNotFound("checkout session", sessionID)
	}

	status := &SessionStatus{SessionID: sessionID, Deposit: row.Status}
	switch row.Status {
	case domain.TxStatusCompleted:
		status.Status, status.PaymentStatus = "complete", "paid"
	case domain.TxStatusCancelled, domain.TxStatusFailed:
		status.Status, status.PaymentStatus = "expired", "unpaid"
	default:
		status.Status, status.PaymentStatus = "open", "unpaid"
	}

	if row.Status == domain.TxStatusPending && s.stripe.Configured() {
		session, err := s.stripe.GetSession(ctx, sessionID)
		if err != nil {
			s.logger.Warn("session status lookup failed", "session_id", sessionID, "error", err)
			return status, nil
		}
		status.Status, status.PaymentStatus = session.Status, session.PaymentStatus
	}
	return status, nil
}

// Bypass credits a product's chips with no payment. Only enabled for local
// development.
func (s *PaymentService) Bypass(ctx context.Context, accountID int64, req CheckoutRequest) (*domain.CommandResult, error) {
	if !s.cfg.BypassEnabled {
		return nil, domain.ErrForbidden("payment bypass is disabled")
	}
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}
	product, err := s.activeProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	var result *domain.CommandResult
	err = pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		productID := product.ID
		r, err := s.engine.ExecuteCredit(ctx, tx, domain.CreditParams{
			AccountID: accountID,
			Type:      domain.TxDeposit,
			Amount:    product.Chips,
			ProductID: &productID,
			Provider:  providerBypass,
			Reference: "bypass:" + uuid.New().String(),
			Metadata:  mustJSON(map[string]any{"bypass": true, "productId": product.ID}),
		})
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("payment bypass credited", "account_id", accountID, "product_id", product.ID, "chips", product.Chips)
	return result, nil
}

// HandleStripeWebhook verifies and applies a provider webhook delivery.
// Repeated deliveries of the same event ID are dropped; a failed delivery is
// forgotten so the provider's retry is processed.
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := s.stripe.VerifyWebhookSignature(payload, sigHeader)
	if err != nil {
		return domain.ErrUnauthorized(fmt.Sprintf("webhook verification failed: %v", err))
	}

	if res := s.webhooks.Check(ctx, event.ID); !res.Allowed {
		s.logger.Info("duplicate stripe webhook dropped", "event_id", event.ID, "type", event.Type)
		return nil
	}

	switch event.Type {
	case provider.StripeEventCheckoutCompleted:
		err = s.handleCheckoutCompleted(ctx, event)
	case provider.StripeEventCheckoutExpired:
		err = s.handleCheckoutExpired(ctx, event)
	default:
		s.logger.Info("unhandled stripe event type", "type", event.Type)
	}
	if err != nil {
		s.webhooks.Remove(event.ID)
	}
	return err
}

func (s *PaymentService) handleCheckoutCompleted(ctx context.Context, event *provider.StripeWebhookEvent) error {
	session, err := provider.ParseCheckoutSessionData(event.Data)
	if err != nil {
		return domain.ErrValidation(fmt.Sprintf("parse checkout session: %v", err))
	}
	if session.PaymentStatus != "paid" && session.PaymentStatus != "no_payment_required" {
		s.logger.Info("checkout completed without payment", "session_id", session.ID, "payment_status", session.PaymentStatus)
		return nil
	}

	var result *domain.CommandResult
	err = pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		r, err := s.engine.CompleteDeposit(ctx, tx, session.ID, mustJSON(map[string]any{
			"eventId":       event.ID,
			"paymentIntent": session.PaymentIntent,
		}))
		result = r
		return err
	})
	if domain.IsCode(err, "NOT_FOUND") {
		s.logger.Warn("deposit not found for session", "session_id", session.ID)
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Info("deposit completed",
		"session_id", session.ID,
		"account_id", result.Transaction.AccountID,
		"amount", result.Transaction.Amount,
		"idempotent", result.Idempotent,
	)
	return nil
}

func (s *PaymentService) handleCheckoutExpired(ctx context.Context, event *provider.StripeWebhookEvent) error {
	session, err := provider.ParseCheckoutSessionData(event.Data)
	if err != nil {
		return domain.ErrValidation(fmt.Sprintf("parse checkout session: %v", err))
	}

	var cancelled bool
	err = pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ok, err := s.engine.CancelPendingDeposit(ctx, tx, session.ID, domain.TxStatusCancelled)
		cancelled = ok
		return err
	})
	if domain.IsCode(err, "NOT_FOUND") {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("checkout session expired", "session_id", session.ID, "cancelled", cancelled)
	return nil
}

// History returns the account's payment transactions, newest first.
func (s *PaymentService) History(ctx context.Context, accountID int64) ([]domain.PaymentTransaction, error) {
	rows, err := s.txRepo.ListByAccount(ctx, s.db, accountID, historyLimit)
	if err != nil {
		return nil, domain.ErrInternal("list payments", err)
	}
	if rows == nil {
		rows = []domain.PaymentTransaction{}
	}
	return rows, nil
}

// Products lists the purchasable chip packages.
func (s *PaymentService) Products(ctx context.Context) ([]domain.Product, error) {
	products, err := s.products.ListActive(ctx, s.db)
	if err != nil {
		return nil, domain.ErrInternal("list products", err)
	}
	if products == nil {
		products = []domain.Product{}
	}
	return products, nil
}

func (s *PaymentService) activeProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := s.products.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, domain.ErrInternal("find product", err)
	}
	if product == nil || !product.Active {
		return nil, domain.ErrNotFound("product", strconv.FormatInt(id, 10))
	}
	return product, nil
}

func mustJSON(v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}
