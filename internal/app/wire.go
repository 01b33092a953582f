package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/chipline/sportsbook/internal/auth"
	"github.com/chipline/sportsbook/internal/handler"
	adminhandler "github.com/chipline/sportsbook/internal/handler/admin"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/chipline/sportsbook/internal/ledger"
	"github.com/chipline/sportsbook/internal/policy"
	"github.com/chipline/sportsbook/internal/provider"
	"github.com/chipline/sportsbook/internal/repository"
	"github.com/chipline/sportsbook/internal/service"
	"github.com/chipline/sportsbook/internal/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Repositories groups the data access layer. PostgresRepositories is the
// production set.
type Repositories struct {
	Accounts     repository.AccountRepository
	Transactions repository.TransactionRepository
	Bets         repository.BetRepository
	Events       repository.EventRepository
	Products     repository.ProductRepository
	Outbox       repository.OutboxRepository
}

// PostgresRepositories returns the pgx-backed repositories.
func PostgresRepositories() Repositories {
	return Repositories{
		Accounts:     repository.NewAccountRepository(),
		Transactions: repository.NewTransactionRepository(),
		Bets:         repository.NewBetRepository(),
		Events:       repository.NewEventRepository(),
		Products:     repository.NewProductRepository(),
		Outbox:       repository.NewOutboxRepository(),
	}
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	DB      repository.Conn
	Repos   Repositories
	Health  func(ctx context.Context) error
	JWTMgr  *auth.JWTManager
	Stripe  *provider.StripeProvider
	Metrics *infra.Metrics
	Config  *infra.Config
	Logger  *slog.Logger
}

// NewSettlementEngine builds the settlement engine over db. The API and the
// worker share it.
func NewSettlementEngine(db repository.Conn, repos Repositories, metrics *infra.Metrics, logger *slog.Logger) (*settlement.Engine, *ledger.Engine) {
	ledgerEngine := ledger.NewEngine(repos.Accounts, repos.Transactions, repos.Bets, repos.Outbox, metrics)
	store := settlement.NewStore(db, repos.Bets, repos.Events, repos.Outbox, ledgerEngine)
	return settlement.NewEngine(store.Bets(), store.Events(), metrics, logger), ledgerEngine
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	db := deps.DB
	repos := deps.Repos
	cfg := deps.Config
	jwtMgr := deps.JWTMgr
	logger := deps.Logger

	// Engines
	settler, ledgerEngine := NewSettlementEngine(db, repos, deps.Metrics, logger)

	// Services
	paymentSvc := service.NewPaymentService(db, deps.Stripe, repos.Products, repos.Transactions, ledgerEngine, deps.Metrics,
		service.PaymentConfig{
			ReturnURL:     cfg.StripeReturnURL,
			BypassEnabled: cfg.PaymentBypassEnabled,
			RateLimit:     cfg.CheckoutRateLimit,
			RateWindow:    time.Minute,
		}, logger)
	sportsbookSvc := service.NewSportsbookService(db, ledgerEngine, repos.Accounts, repos.Events, repos.Bets, settler, logger,
		service.WithStakeLimits(policy.StakeLimits{
			MinStake: decimal.NewFromFloat(cfg.BetMinStake),
			MaxStake: decimal.NewFromFloat(cfg.BetMaxStake),
		}))

	// Handlers
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	webhookHandler := handler.NewWebhookHandler(paymentSvc, logger)
	sportsbookHandler := handler.NewSportsbookHandler(sportsbookSvc)
	walletHandler := handler.NewWalletHandler(sportsbookSvc)

	// Admin handlers
	sbAdmin := adminhandler.NewSportsbookAdminHandler(sportsbookSvc)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.Metrics(deps.Metrics))
	r.Use(handler.CORSWithOrigins(cfg.CORSAllowedOrigins))

	// Health and metrics (no auth)
	r.Get("/health", handler.HealthHandler(deps.Health))
	r.Handle("/metrics", deps.Metrics.Handler())

	// Webhooks (no auth, raw body required for signature verification)
	r.Post("/webhooks/stripe", webhookHandler.HandleStripeWebhook)

	// Public catalog
	r.Get("/events", sportsbookHandler.ListEvents)
	r.Get("/events/{id}", sportsbookHandler.GetEvent)
	r.Get("/payment/products", paymentHandler.Products)
	r.Get("/payment/csrf", paymentHandler.CSRFToken)

	// Player-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)
		r.Use(auth.AuthenticatePlayer(jwtMgr))

		r.Route("/payment", func(r chi.Router) {
			r.With(handler.RequireCSRF).Post("/create-checkout-session", paymentHandler.CreateCheckoutSession)
			r.Get("/session-status", paymentHandler.SessionStatus)
			r.Get("/history", paymentHandler.History)
			if cfg.PaymentBypassEnabled {
				r.With(handler.RequireCSRF).Post("/bypass", paymentHandler.Bypass)
			}
		})

		r.Route("/bets", func(r chi.Router) {
			r.Post("/", sportsbookHandler.PlaceBet)
			r.Get("/me", sportsbookHandler.MyBets)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/balance", walletHandler.GetBalance)
			r.Post("/withdraw", walletHandler.Withdraw)
		})
	})

	// Admin-authenticated routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(handler.JSONContentType)
		r.Use(auth.AuthenticateAdmin(jwtMgr))

		r.Route("/events", func(r chi.Router) {
			r.With(auth.RequireRole(auth.WriteRoles()...)).Post("/", sbAdmin.CreateEvent)
			r.With(auth.RequireRole(auth.WriteRoles()...)).Post("/{id}/settle", sbAdmin.SettleEvent)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.With(auth.RequireRole(auth.ChipCreditRoles()...)).Post("/{id}/credit", sbAdmin.CreditAccount)
			r.With(auth.RequireRole(auth.AllAdminRoles()...)).Get("/{id}/reconcile", sbAdmin.Reconcile)
		})
	})

	return r
}
