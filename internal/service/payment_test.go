package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/chipline/sportsbook/internal/ledger"
	"github.com/chipline/sportsbook/internal/provider"
	"github.com/chipline/sportsbook/internal/repository/repotest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeStripe serves the two checkout session endpoints the service calls.
type fakeStripe struct {
	srv     *httptest.Server
	created atomic.Int32
	status  atomic.Value
}

func newFakeStripe(t *testing.T) *fakeStripe {
	t.Helper()
	f := &fakeStripe{}
	f.status.Store("open")
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
			n := f.created.Add(1)
			id := fmt.Sprintf("cs_test_%d", n)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": id, "client_secret": id + "_secret", "status": "open", "payment_status": "unpaid",
			})
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "cs_test_1", "status": f.status.Load(), "payment_status": "paid",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

type paymentFixture struct {
	store     *repotest.Store
	svc       *PaymentService
	stripe    *fakeStripe
	accountID int64
	productID int64
}

func newPaymentFixture(t *testing.T, cfg PaymentConfig) *paymentFixture {
	t.Helper()
	store := repotest.NewStore()
	fake := newFakeStripe(t)
	metrics := infra.NewMetrics()
	engine := ledger.NewEngine(store.Accounts(), store.TransactionRepo(), store.Bets(), store.OutboxRepo(), metrics)
	stripe := provider.NewStripeProvider("sk_test", webhookSecret, provider.WithStripeBaseURL(fake.srv.URL))
	if cfg.ReturnURL == "" {
		cfg.ReturnURL = "https://app.test/return"
	}

	f := &paymentFixture{
		store:     store,
		stripe:    fake,
		svc:       NewPaymentService(store.Conn(), stripe, store.Products(), store.TransactionRepo(), engine, metrics, cfg, discardLogger()),
		accountID: store.AddAccount("buyer@example.com", decimal.Zero),
		productID: store.AddProduct(domain.Product{Name: "1000 chips", Chips: d("1000"), PriceCents: 999, Currency: "USD", Active: true}),
	}
	return f
}

func (f *paymentFixture) webhook(t *testing.T, eventID, eventType, sessionID, paymentStatus string) error {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": eventType,
		"data": map[string]any{"object": map[string]any{
			"id": sessionID, "status": "complete", "payment_status": paymentStatus, "payment_intent": "pi_1",
		}},
	})
	require.NoError(t, err)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	header := fmt.Sprintf("t=%s,v1=%s", ts, provider.SignStripePayload(webhookSecret, ts, payload))
	return f.svc.HandleStripeWebhook(context.Background(), payload, header)
}

func TestCreateCheckoutSession(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})

	session, err := f.svc.CreateCheckoutSession(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.SessionID)
	assert.Equal(t, "cs_test_1_secret", session.ClientSecret)

	rows := f.store.Transactions()
	require.Len(t, rows, 1)
	assert.Equal(t, domain.TxDeposit, rows[0].Type)
	assert.Equal(t, domain.TxStatusPending, rows[0].Status)
	assert.True(t, d("1000").Equal(rows[0].Amount))
	require.NotNil(t, rows[0].ProviderSessionID)
	assert.Equal(t, "cs_test_1", *rows[0].ProviderSessionID)

	// A pending deposit does not move the balance.
	assert.True(t, f.store.Account(f.accountID).CreditBalance.IsZero())
}

func TestCreateCheckoutSession_Rejections(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	inactive := f.store.AddProduct(domain.Product{Name: "old", Chips: d("10"), PriceCents: 100, Currency: "USD"})

	tests := []struct {
		name      string
		productID int64
		code      string
	}{
		{"missing product id", 0, "VALIDATION_ERROR"},
		{"unknown product", 9999, "NOT_FOUND"},
		{"inactive product", inactive, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateCheckoutSession(context.Background(), f.accountID, CheckoutRequest{ProductID: tt.productID})
			require.Error(t, err)
			assert.True(t, domain.IsCode(err, tt.code), err.Error())
		})
	}
	assert.Empty(t, f.store.Transactions())
	assert.Zero(t, f.stripe.created.Load())
}

func TestCreateCheckoutSession_RateLimited(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{RateLimit: 1})

	_, err := f.svc.CreateCheckoutSession(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
	require.NoError(t, err)

	_, err = f.svc.CreateCheckoutSession(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, "RATE_LIMITED"))
	assert.Equal(t, int32(1), f.stripe.created.Load())
}

func TestWebhookCompletesDeposit(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	session, err := f.svc.CreateCheckoutSession(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
	require.NoError(t, err)

	require.NoError(t, f.webhook(t, "evt_1", provider.StripeEventCheckoutCompleted, session.SessionID, "paid"))
	assert.True(t, d("1000").Equal(f.store.Account(f.accountID).CreditBalance))

	rows := f.store.Transactions()
	require.Len(t, rows, 1)
	assert.Equal(t, domain.TxStatusCompleted, rows[0].Status)
	require.NotNil(t, rows[0].BalanceAfter)
	assert.True(t, d("1000").Equal(*rows[0].BalanceAfter))

	t.Run("redelivery is dropped", func(t *testing.T) {
		require.NoError(t, f.webhook(t, "evt_1", provider.StripeEventCheckoutCompleted, session.SessionID, "paid"))
		assert.True(t, d("1000").Equal(f.store.Account(f.accountID).CreditBalance))
	})

	t.Run("second event for same session is idempotent", func(t *testing.T) {
		require.NoError(t, f.webhook(t, "evt_2", provider.StripeEventCheckoutCompleted, session.SessionID, "paid"))
		assert.True(t, d("1000").Equal(f.store.Account(f.accountID).CreditBalance))
		assert.Len(t, f.store.Transactions(), 1)
	})

	t.Run("expiry after completion changes nothing", func(t *testing.T) {
		require.NoError(t, f.webhook(t, "evt_3", provider.StripeEventCheckoutExpired, session.SessionID, "unpaid"))
		assert.Equal(t, domain.TxStatusCompleted, f.store.Transactions()[0].Status)
	})
}

func TestWebhookUnpaidCompletionIgnored(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	session, err := f.svc.CreateCheckoutSession(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
	require.NoError(t, err)

	require.NoError(t, f.webhook(t, "evt_1", provider.StripeEventCheckoutCompleted, session.SessionID, "unpaid"))
	assert.True(t, f.store.Account(f.accountID).CreditBalance.IsZero())
	assert.Equal(t, domain.TxStatusPending, f.store.Transactions()[0].Status)
}

func TestWebhookExpiredCancelsDeposit(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	session, err := f.svc.CreateCheckoutSession(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
	require.NoError(t, err)

	require.NoError(t, f.webhook(t, "evt_9", provider.StripeEventCheckoutExpired, session.SessionID, "unpaid"))
	assert.Equal(t, domain.TxStatusCancelled, f.store.Transactions()[0].Status)
	assert.True(t, f.store.Account(f.accountID).CreditBalance.IsZero())
}

func TestWebhookUnknownSessionAcknowledged(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	require.NoError(t, f.webhook(t, "evt_x", provider.StripeEventCheckoutCompleted, "cs_unknown", "paid"))
	assert.Empty(t, f.store.Transactions())
}

func TestWebhookBadSignature(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	err := f.svc.HandleStripeWebhook(context.Background(), []byte(`{"id":"evt_1"}`), "t=1,v1=bad")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, "UNAUTHORIZED"))
}

func TestSessionStatus(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})
	session, err := f.svc.CreateCheckoutSession(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
	require.NoError(t, err)

	f.stripe.status.Store("complete")
	status, err := f.svc.SessionStatus(context.Background(), f.accountID, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "complete", status.Status)
	assert.Equal(t, "paid", status.PaymentStatus)
	assert.Equal(t, domain.TxStatusPending, status.Deposit)

	_, err = f.svc.SessionStatus(context.Background(), f.accountID+100, session.SessionID)
	assert.True(t, domain.IsCode(err, "NOT_FOUND"))

	_, err = f.svc.SessionStatus(context.Background(), f.accountID, "")
	assert.True(t, domain.IsCode(err, "VALIDATION_ERROR"))
}

func TestBypass(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newPaymentFixture(t, PaymentConfig{})
		_, err := f.svc.Bypass(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, "FORBIDDEN"))
		assert.Empty(t, f.store.Transactions())
	})

	t.Run("enabled", func(t *testing.T) {
		f := newPaymentFixture(t, PaymentConfig{BypassEnabled: true})
		result, err := f.svc.Bypass(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
		require.NoError(t, err)
		assert.True(t, d("1000").Equal(result.Account.CreditBalance))
		assert.Equal(t, domain.TxStatusCompleted, result.Transaction.Status)

		var meta map[string]any
		require.NoError(t, json.Unmarshal(result.Transaction.Metadata, &meta))
		assert.Equal(t, true, meta["bypass"])
		assert.Zero(t, f.stripe.created.Load())
	})
}

func TestHistory(t *testing.T) {
	f := newPaymentFixture(t, PaymentConfig{})

	rows, err := f.svc.History(context.Background(), f.accountID)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	_, err = f.svc.CreateCheckoutSession(context.Background(), f.accountID, CheckoutRequest{ProductID: f.productID})
	require.NoError(t, err)
	rows, err = f.svc.History(context.Background(), f.accountID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
