package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/chipline/sportsbook/internal/auth"
	"github.com/chipline/sportsbook/internal/checkout"
	"github.com/chipline/sportsbook/internal/domain"
	"github.com/chipline/sportsbook/internal/infra"
	"github.com/chipline/sportsbook/internal/provider"
	"github.com/chipline/sportsbook/internal/repository/repotest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv     *httptest.Server
	store   *repotest.Store
	jwt     *auth.JWTManager
	product int64
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	stripeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_a","client_secret":"cs_test_a_secret_x","status":"open"}`))
	}))
	t.Cleanup(stripeSrv.Close)

	store := repotest.NewStore()
	product := store.AddProduct(domain.Product{Name: "500 chips", Chips: decimal.NewFromInt(500), PriceCents: 499, Currency: "USD", Active: true})
	jwtMgr := auth.NewJWTManager("test-secret-test-secret-test-secret", time.Hour, time.Hour)

	router := NewRouter(RouterDeps{
		DB: store.Conn(),
		Repos: Repositories{
			Accounts:     store.Accounts(),
			Transactions: store.TransactionRepo(),
			Bets:         store.Bets(),
			Events:       store.Events(),
			Products:     store.Products(),
			Outbox:       store.OutboxRepo(),
		},
		Health:  func(context.Context) error { return nil },
		JWTMgr:  jwtMgr,
		Stripe:  provider.NewStripeProvider("sk_test", "whsec_test", provider.WithStripeBaseURL(stripeSrv.URL)),
		Metrics: infra.NewMetrics(),
		Config:  &infra.Config{CORSAllowedOrigins: "*", CheckoutRateLimit: 10, StripeReturnURL: "https://app.test/return", BetMinStake: 1, BetMaxStake: 50},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, store: store, jwt: jwtMgr, product: product}
}

func (a *testAPI) token(t *testing.T, realm auth.Realm, id int64, role string) string {
	t.Helper()
	tok, err := a.jwt.GenerateToken(realm, id, "", role)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCheckoutClientAgainstRouter(t *testing.T) {
	api := newTestAPI(t)
	acct := api.store.AddAccount("buyer@example.com", decimal.Zero)

	client, err := checkout.NewClient(api.srv.URL, checkout.WithBearerToken(api.token(t, auth.RealmPlayer, acct, "")))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.CreateSession(ctx, api.product)
	require.Error(t, err, "no antiforgery token yet")
	assert.ErrorIs(t, err, checkout.ErrAntiforgery)

	_, err = client.FetchCSRFToken(ctx)
	require.NoError(t, err)
	secret, err := client.CreateSession(ctx, api.product)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_a_secret_x", secret)

	rows := api.store.Transactions()
	require.Len(t, rows, 1)
	assert.Equal(t, domain.TxStatusPending, rows[0].Status)
}

func TestCheckoutRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	client, err := checkout.NewClient(api.srv.URL)
	require.NoError(t, err)

	_, err = client.FetchCSRFToken(context.Background())
	require.NoError(t, err)
	_, err = client.CreateSession(context.Background(), api.product)
	assert.ErrorIs(t, err, checkout.ErrAuthRequired)
}

func TestBetAndSettleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	acct := api.store.AddAccount("p@example.com", decimal.Zero)
	player := api.token(t, auth.RealmPlayer, acct, "")
	superadmin := api.token(t, auth.RealmAdmin, 1, auth.RoleSuperAdmin)
	viewer := api.token(t, auth.RealmAdmin, 2, auth.RoleViewer)

	resp, _ := api.do(t, http.MethodPost, "/admin/accounts/"+strconv.FormatInt(acct, 10)+"/credit", superadmin,
		map[string]any{"amount": "100", "reason": "welcome"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := api.do(t, http.MethodPost, "/admin/events", superadmin, map[string]any{
		"name":     "Final",
		"startsAt": time.Now().Add(time.Hour).Format(time.RFC3339),
		"teams":    []map[string]any{{"name": "North", "odds": "3"}, {"name": "South", "odds": "1.4"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	event := body["data"].(map[string]any)
	eventID := int64(event["id"].(float64))
	teams := event["teams"].([]any)
	northID := int64(teams[0].(map[string]any)["id"].(float64))

	resp, body = api.do(t, http.MethodPost, "/bets", player, map[string]any{"eventId": eventID, "teamId": northID, "stake": "60"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	resp, body = api.do(t, http.MethodPost, "/bets", player, map[string]any{"eventId": eventID, "teamId": northID, "stake": "25"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	settlePath := "/admin/events/" + strconv.FormatInt(eventID, 10) + "/settle"
	resp, _ = api.do(t, http.MethodPost, settlePath, viewer, map[string]any{"outcome": "North", "winningTeamId": northID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = api.do(t, http.MethodPost, settlePath, superadmin, map[string]any{"outcome": "North", "winningTeamId": northID})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["data"].(map[string]any)["won"])

	resp, body = api.do(t, http.MethodPost, settlePath, superadmin, map[string]any{"outcome": "North", "winningTeamId": northID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "event already settled", body["message"])
	assert.Equal(t, true, body["data"].(map[string]any)["alreadySettled"])

	resp, body = api.do(t, http.MethodGet, "/wallet/balance", player, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := body["data"].(map[string]any)["balance"].(string)
	assert.Equal(t, "150", balance)

	resp, body = api.do(t, http.MethodGet, "/admin/accounts/"+strconv.FormatInt(acct, 10)+"/reconcile", viewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["data"].(map[string]any)["allPassed"])
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, err := http.Get(api.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "sportsbook_http_requests_total")
}
