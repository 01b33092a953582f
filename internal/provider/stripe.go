package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	stripeAPIBase          = "https://api.stripe.com"
	stripeWebhookTolerance = 5 * time.Minute
)

// Stripe webhook event types handled by the payment service.
const (
	StripeEventCheckoutCompleted = "checkout.session.completed"
	StripeEventCheckoutExpired   = "checkout.session.expired"
)

// StripeProvider wraps the Stripe Checkout API over plain HTTPS.
type StripeProvider struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	now           func() time.Time
}

// StripeOption configures a StripeProvider.
type StripeOption func(*StripeProvider)

// WithStripeBaseURL points the provider at a different API host.
func WithStripeBaseURL(u string) StripeOption {
	return func(s *StripeProvider) { s.baseURL = strings.TrimRight(u, "/") }
}

// NewStripeProvider creates a Stripe provider.
func NewStripeProvider(secretKey, webhookSecret string, opts ...StripeOption) *StripeProvider {
	s := &StripeProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       stripeAPIBase,
		client:        &http.Client{Timeout: 15 * time.Second},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether API calls can be made.
func (s *StripeProvider) Configured() bool { return s.secretKey != "" }

// CheckoutSession is the subset of a Stripe checkout session the app reads.
type CheckoutSession struct {
	ID                string            `json:"id"`
	ClientSecret      string            `json:"client_secret"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// EmbeddedSessionParams describes one chip package purchase.
type EmbeddedSessionParams struct {
	AccountID      int64
	ProductID      int64
	ProductName    string
	AmountCents    int64
	Currency       string
	ReturnURL      string
	IdempotencyKey string
}

// StripeWebhookEvent represents a parsed Stripe webhook event.
type StripeWebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StripeError is a non-2xx response from the Stripe API.
type StripeError struct {
	Status  int
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StripeError) Error() string {
	return fmt.Sprintf("stripe error (status %d, %s): %s", e.Status, e.Type, e.Message)
}

// CreateEmbeddedSession creates a checkout session with ui_mode=embedded.
// The client secret it returns mounts the hosted widget.
func (s *StripeProvider) CreateEmbeddedSession(ctx context.Context, p EmbeddedSessionParams) (*CheckoutSession, error) {
	accountID := strconv.FormatInt(p.AccountID, 10)
	productID := strconv.FormatInt(p.ProductID, 10)

	form := url.Values{}
	form.Set("ui_mode", "embedded")
	form.Set("mode", "payment")
	form.Set("return_url", p.ReturnURL)
	form.Set("client_reference_id", accountID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(p.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", p.ProductName)
	form.Set("metadata[account_id]", accountID)
	form.Set("metadata[product_id]", productID)

	var session CheckoutSession
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", form, p.IdempotencyKey, &session); err != nil {
		return nil, err
	}
	if session.ClientSecret == "" {
		return nil, fmt.Errorf("stripe session %s has no client secret", session.ID)
	}
	return &session, nil
}

// GetSession retrieves a checkout session by ID.
func (s *StripeProvider) GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session CheckoutSession
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if err := s.call(ctx, http.MethodGet, path, nil, "", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *StripeProvider) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	if s.secretKey == "" {
		return fmt.Errorf("stripe secret key not configured")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe api call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var wrapper struct {
			Error StripeError `json:"error"`
		}
		if jsonErr := json.Unmarshal(raw, &wrapper); jsonErr != nil || wrapper.Error.Message == "" {
			wrapper.Error.Message = strings.TrimSpace(string(raw[:min(200, len(raw))]))
		}
		wrapper.Error.Status = resp.StatusCode
		return &wrapper.Error
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}

// VerifyWebhookSignature verifies a Stripe-Signature header and returns the
// parsed event.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, sigHeader string) (*StripeWebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret not configured")
	}

	// t=timestamp,v1=signature[,v1=signature]
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return nil, fmt.Errorf("invalid signature header format")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	if s.now().Sub(time.Unix(ts, 0)) > stripeWebhookTolerance {
		return nil, fmt.Errorf("webhook timestamp too old")
	}

	expected := SignStripePayload(s.webhookSecret, timestamp, payload)
	valid := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid webhook signature")
	}

	var event StripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	return &event, nil
}

// SignStripePayload computes the v1 signature Stripe sends for payload.
func SignStripePayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseCheckoutSessionData extracts the session from a webhook event's data.object.
func ParseCheckoutSessionData(data json.RawMessage) (*CheckoutSession, error) {
	var wrapper struct {
		Object CheckoutSession `json:"object"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse checkout session data: %w", err)
	}
	if wrapper.Object.ID == "" {
		return nil, fmt.Errorf("parse checkout session data: missing id")
	}
	return &wrapper.Object, nil
}
