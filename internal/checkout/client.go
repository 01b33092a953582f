package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// CSRFHeader carries the double-submit antiforgery token.
const CSRFHeader = "X-CSRF-TOKEN"

// Client creates checkout sessions against the payment API. It keeps the
// antiforgery cookie in a jar and never follows redirects, since a redirect
// means the caller has to authenticate again.
type Client struct {
	baseURL string
	http    *http.Client
	token   string

	mu   sync.Mutex
	csrf string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBearerToken sends Authorization: Bearer on every request.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithCSRFToken presets the antiforgery token.
func WithCSRFToken(token string) ClientOption {
	return func(c *Client) { c.csrf = token }
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.http.Transport = rt }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FetchCSRFToken primes the antiforgery cookie and stores the paired token.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	env, err := c.do(ctx, http.MethodGet, "/payment/csrf", nil)
	if err != nil {
		return "", err
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return "", newError(KindAntiforgery, "csrf token missing from response", err)
	}
	c.mu.Lock()
	c.csrf = data.Token
	c.mu.Unlock()
	return data.Token, nil
}

// CreateSession posts productId and returns the provider client secret.
func (c *Client) CreateSession(ctx context.Context, productID int64) (string, error) {
	body, err := json.Marshal(map[string]int64{"productId": productID})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	env, err := c.do(ctx, http.MethodPost, "/payment/create-checkout-session", body)
	if err != nil {
		return "", err
	}
	var data struct {
		ClientSecret string `json:"clientSecret"`
		SessionID    string `json:"sessionId"`
	}
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &data)
	}
	if data.ClientSecret == "" {
		return "", newError(KindNoClientSecret, "response has no client secret", nil)
	}
	return data.ClientSecret, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Lock()
	if c.csrf != "" {
		req.Header.Set(CSRFHeader, c.csrf)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return nil, &Error{Kind: KindAuthRequired, Code: "AUTH_REDIRECT", Status: resp.StatusCode,
			Message: "redirected to " + resp.Header.Get("Location")}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuthRequired, Code: "UNAUTHORIZED", Status: resp.StatusCode,
			Message: "authentication required"}
	}

	env, decodeErr := decodeEnvelope(resp.Header.Get("Content-Type"), raw)

	if resp.StatusCode == http.StatusBadRequest {
		msg := "request rejected"
		if decodeErr == nil && env.Message != "" {
			msg = env.Message
		}
		return nil, &Error{Kind: KindAntiforgery, Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &Error{Kind: KindNonJSON, Status: resp.StatusCode, Message: "unexpected response body", Cause: decodeErr}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{Kind: KindAPIError, Status: resp.StatusCode, Message: msg}
	}
	return env, nil
}

func decodeEnvelope(contentType string, raw []byte) (*envelope, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		return nil, fmt.Errorf("content type %q is not JSON", contentType)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return &env, nil
}

func transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, "session request timed out", err)
	case errors.Is(ctx.Err(), context.Canceled):
		return newError(KindCancelled, "", context.Cause(ctx))
	default:
		return newError(KindNetwork, "request failed", err)
	}
}
