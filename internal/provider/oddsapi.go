package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chipline/sportsbook/internal/guard"
	"github.com/shopspring/decimal"
)

// ErrQuotaExceeded is returned when The Odds API rejects a call for quota.
var ErrQuotaExceeded = errors.New("odds api quota exceeded")

const oddsAPICircuit = "oddsapi"

// OddsEvent is an upcoming event with bookmaker prices.
type OddsEvent struct {
	ID           string          `json:"id"`
	SportKey     string          `json:"sport_key"`
	SportTitle   string          `json:"sport_title"`
	CommenceTime time.Time       `json:"commence_time"`
	HomeTeam     string          `json:"home_team"`
	AwayTeam     string          `json:"away_team"`
	Bookmakers   []OddsBookmaker `json:"bookmakers"`
}

type OddsBookmaker struct {
	Key     string       `json:"key"`
	Title   string       `json:"title"`
	Markets []OddsMarket `json:"markets"`
}

type OddsMarket struct {
	Key      string        `json:"key"`
	Outcomes []OddsOutcome `json:"outcomes"`
}

type OddsOutcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// H2HOdds returns the head-to-head decimal price per outcome name from the
// first bookmaker quoting that market. Outcomes priced at or below 1 are
// skipped.
func (e OddsEvent) H2HOdds() map[string]decimal.Decimal {
	for _, bk := range e.Bookmakers {
		for _, mkt := range bk.Markets {
			if mkt.Key != "h2h" || len(mkt.Outcomes) == 0 {
				continue
			}
			odds := make(map[string]decimal.Decimal, len(mkt.Outcomes))
			for _, o := range mkt.Outcomes {
				price := decimal.NewFromFloat(o.Price).Round(2)
				if price.GreaterThan(decimal.NewFromInt(1)) {
					odds[o.Name] = price
				}
			}
			return odds
		}
	}
	return nil
}

// ScoreEvent is an event's score line.
type ScoreEvent struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	CommenceTime time.Time   `json:"commence_time"`
	Completed    bool        `json:"completed"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	Scores       []TeamScore `json:"scores"`
}

type TeamScore struct {
	Name  string `json:"name"`
	Score string `json:"score"`
}

// Winner returns the team with the higher score. draw is true on a tie.
func (s ScoreEvent) Winner() (winner string, draw bool, err error) {
	if !s.Completed {
		return "", false, fmt.Errorf("event %s is not completed", s.ID)
	}
	if len(s.Scores) != 2 {
		return "", false, fmt.Errorf("event %s has %d score lines", s.ID, len(s.Scores))
	}
	a, err := strconv.Atoi(strings.TrimSpace(s.Scores[0].Score))
	if err != nil {
		return "", false, fmt.Errorf("event %s score %q: %w", s.ID, s.Scores[0].Score, err)
	}
	b, err := strconv.Atoi(strings.TrimSpace(s.Scores[1].Score))
	if err != nil {
		return "", false, fmt.Errorf("event %s score %q: %w", s.ID, s.Scores[1].Score, err)
	}
	switch {
	case a > b:
		return s.Scores[0].Name, false, nil
	case b > a:
		return s.Scores[1].Name, false, nil
	default:
		return "", true, nil
	}
}

// OddsAPIClient reads events, prices and scores from The Odds API.
type OddsAPIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *guard.CircuitBreaker
	logger  *slog.Logger
}

// NewOddsAPIClient creates a client. All calls share one circuit.
func NewOddsAPIClient(baseURL, apiKey string, breaker *guard.CircuitBreaker, logger *slog.Logger) *OddsAPIClient {
	return &OddsAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: breaker,
		logger:  logger,
	}
}

// FetchOdds returns upcoming events for a sport with decimal h2h prices.
func (c *OddsAPIClient) FetchOdds(ctx context.Context, sportKey string) ([]OddsEvent, error) {
	q := url.Values{}
	q.Set("regions", "eu")
	q.Set("markets", "h2h")
	q.Set("oddsFormat", "decimal")
	q.Set("dateFormat", "iso")

	var events []OddsEvent
	if err := c.get(ctx, "/v4/sports/"+url.PathEscape(sportKey)+"/odds", q, &events); err != nil {
		return nil, fmt.Errorf("fetch odds for %s: %w", sportKey, err)
	}
	return events, nil
}

// FetchScores returns live and recently completed scores for a sport.
func (c *OddsAPIClient) FetchScores(ctx context.Context, sportKey string, daysFrom int) ([]ScoreEvent, error) {
	q := url.Values{}
	q.Set("daysFrom", strconv.Itoa(daysFrom))
	q.Set("dateFormat", "iso")

	var scores []ScoreEvent
	if err := c.get(ctx, "/v4/sports/"+url.PathEscape(sportKey)+"/scores", q, &scores); err != nil {
		return nil, fmt.Errorf("fetch scores for %s: %w", sportKey, err)
	}
	return scores, nil
}

func (c *OddsAPIClient) get(ctx context.Context, path string, q url.Values, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("odds api key not configured")
	}
	q.Set("apiKey", c.apiKey)

	return c.breaker.Execute(ctx, oddsAPICircuit, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}

		c.logger.Debug("odds api request",
			"path", path,
			"status", resp.StatusCode,
			"remaining", resp.Header.Get("x-requests-remaining"),
		)

		if resp.StatusCode == http.StatusTooManyRequests {
			return ErrQuotaExceeded
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("odds api returned %d: %s", resp.StatusCode, string(body[:min(200, len(body))]))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
