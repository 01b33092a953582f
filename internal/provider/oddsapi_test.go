package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chipline/sportsbook/internal/guard"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oddsFixture = `[{
  "id": "ev1",
  "sport_key": "soccer_epl",
  "sport_title": "EPL",
  "commence_time": "2026-10-20T19:00:00Z",
  "home_team": "Arsenal",
  "away_team": "Chelsea",
  "bookmakers": [{
    "key": "pinnacle",
    "title": "Pinnacle",
    "markets": [{"key": "h2h", "outcomes": [
      {"name": "Arsenal", "price": 1.85},
      {"name": "Chelsea", "price": 4.2},
      {"name": "Draw", "price": 3.6}
    ]}]
  }]
}]`

const scoresFixture = `[
  {"id": "ev1", "sport_key": "soccer_epl", "commence_time": "2026-10-20T19:00:00Z", "completed": true,
   "home_team": "Arsenal", "away_team": "Chelsea",
   "scores": [{"name": "Arsenal", "score": "2"}, {"name": "Chelsea", "score": "1"}]},
  {"id": "ev2", "sport_key": "soccer_epl", "commence_time": "2026-10-21T19:00:00Z", "completed": false,
   "home_team": "Spurs", "away_team": "Everton", "scores": null}
]`

func newOddsClient(t *testing.T, handler http.HandlerFunc) (*OddsAPIClient, *guard.CircuitBreaker) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	breaker := guard.NewCircuitBreaker(2, time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOddsAPIClient(srv.URL, "key-1", breaker, logger), breaker
}

func TestFetchOdds(t *testing.T) {
	client, _ := newOddsClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/sports/soccer_epl/odds", r.URL.Path)
		assert.Equal(t, "key-1", r.URL.Query().Get("apiKey"))
		assert.Equal(t, "h2h", r.URL.Query().Get("markets"))
		assert.Equal(t, "decimal", r.URL.Query().Get("oddsFormat"))
		_, _ = w.Write([]byte(oddsFixture))
	})

	events, err := client.FetchOdds(context.Background(), "soccer_epl")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "ev1", ev.ID)
	assert.Equal(t, time.Date(2026, 10, 20, 19, 0, 0, 0, time.UTC), ev.CommenceTime.UTC())

	odds := ev.H2HOdds()
	require.Len(t, odds, 3)
	assert.True(t, odds["Arsenal"].Equal(decimal.RequireFromString("1.85")))
	assert.True(t, odds["Chelsea"].Equal(decimal.RequireFromString("4.2")))
}

func TestFetchScoresAndWinner(t *testing.T) {
	client, _ := newOddsClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/sports/soccer_epl/scores", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("daysFrom"))
		_, _ = w.Write([]byte(scoresFixture))
	})

	scores, err := client.FetchScores(context.Background(), "soccer_epl", 1)
	require.NoError(t, err)
	require.Len(t, scores, 2)

	winner, draw, err := scores[0].Winner()
	require.NoError(t, err)
	assert.False(t, draw)
	assert.Equal(t, "Arsenal", winner)

	_, _, err = scores[1].Winner()
	assert.Error(t, err, "incomplete events have no winner")
}

func TestScoreWinnerDraw(t *testing.T) {
	s := ScoreEvent{ID: "x", Completed: true, Scores: []TeamScore{{Name: "A", Score: "1"}, {Name: "B", Score: "1"}}}
	winner, draw, err := s.Winner()
	require.NoError(t, err)
	assert.True(t, draw)
	assert.Empty(t, winner)
}

func TestFetchOdds_QuotaAndCircuit(t *testing.T) {
	calls := 0
	client, breaker := newOddsClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.FetchOdds(context.Background(), "soccer_epl")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	_, err = client.FetchOdds(context.Background(), "soccer_epl")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = client.FetchOdds(context.Background(), "soccer_epl")
	assert.ErrorIs(t, err, guard.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, guard.CircuitOpen, breaker.State("oddsapi"))
}

func TestH2HOddsMissingMarket(t *testing.T) {
	ev := OddsEvent{Bookmakers: []OddsBookmaker{{Markets: []OddsMarket{{Key: "totals"}}}}}
	assert.Nil(t, ev.H2HOdds())
}
