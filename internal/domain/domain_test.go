package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validator Tests ---

func TestValidateCurrency(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		wantErr  bool
	}{
		{"valid EUR", "EUR", false},
		{"valid USD", "USD", false},
		{"lowercase", "usd", true},
		{"too long", "USDT", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCurrency(tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePositiveAmount(t *testing.T) {
	assert.NoError(t, ValidatePositiveAmount(decimal.RequireFromString("0.01")))
	assert.Error(t, ValidatePositiveAmount(decimal.Zero))
	assert.Error(t, ValidatePositiveAmount(decimal.NewFromInt(-5)))
}

func TestValidateOdds(t *testing.T) {
	assert.NoError(t, ValidateOdds(decimal.RequireFromString("1.01")))
	assert.Error(t, ValidateOdds(decimal.NewFromInt(1)))
	assert.Error(t, ValidateOdds(decimal.RequireFromString("0.5")))
}

type stakeRequest struct {
	EventID int64           `json:"eventId" validate:"required,gt=0"`
	Stake   decimal.Decimal `json:"stake" validate:"required,gt=0"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := ValidateStruct(stakeRequest{EventID: 1, Stake: decimal.NewFromInt(10)})
		assert.NoError(t, err)
	})

	t.Run("missing event uses json name", func(t *testing.T) {
		err := ValidateStruct(stakeRequest{Stake: decimal.NewFromInt(10)})
		require.Error(t, err)
		assert.True(t, IsCode(err, "VALIDATION_ERROR"))
		assert.Contains(t, err.Error(), "eventId")
	})

	t.Run("negative decimal stake", func(t *testing.T) {
		err := ValidateStruct(stakeRequest{EventID: 1, Stake: decimal.NewFromInt(-3)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stake")
	})
}

// --- Bet Tests ---

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to BetStatus
		want     bool
	}{
		{BetStatusPending, BetStatusWon, true},
		{BetStatusPending, BetStatusLost, true},
		{BetStatusPending, BetStatusCancelled, true},
		{BetStatusPending, BetStatusPending, false},
		{BetStatusWon, BetStatusLost, false},
		{BetStatusLost, BetStatusWon, false},
		{BetStatusCancelled, BetStatusPending, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCalculatePayout(t *testing.T) {
	tests := []struct {
		stake, odds, want string
	}{
		{"100", "2.0", "200"},
		{"10", "1.95", "19.5"},
		{"3.33", "1.5", "5"},
		{"0.01", "1.01", "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.stake+"x"+tt.odds, func(t *testing.T) {
			got := CalculatePayout(decimal.RequireFromString(tt.stake), decimal.RequireFromString(tt.odds))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

// --- Event Tests ---

func TestIsCancelOutcome(t *testing.T) {
	for _, s := range []string{"CANCELLED", "cancelled", "Cancel", "VOID", " void "} {
		assert.True(t, IsCancelOutcome(s), s)
	}
	for _, s := range []string{"", "A", "Team A", "draw"} {
		assert.False(t, IsCancelOutcome(s), s)
	}
}

func TestEventTeamLookup(t *testing.T) {
	ev := Event{ID: 42, Teams: []EventTeam{
		{ID: 1, EventID: 42, Name: "Team A"},
		{ID: 2, EventID: 42, Name: "Team B"},
	}}

	team, ok := ev.Team(2)
	require.True(t, ok)
	assert.Equal(t, "Team B", team.Name)

	_, ok = ev.Team(3)
	assert.False(t, ok)

	team, ok = ev.TeamByName("team a")
	require.True(t, ok)
	assert.Equal(t, int64(1), team.ID)

	assert.False(t, ev.Settled())
	ev.Outcome = OutcomeCancelled
	assert.True(t, ev.Settled())
}

// --- Error Tests ---

func TestAppError(t *testing.T) {
	cause := errors.New("boom")
	err := ErrInternal("settle failed", cause)
	assert.Equal(t, "INTERNAL_ERROR: settle failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("outer: %w", ErrNotFound("event", "42"))
	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 404, appErr.Status)
	assert.Equal(t, "event 42 not found", appErr.Message)
	assert.True(t, IsCode(wrapped, "NOT_FOUND"))
	assert.False(t, IsCode(errors.New("plain"), "NOT_FOUND"))
}

func TestErrorStatuses(t *testing.T) {
	assert.Equal(t, 409, ErrConflict("x").Status)
	assert.Equal(t, 400, ErrValidation("x").Status)
	assert.Equal(t, 401, ErrUnauthorized("x").Status)
	assert.Equal(t, 403, ErrForbidden("x").Status)
	assert.Equal(t, 400, ErrAntiforgery("x").Status)
	assert.Equal(t, 400, ErrInsufficientBalance().Status)
	assert.Equal(t, 429, ErrRateLimited("x").Status)
	assert.Equal(t, 502, ErrProvider("x", nil).Status)
}

// --- Outbox Tests ---

func TestNewTransactionPostedEvent(t *testing.T) {
	tx := &PaymentTransaction{ID: 9, AccountID: 7, Type: TxPayout, Amount: decimal.NewFromInt(200), Status: TxStatusCompleted}
	draft := NewTransactionPostedEvent(tx)

	assert.Equal(t, AggregateAccount, draft.AggregateType)
	assert.Equal(t, "7", draft.AggregateID)
	assert.Equal(t, "7", draft.PartitionKey)
	assert.Equal(t, EventTransactionPosted, draft.EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(draft.Payload, &payload))
	assert.Equal(t, "PAYOUT", payload["type"])
	assert.Equal(t, "200", payload["amount"])
}

func TestNewBetSettledEvent(t *testing.T) {
	draft := NewBetSettledEvent(3, 42, BetStatusWon, "200")
	assert.Equal(t, "3", draft.AggregateID)
	assert.Equal(t, "42", draft.PartitionKey)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(draft.Payload, &payload))
	assert.Equal(t, "Won", payload["status"])
}

func TestTransactionTypeIsCredit(t *testing.T) {
	assert.True(t, TxDeposit.IsCredit())
	assert.True(t, TxPayout.IsCredit())
	assert.True(t, TxRefund.IsCredit())
	assert.False(t, TxBet.IsCredit())
	assert.False(t, TxWithdrawal.IsCredit())
}
