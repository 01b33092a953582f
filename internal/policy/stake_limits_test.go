package policy

import (
	"testing"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStakeLimits_Evaluate(t *testing.T) {
	limits := DefaultStakeLimits()

	tests := []struct {
		name     string
		stake    string
		allowed  bool
		breached string
	}{
		{"within limits", "50", true, ""},
		{"at minimum", "1", true, ""},
		{"at maximum", "1000", true, ""},
		{"below minimum", "0.99", false, LimitMinStake},
		{"above maximum", "1000.01", false, LimitMaxStake},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := limits.Evaluate(decimal.RequireFromString(tt.stake))
			assert.Equal(t, tt.allowed, got.Allowed)
			assert.Equal(t, tt.breached, got.BreachedLimit)
		})
	}
}

func TestStakeLimits_ZeroBoundsNotEnforced(t *testing.T) {
	got := StakeLimits{}.Evaluate(decimal.RequireFromString("1000000"))
	assert.True(t, got.Allowed)
	assert.NoError(t, got.Err())
}

func TestEvaluation_Err(t *testing.T) {
	err := DefaultStakeLimits().Evaluate(decimal.NewFromInt(5000)).Err()
	assert.True(t, domain.IsCode(err, "VALIDATION_ERROR"))
	assert.Contains(t, err.Error(), "exceeds the maximum of 1000")

	err = DefaultStakeLimits().Evaluate(decimal.RequireFromString("0.5")).Err()
	assert.True(t, domain.IsCode(err, "VALIDATION_ERROR"))
	assert.Contains(t, err.Error(), "below the minimum of 1")
}
