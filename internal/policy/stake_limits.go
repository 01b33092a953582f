// Package policy holds the responsible gaming limits checked before chips
// are staked.
package policy

import (
	"fmt"

	"github.com/chipline/sportsbook/internal/domain"
	"github.com/shopspring/decimal"
)

// Breached limit names.
const (
	LimitMinStake = "min_stake"
	LimitMaxStake = "max_stake"
)

// StakeLimits bounds a single bet. A zero bound is not enforced.
type StakeLimits struct {
	MinStake decimal.Decimal `json:"minStake"`
	MaxStake decimal.Decimal `json:"maxStake"`
}

// DefaultStakeLimits returns 1 to 1,000 chips per bet.
func DefaultStakeLimits() StakeLimits {
	return StakeLimits{
		MinStake: decimal.NewFromInt(1),
		MaxStake: decimal.NewFromInt(1000),
	}
}

// Evaluation is the result of a limits check.
type Evaluation struct {
	Allowed       bool            `json:"allowed"`
	BreachedLimit string          `json:"breachedLimit,omitempty"`
	LimitValue    decimal.Decimal `json:"limitValue"`
	Requested     decimal.Decimal `json:"requested"`
}

// Evaluate checks stake against the limits. The result depends only on the
// stake, so a replayed bet gets the same answer as the original.
func (l StakeLimits) Evaluate(stake decimal.Decimal) Evaluation {
	if l.MinStake.IsPositive() && stake.LessThan(l.MinStake) {
		return Evaluation{BreachedLimit: LimitMinStake, LimitValue: l.MinStake, Requested: stake}
	}
	if l.MaxStake.IsPositive() && stake.GreaterThan(l.MaxStake) {
		return Evaluation{BreachedLimit: LimitMaxStake, LimitValue: l.MaxStake, Requested: stake}
	}
	return Evaluation{Allowed: true}
}

// Err converts a breach into a validation error. It returns nil when allowed.
func (e Evaluation) Err() error {
	if e.Allowed {
		return nil
	}
	switch e.BreachedLimit {
	case LimitMinStake:
		return domain.ErrValidation(fmt.Sprintf("stake %s is below the minimum of %s", e.Requested, e.LimitValue))
	default:
		return domain.ErrValidation(fmt.Sprintf("stake %s exceeds the maximum of %s", e.Requested, e.LimitValue))
	}
}
