package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeCancelled marks an event whose bets were voided and refunded.
const OutcomeCancelled = "CANCELLED"

// IsCancelOutcome reports whether an admin-supplied outcome voids the event.
func IsCancelOutcome(outcome string) bool {
	switch strings.ToUpper(strings.TrimSpace(outcome)) {
	case OutcomeCancelled, "CANCEL", "VOID":
		return true
	}
	return false
}

// Event represents an events row. Outcome stays empty until settlement.
// SettlingOutcome and WinningTeamID are claimed by the first settlement run
// and never change afterwards.
type Event struct {
	ID              int64       `json:"id"`
	ExternalID      *string     `json:"external_id,omitempty"`
	SportKey        string      `json:"sport_key"`
	Name            string      `json:"name"`
	StartsAt        time.Time   `json:"starts_at"`
	Outcome         string      `json:"outcome"`
	SettlingOutcome string      `json:"settling_outcome,omitempty"`
	WinningTeamID   *int64      `json:"winning_team_id,omitempty"`
	Teams           []EventTeam `json:"teams"`
	SettledAt       *time.Time  `json:"settled_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Settled reports whether the event outcome has been recorded.
func (e *Event) Settled() bool { return e.Outcome != "" }

// Claimed reports whether a settlement run has fixed the event's resolution.
func (e *Event) Claimed() bool { return e.SettlingOutcome != "" }

// SameResolution reports whether the claimed resolution voids the event or
// pays the same team as the given one. Outcome labels are not compared.
func (e *Event) SameResolution(cancel bool, winningTeamID *int64) bool {
	if IsCancelOutcome(e.SettlingOutcome) != cancel {
		return false
	}
	if cancel {
		return true
	}
	return e.WinningTeamID != nil && winningTeamID != nil && *e.WinningTeamID == *winningTeamID
}

// Team returns the participating team with the given ID.
func (e *Event) Team(teamID int64) (*EventTeam, bool) {
	for i := range e.Teams {
		if e.Teams[i].ID == teamID {
			return &e.Teams[i], true
		}
	}
	return nil, false
}

// TeamByName does a case-insensitive lookup by team name.
func (e *Event) TeamByName(name string) (*EventTeam, bool) {
	for i := range e.Teams {
		if strings.EqualFold(e.Teams[i].Name, name) {
			return &e.Teams[i], true
		}
	}
	return nil, false
}

// EventTeam is one participant of an event with its current decimal odds.
type EventTeam struct {
	ID      int64           `json:"id"`
	EventID int64           `json:"event_id"`
	Name    string          `json:"name"`
	Odds    decimal.Decimal `json:"odds"`
}
