package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventTransactionPosted EventType = "payment.transaction.posted"
	EventBetPlaced         EventType = "sportsbook.bet.placed"
	EventBetSettled        EventType = "sportsbook.bet.settled"
	EventEventSettled      EventType = "sportsbook.event.settled"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateAccount AggregateType = "account"
	AggregateBet     AggregateType = "bet"
	AggregateEvent   AggregateType = "event"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	SeqID         int64           `json:"-"`
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

func newDraft(aggType AggregateType, aggID, partition string, evtType EventType, payload any) OutboxDraft {
	raw, _ := json.Marshal(payload)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: aggType,
		AggregateID:   aggID,
		EventType:     evtType,
		PartitionKey:  partition,
		Headers:       json.RawMessage(`{}`),
		Payload:       raw,
		OccurredAt:    time.Now(),
	}
}

// NewTransactionPostedEvent creates the standard wallet event for a ledger entry.
func NewTransactionPostedEvent(tx *PaymentTransaction) OutboxDraft {
	id := strconv.FormatInt(tx.AccountID, 10)
	return newDraft(AggregateAccount, id, id, EventTransactionPosted, tx)
}

// NewBetPlacedEvent is emitted in the same transaction as the bet insert.
func NewBetPlacedEvent(bet *Bet) OutboxDraft {
	return newDraft(AggregateBet, strconv.FormatInt(bet.ID, 10),
		strconv.FormatInt(bet.EventID, 10), EventBetPlaced, bet)
}

// NewBetSettledEvent records a bet's terminal transition.
func NewBetSettledEvent(betID, eventID int64, status BetStatus, payout string) OutboxDraft {
	return newDraft(AggregateBet, strconv.FormatInt(betID, 10),
		strconv.FormatInt(eventID, 10), EventBetSettled, map[string]any{
			"bet_id":   betID,
			"event_id": eventID,
			"status":   status,
			"payout":   payout,
		})
}

// NewEventSettledEvent records that an event's outcome was fixed.
func NewEventSettledEvent(eventID int64, outcome string) OutboxDraft {
	id := strconv.FormatInt(eventID, 10)
	return newDraft(AggregateEvent, id, id, EventEventSettled, map[string]any{
		"event_id": eventID,
		"outcome":  outcome,
	})
}
