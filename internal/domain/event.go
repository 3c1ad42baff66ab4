package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventUserRegistered      EventType = "auth.user.registered"
	EventRiskAssessed        EventType = "auth.risk.assessed"
	EventRiskEvaluatorFailed EventType = "auth.risk.evaluator.failed"
	EventLoginAllowed        EventType = "auth.login.allowed"
	EventLoginChallenged     EventType = "auth.login.challenged"
	EventLoginDenied         EventType = "auth.login.denied"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateUser    AggregateType = "user"
	AggregateAttempt AggregateType = "attempt"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// OutboxRow is an unpublished outbox event together with its sequence ID.
type OutboxRow struct {
	SeqID int64
	OutboxDraft
}

// NewOutboxDraft marshals payload into a draft for the given aggregate.
func NewOutboxDraft(aggType AggregateType, aggID string, evt EventType, partitionKey string, payload interface{}) (OutboxDraft, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxDraft{}, err
	}
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: aggType,
		AggregateID:   aggID,
		EventType:     evt,
		PartitionKey:  partitionKey,
		Headers:       json.RawMessage(`{}`),
		Payload:       body,
		OccurredAt:    time.Now().UTC(),
	}, nil
}
