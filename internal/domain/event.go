package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic names a category of domain events that subscribers register for.
type Topic string

const (
	TopicConventionStatusChanged Topic = "ConventionStatusChanged"
	TopicFederatedIdentityBound  Topic = "FederatedIdentityBoundToConvention"
)

// PublishStatus tracks an outbox entry through dispatch.
type PublishStatus string

const (
	PublishPending     PublishStatus = "PENDING"
	PublishPublished   PublishStatus = "PUBLISHED"
	PublishQuarantined PublishStatus = "QUARANTINED"
)

// ErrorFeedback captures a subscriber's structured failure report,
// typically the partner's HTTP status and response body. Recorded for
// operator diagnosis independently of the retry outcome.
type ErrorFeedback struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// DomainEvent is a transactional outbox entry. It is appended in the
// same transaction as the aggregate mutation it describes, mutated only
// by the dispatcher, and never deleted.
type DomainEvent struct {
	ID           string
	Topic        Topic
	ConventionID string
	Payload      json.RawMessage
	OccurredAt   time.Time
	// Seq is assigned by the store at append time and orders events
	// within a convention. Zero until persisted.
	Seq           int64
	PublishStatus PublishStatus
	AttemptCount  int
	LastError     string
	Feedback      *ErrorFeedback
}

// ConventionSnapshot is the event payload: enough state for subscribers
// to act without re-querying the aggregate.
type ConventionSnapshot struct {
	ConventionID      string    `json:"conventionId"`
	Status            Status    `json:"status"`
	PreviousStatus    Status    `json:"previousStatus,omitempty"`
	AgencyID          string    `json:"agencyId"`
	Siret             string    `json:"siret"`
	DateStart         time.Time `json:"dateStart"`
	DateEnd           time.Time `json:"dateEnd"`
	BeneficiaryEmail  string    `json:"beneficiaryEmail,omitempty"`
	Justification     string    `json:"justification,omitempty"`
	Validators        []string  `json:"validators,omitempty"`
	FederatedIdentity string    `json:"federatedIdentity,omitempty"`
}

// Snapshot builds the event payload view of a convention.
func Snapshot(c Convention, previous Status) ConventionSnapshot {
	return ConventionSnapshot{
		ConventionID:      c.ID,
		Status:            c.Status,
		PreviousStatus:    previous,
		AgencyID:          c.AgencyID,
		Siret:             c.Siret,
		DateStart:         c.DateStart,
		DateEnd:           c.DateEnd,
		BeneficiaryEmail:  c.Beneficiary.Email,
		Justification:     c.StatusJustification,
		Validators:        c.Validators,
		FederatedIdentity: c.FederatedIdentity,
	}
}

// NewStatusChangedEvent builds the single outbox entry for an accepted
// status-changing operation.
func NewStatusChangedEvent(id string, c Convention, previous Status, at time.Time) (DomainEvent, error) {
	return newEvent(id, TopicConventionStatusChanged, c, previous, at)
}

// NewFederatedIdentityBoundEvent builds the outbox entry emitted when a
// convention is created with a federated identity token attached.
func NewFederatedIdentityBoundEvent(id string, c Convention, at time.Time) (DomainEvent, error) {
	return newEvent(id, TopicFederatedIdentityBound, c, "", at)
}

func newEvent(id string, topic Topic, c Convention, previous Status, at time.Time) (DomainEvent, error) {
	payload, err := json.Marshal(Snapshot(c, previous))
	if err != nil {
		return DomainEvent{}, fmt.Errorf("marshalling event payload: %w", err)
	}
	return DomainEvent{
		ID:            id,
		Topic:         topic,
		ConventionID:  c.ID,
		Payload:       payload,
		OccurredAt:    at,
		PublishStatus: PublishPending,
	}, nil
}

// DecodeSnapshot parses an event payload back into a snapshot.
func DecodeSnapshot(e DomainEvent) (ConventionSnapshot, error) {
	var s ConventionSnapshot
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return ConventionSnapshot{}, fmt.Errorf("decoding event %s payload: %w", e.ID, err)
	}
	return s, nil
}
