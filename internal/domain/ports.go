package domain

import "context"

// ConventionRepository defines the persistence contract for conventions.
//
// CommitWithEvent is the only way to persist a status mutation: the
// conditional aggregate update and the outbox append happen in one
// transaction, so an event cannot exist without its mutation nor the
// mutation without its event.
type ConventionRepository interface {
	// CreateWithEvent inserts a new convention, appending the optional
	// event (federated-identity binding) in the same transaction.
	CreateWithEvent(ctx context.Context, c Convention, event *DomainEvent) error

	GetByID(ctx context.Context, id string) (Convention, error)
	List(ctx context.Context, filter ListFilter) ([]Convention, error)

	// FindCandidates returns conventions sharing siret and appellation
	// code, the coarse pre-filter for duplicate detection.
	FindCandidates(ctx context.Context, siret, appellationCode string) ([]Convention, error)

	// CommitWithEvent persists the convention only if it is still in the
	// expected status, appending the event atomically. A nil event is
	// allowed only for mutations that do not change status (an
	// intermediate signature). Returns ConcurrentModificationError when
	// the guard fails; nothing is committed in that case.
	CommitWithEvent(ctx context.Context, c Convention, expected Status, event *DomainEvent) error
}

// ListFilter holds optional criteria for listing conventions.
type ListFilter struct {
	Status   *Status
	AgencyID string
	Limit    int
	Offset   int
}

// OutboxStore is the dispatcher's view of the outbox. Rows are appended
// by the repository and mutated (status, attempts) only here; they are
// never deleted.
type OutboxStore interface {
	GetEvent(ctx context.Context, id string) (DomainEvent, error)

	// HasOlderPending reports whether a non-terminal event with a lower
	// sequence exists for the same convention. Used to preserve
	// per-convention delivery order.
	HasOlderPending(ctx context.Context, conventionID string, seq int64) (bool, error)

	MarkPublished(ctx context.Context, id string) error

	// RecordFailure stores the attempt count and error detail of a
	// transient failure; the event stays PENDING.
	RecordFailure(ctx context.Context, id string, attempts int, lastError string, fb *ErrorFeedback) error

	// Quarantine terminally parks the event for operator remediation.
	Quarantine(ctx context.Context, id string, attempts int, lastError string, fb *ErrorFeedback) error

	// Drain returns PENDING events ordered by occurrence, oldest first.
	Drain(ctx context.Context, batchSize int) ([]DomainEvent, error)

	ListQuarantined(ctx context.Context, limit int) ([]DomainEvent, error)
}

// Subscriber consumes events of the topics it declares. Delivery is
// at-least-once: implementations must be idempotent keyed by event ID.
type Subscriber interface {
	Name() string
	Topics() []Topic
	Handle(ctx context.Context, event DomainEvent) Outcome
}

// TransitionPolicy decides whether an actor may move a convention to the
// requested status. Pure: no side effects, independently testable
// against the full transition table.
type TransitionPolicy interface {
	Decide(ctx context.Context, c Convention, requested Status, actor Actor, justification string) (Status, error)
}

// DispatchMetrics is the injected metrics sink; core code never touches
// a process-wide counter directly.
type DispatchMetrics interface {
	EventPublished(ctx context.Context, topic Topic)
	EventRetried(ctx context.Context, topic Topic)
	EventQuarantined(ctx context.Context, topic Topic)
	TransitionDenied(ctx context.Context, reason DenialReason)
}
