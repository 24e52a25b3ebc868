package river

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// ProcessOutcome tells the worker what to do with the job after one
// processing pass over an event.
type ProcessOutcome int

const (
	// ProcessPublished means every subscriber handled the event.
	ProcessPublished ProcessOutcome = iota
	// ProcessSkipped means the event needed no work (already published,
	// already quarantined, or gone).
	ProcessSkipped
	// ProcessDeferred means an older event for the same convention is
	// still pending; the job should snooze and retry without consuming
	// an attempt.
	ProcessDeferred
	// ProcessRetry means a transient failure; the job should be retried
	// with backoff.
	ProcessRetry
	// ProcessQuarantined means the event was parked for operators; the
	// job must not be retried.
	ProcessQuarantined
)

// DefaultMaxAttempts is the delivery attempt ceiling before a transient
// failure becomes a quarantine.
const DefaultMaxAttempts = 3

// Dispatcher delivers one outbox event to its subscribers and records
// the result. It holds no queue state; scheduling (backoff, snooze,
// cancellation) is the worker's job.
type Dispatcher struct {
	outbox      domain.OutboxStore
	registry    *Registry
	metrics     domain.DispatchMetrics
	logger      *slog.Logger
	maxAttempts int
}

// NewDispatcher builds a dispatcher. maxAttempts values below one fall
// back to DefaultMaxAttempts.
func NewDispatcher(outbox domain.OutboxStore, registry *Registry, metrics domain.DispatchMetrics, logger *slog.Logger, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		outbox:      outbox,
		registry:    registry,
		metrics:     metrics,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Process runs one delivery attempt for the event. attempt is 1-based
// and counts delivery attempts, not ordering deferrals.
//
// Delivery is at-least-once: when one of several subscribers fails, the
// ones that already succeeded will see the event again on retry. They
// are required to be idempotent keyed by event ID.
func (d *Dispatcher) Process(ctx context.Context, eventID string, attempt int) (ProcessOutcome, error) {
	event, err := d.outbox.GetEvent(ctx, eventID)
	if errors.Is(err, domain.ErrEventNotFound) {
		d.logger.WarnContext(ctx, "dispatch job for unknown event", "event_id", eventID)
		return ProcessSkipped, nil
	}
	if err != nil {
		return ProcessRetry, fmt.Errorf("loading event %s: %w", eventID, err)
	}

	if event.PublishStatus != domain.PublishPending {
		return ProcessSkipped, nil
	}

	older, err := d.outbox.HasOlderPending(ctx, event.ConventionID, event.Seq)
	if err != nil {
		return ProcessRetry, fmt.Errorf("checking delivery order for event %s: %w", eventID, err)
	}
	if older {
		return ProcessDeferred, nil
	}

	for _, sub := range d.registry.ForTopic(event.Topic) {
		outcome := sub.Handle(ctx, event)
		switch outcome.Kind {
		case domain.OutcomeDelivered:
			continue

		case domain.OutcomePermanent:
			return d.quarantine(ctx, event, sub.Name(), attempt, outcome)

		case domain.OutcomeRetryable:
			if attempt >= d.maxAttempts {
				return d.quarantine(ctx, event, sub.Name(), attempt, outcome)
			}
			if err := d.outbox.RecordFailure(ctx, event.ID, attempt, outcomeError(outcome), outcome.Feedback); err != nil {
				return ProcessRetry, fmt.Errorf("recording failure for event %s: %w", eventID, err)
			}
			d.metrics.EventRetried(ctx, event.Topic)
			d.logger.WarnContext(ctx, "event delivery failed, will retry",
				"event_id", event.ID,
				"topic", string(event.Topic),
				"subscriber", sub.Name(),
				"attempt", attempt,
				"error", outcomeError(outcome),
			)
			return ProcessRetry, outcome.Err
		}
	}

	if err := d.outbox.MarkPublished(ctx, event.ID); err != nil {
		return ProcessRetry, fmt.Errorf("marking event %s published: %w", eventID, err)
	}
	d.metrics.EventPublished(ctx, event.Topic)
	d.logger.InfoContext(ctx, "event published",
		"event_id", event.ID,
		"topic", string(event.Topic),
		"convention_id", event.ConventionID,
	)
	return ProcessPublished, nil
}

func (d *Dispatcher) quarantine(ctx context.Context, event domain.DomainEvent, subscriber string, attempt int, outcome domain.Outcome) (ProcessOutcome, error) {
	if err := d.outbox.Quarantine(ctx, event.ID, attempt, outcomeError(outcome), outcome.Feedback); err != nil {
		return ProcessRetry, fmt.Errorf("quarantining event %s: %w", event.ID, err)
	}
	d.metrics.EventQuarantined(ctx, event.Topic)
	d.logger.ErrorContext(ctx, "event quarantined",
		"event_id", event.ID,
		"topic", string(event.Topic),
		"convention_id", event.ConventionID,
		"subscriber", subscriber,
		"attempt", attempt,
		"outcome", outcome.Kind.String(),
		"error", outcomeError(outcome),
	)
	return ProcessQuarantined, nil
}

func outcomeError(o domain.Outcome) string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
