package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// TracingSubscriber wraps a domain.Subscriber with OpenTelemetry tracing.
// The span records the delivery outcome, so a quarantined event can be
// traced back through the subscriber that refused it.
type TracingSubscriber struct {
	next   domain.Subscriber
	tracer trace.Tracer
}

// Compile-time check: TracingSubscriber implements domain.Subscriber.
var _ domain.Subscriber = (*TracingSubscriber)(nil)

// NewTracingSubscriber creates a tracing decorator around the given subscriber.
func NewTracingSubscriber(next domain.Subscriber) *TracingSubscriber {
	return &TracingSubscriber{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (s *TracingSubscriber) Name() string { return s.next.Name() }

func (s *TracingSubscriber) Topics() []domain.Topic { return s.next.Topics() }

func (s *TracingSubscriber) Handle(ctx context.Context, event domain.DomainEvent) domain.Outcome {
	ctx, span := s.tracer.Start(ctx, "Subscriber.Handle",
		trace.WithAttributes(
			attribute.String("subscriber.name", s.next.Name()),
			attribute.String("event.id", event.ID),
			attribute.String("event.topic", string(event.Topic)),
			attribute.String("convention.id", event.ConventionID),
		),
	)
	defer span.End()

	outcome := s.next.Handle(ctx, event)
	span.SetAttributes(attribute.String("delivery.outcome", outcome.Kind.String()))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		if outcome.Kind != domain.OutcomeDelivered {
			span.SetStatus(codes.Error, outcome.Err.Error())
		}
	}
	return outcome
}
