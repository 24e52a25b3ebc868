package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// Metrics implements domain.DispatchMetrics with OpenTelemetry counters.
type Metrics struct {
	published   metric.Int64Counter
	retried     metric.Int64Counter
	quarantined metric.Int64Counter
	denied      metric.Int64Counter
}

// Compile-time check: Metrics implements domain.DispatchMetrics.
var _ domain.DispatchMetrics = (*Metrics)(nil)

// NewMetrics registers the dispatch counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(tracerName)

	published, err := meter.Int64Counter("outbox.events.published",
		metric.WithDescription("Events delivered to all subscribers"))
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}
	retried, err := meter.Int64Counter("outbox.events.retried",
		metric.WithDescription("Transient delivery failures scheduled for retry"))
	if err != nil {
		return nil, fmt.Errorf("creating retried counter: %w", err)
	}
	quarantined, err := meter.Int64Counter("outbox.events.quarantined",
		metric.WithDescription("Events parked for operator remediation"))
	if err != nil {
		return nil, fmt.Errorf("creating quarantined counter: %w", err)
	}
	denied, err := meter.Int64Counter("conventions.transitions.denied",
		metric.WithDescription("Status transitions refused by policy"))
	if err != nil {
		return nil, fmt.Errorf("creating denied counter: %w", err)
	}

	return &Metrics{
		published:   published,
		retried:     retried,
		quarantined: quarantined,
		denied:      denied,
	}, nil
}

func (m *Metrics) EventPublished(ctx context.Context, topic domain.Topic) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", string(topic))))
}

func (m *Metrics) EventRetried(ctx context.Context, topic domain.Topic) {
	m.retried.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", string(topic))))
}

func (m *Metrics) EventQuarantined(ctx context.Context, topic domain.Topic) {
	m.quarantined.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", string(topic))))
}

func (m *Metrics) TransitionDenied(ctx context.Context, reason domain.DenialReason) {
	m.denied.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}
