package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

const tracerName = "github.com/gip-inclusion/immersion-facile-sub021/internal/adapter/otel"

// TracingRepository wraps a domain.ConventionRepository with OpenTelemetry
// tracing. Each method creates a span with semantic attributes and records
// errors.
type TracingRepository struct {
	next   domain.ConventionRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.ConventionRepository.
var _ domain.ConventionRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.ConventionRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) CreateWithEvent(ctx context.Context, c domain.Convention, event *domain.DomainEvent) error {
	ctx, span := r.tracer.Start(ctx, "ConventionRepository.CreateWithEvent",
		trace.WithAttributes(
			attribute.String("convention.id", c.ID),
			attribute.String("convention.agency_id", c.AgencyID),
			attribute.Bool("convention.has_event", event != nil),
		),
	)
	defer span.End()

	err := r.next.CreateWithEvent(ctx, c, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) GetByID(ctx context.Context, id string) (domain.Convention, error) {
	ctx, span := r.tracer.Start(ctx, "ConventionRepository.GetByID",
		trace.WithAttributes(attribute.String("convention.id", id)),
	)
	defer span.End()

	c, err := r.next.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return c, err
}

func (r *TracingRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Convention, error) {
	ctx, span := r.tracer.Start(ctx, "ConventionRepository.List",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	defer span.End()

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}
	if filter.AgencyID != "" {
		span.SetAttributes(attribute.String("filter.agency_id", filter.AgencyID))
	}

	conventions, err := r.next.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(conventions)))
	}
	return conventions, err
}

func (r *TracingRepository) FindCandidates(ctx context.Context, siret, appellationCode string) ([]domain.Convention, error) {
	ctx, span := r.tracer.Start(ctx, "ConventionRepository.FindCandidates",
		trace.WithAttributes(
			attribute.String("convention.siret", siret),
			attribute.String("convention.appellation_code", appellationCode),
		),
	)
	defer span.End()

	conventions, err := r.next.FindCandidates(ctx, siret, appellationCode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(conventions)))
	}
	return conventions, err
}

func (r *TracingRepository) CommitWithEvent(ctx context.Context, c domain.Convention, expected domain.Status, event *domain.DomainEvent) error {
	ctx, span := r.tracer.Start(ctx, "ConventionRepository.CommitWithEvent",
		trace.WithAttributes(
			attribute.String("convention.id", c.ID),
			attribute.String("convention.status", string(c.Status)),
			attribute.String("convention.expected_status", string(expected)),
			attribute.Bool("convention.has_event", event != nil),
		),
	)
	defer span.End()

	err := r.next.CommitWithEvent(ctx, c, expected, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
