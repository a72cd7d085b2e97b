package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantops/internal/domain"
)

const tracerName = "github.com/neomorfeo/tenantops/internal/adapter/otel"

// end records err on span, if any, and ends it.
func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TracingRepository wraps a domain.TenantRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingRepository struct {
	next   domain.TenantRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.TenantRepository.
var _ domain.TenantRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.TenantRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Create(ctx context.Context, tenant domain.Tenant) (err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.Create",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant.ID),
			attribute.String("tenant.name", tenant.Name),
			attribute.Int("tenant.port", tenant.Port),
		),
	)
	defer func() { end(span, err) }()

	return r.next.Create(ctx, tenant)
}

func (r *TracingRepository) GetByID(ctx context.Context, id string) (_ domain.Tenant, err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.GetByID",
		trace.WithAttributes(attribute.String("tenant.id", id)),
	)
	defer func() { end(span, err) }()

	return r.next.GetByID(ctx, id)
}

func (r *TracingRepository) GetByName(ctx context.Context, name string) (_ domain.Tenant, err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.GetByName",
		trace.WithAttributes(attribute.String("tenant.name", name)),
	)
	defer func() { end(span, err) }()

	return r.next.GetByName(ctx, name)
}

func (r *TracingRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.List",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	tenants, err := r.next.List(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(tenants)))
	}
	end(span, err)
	return tenants, err
}

func (r *TracingRepository) CompareAndSwap(ctx context.Context, tenant domain.Tenant, expected domain.Status) (err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.CompareAndSwap",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant.ID),
			attribute.String("tenant.state.expected", string(expected)),
			attribute.String("tenant.state", string(tenant.Status)),
		),
	)
	defer func() { end(span, err) }()

	return r.next.CompareAndSwap(ctx, tenant, expected)
}

func (r *TracingRepository) RequestAbort(ctx context.Context, id string) (err error) {
	ctx, span := r.tracer.Start(ctx, "TenantRepository.RequestAbort",
		trace.WithAttributes(attribute.String("tenant.id", id)),
	)
	defer func() { end(span, err) }()

	return r.next.RequestAbort(ctx, id)
}
