package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// TracingNotifier wraps a domain.Notifier with OpenTelemetry tracing.
type TracingNotifier struct {
	next   domain.Notifier
	tracer trace.Tracer
}

// Compile-time check: TracingNotifier implements domain.Notifier.
var _ domain.Notifier = (*TracingNotifier)(nil)

func NewTracingNotifier(next domain.Notifier) *TracingNotifier {
	return &TracingNotifier{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (n *TracingNotifier) Notify(ctx context.Context, notice domain.Notice) (err error) {
	ctx, span := n.tracer.Start(ctx, "Notifier.Notify",
		trace.WithAttributes(
			attribute.String("tenant.id", notice.Tenant.ID),
			attribute.String("tenant.name", notice.Tenant.Name),
			attribute.Bool("quarantine.entered", notice.Entered),
			attribute.String("quarantine.step", notice.Step),
			attribute.Int("attempts.count", len(notice.Attempts)),
		),
	)
	defer func() { end(span, err) }()

	return n.next.Notify(ctx, notice)
}
