package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantops/internal/decommission"
	"github.com/neomorfeo/tenantops/internal/provision"
)

// stepMetrics counts and times pipeline stages and teardown strategies.
type stepMetrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

func newStepMetrics(prefix string) stepMetrics {
	meter := otel.Meter(tracerName)
	// Creation fails only on invalid names, which these are not.
	runs, _ := meter.Int64Counter(prefix+".runs",
		metric.WithDescription("Executions by name and result."))
	duration, _ := meter.Float64Histogram(prefix+".duration",
		metric.WithDescription("Execution time."), metric.WithUnit("s"))
	return stepMetrics{runs: runs, duration: duration}
}

func (m stepMetrics) record(ctx context.Context, name string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("result", result),
	))
	m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("name", name)))
}

// TraceStages wraps every stage with a span and outcome metrics.
func TraceStages(stages []provision.Stage) []provision.Stage {
	m := newStepMetrics("tenantops.provision.stage")
	tracer := otel.Tracer(tracerName)

	out := make([]provision.Stage, len(stages))
	for i, s := range stages {
		out[i] = &tracingStage{next: s, tracer: tracer, metrics: m}
	}
	return out
}

type tracingStage struct {
	next    provision.Stage
	tracer  trace.Tracer
	metrics stepMetrics
}

func (s *tracingStage) Name() provision.StageName { return s.next.Name() }

func (s *tracingStage) Run(ctx context.Context, run *provision.Run) (err error) {
	name := string(s.next.Name())
	ctx, span := s.tracer.Start(ctx, "Stage."+name,
		trace.WithAttributes(
			attribute.String("tenant.id", run.Tenant.ID),
			attribute.String("tenant.name", run.Tenant.Name),
			attribute.String("stage", name),
		),
	)
	start := time.Now()
	defer func() {
		s.metrics.record(ctx, name, start, err)
		end(span, err)
	}()

	return s.next.Run(ctx, run)
}

// TraceStrategies wraps every strategy with a span and outcome metrics.
func TraceStrategies(strategies []decommission.Strategy) []decommission.Strategy {
	m := newStepMetrics("tenantops.decommission.strategy")
	tracer := otel.Tracer(tracerName)

	out := make([]decommission.Strategy, len(strategies))
	for i, s := range strategies {
		out[i] = &tracingStrategy{next: s, tracer: tracer, metrics: m}
	}
	return out
}

type tracingStrategy struct {
	next    decommission.Strategy
	tracer  trace.Tracer
	metrics stepMetrics
}

func (s *tracingStrategy) Name() string { return s.next.Name() }

func (s *tracingStrategy) Attempt(ctx context.Context, target decommission.Target) (res decommission.AttemptResult, err error) {
	name := s.next.Name()
	ctx, span := s.tracer.Start(ctx, "Strategy."+name,
		trace.WithAttributes(
			attribute.String("tenant.id", target.Tenant.ID),
			attribute.String("tenant.name", target.Tenant.Name),
			attribute.String("strategy", name),
		),
	)
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Bool("strategy.skipped", res.Skipped))
		s.metrics.record(ctx, name, start, err)
		end(span, err)
	}()

	return s.next.Attempt(ctx, target)
}
