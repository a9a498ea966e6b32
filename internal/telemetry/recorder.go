package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Recorder holds the instruments shared by pipeline components.
type Recorder struct {
	tracer          trace.Tracer
	stageRuns       metric.Int64Counter
	stageDuration   metric.Float64Histogram
	backendCalls    metric.Int64Counter
	backendDuration metric.Float64Histogram
	gapsCreated     metric.Int64Counter
	verifications   metric.Int64Counter
	compilations    metric.Int64Counter
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns a recorder bound to the global providers. Instruments
// created before Init follow the providers Init installs.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewRecorder(otel.GetMeterProvider(), otel.GetTracerProvider())
	})
	return defaultRecorder
}

// NewRecorder creates instruments from explicit providers.
func NewRecorder(mp metric.MeterProvider, tp trace.TracerProvider) *Recorder {
	m := mp.Meter(instrumentationScope)
	r := &Recorder{tracer: tp.Tracer(instrumentationScope)}
	// Instrument creation only fails on invalid names; the returned
	// instrument is a usable no-op in that case.
	r.stageRuns, _ = m.Int64Counter("specforge.stage.runs",
		metric.WithDescription("Pipeline stage executions by stage and outcome"),
		metric.WithUnit("{run}"))
	r.stageDuration, _ = m.Float64Histogram("specforge.stage.duration",
		metric.WithDescription("Pipeline stage execution time"),
		metric.WithUnit("ms"))
	r.backendCalls, _ = m.Int64Counter("specforge.backend.calls",
		metric.WithDescription("Text-generation backend calls by purpose and outcome"),
		metric.WithUnit("{call}"))
	r.backendDuration, _ = m.Float64Histogram("specforge.backend.duration",
		metric.WithDescription("Text-generation backend latency"),
		metric.WithUnit("ms"))
	r.gapsCreated, _ = m.Int64Counter("specforge.gaps.created",
		metric.WithDescription("Capability gaps created"),
		metric.WithUnit("{gap}"))
	r.verifications, _ = m.Int64Counter("specforge.verifications",
		metric.WithDescription("Capability verifications by outcome"),
		metric.WithUnit("{verification}"))
	r.compilations, _ = m.Int64Counter("specforge.compilations",
		metric.WithDescription("Compilations by terminal status"),
		metric.WithUnit("{compilation}"))
	return r
}

// StartSpan opens a span; callers must End it.
func (r *Recorder) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StageFinished records one stage execution.
func (r *Recorder) StageFinished(ctx context.Context, stage, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	)
	r.stageRuns.Add(ctx, 1, attrs)
	r.stageDuration.Record(ctx, milliseconds(elapsed), attrs)
}

// BackendCall records one text-generation call.
func (r *Recorder) BackendCall(ctx context.Context, provider, purpose, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("purpose", purpose),
		attribute.String("outcome", outcome),
	)
	r.backendCalls.Add(ctx, 1, attrs)
	r.backendDuration.Record(ctx, milliseconds(elapsed), attrs)
}

// GapCreated counts a newly registered gap.
func (r *Recorder) GapCreated(ctx context.Context, specVersion, impact string) {
	r.gapsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("spec_version", specVersion),
		attribute.String("impact", impact),
	))
}

// Verified counts a verification outcome (feasible, blocked_by_gaps, failed, skipped).
func (r *Recorder) Verified(ctx context.Context, outcome string) {
	r.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Compiled counts a terminal compilation status.
func (r *Recorder) Compiled(ctx context.Context, status string) {
	r.compilations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
