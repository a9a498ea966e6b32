package telemetry_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"specforge/internal/config"
	"specforge/internal/telemetry"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecorderCountsEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	rec := telemetry.NewRecorder(mp, tracenoop.NewTracerProvider())
	ctx := context.Background()
	rec.StageFinished(ctx, "verify", "succeeded", 20*time.Millisecond)
	rec.StageFinished(ctx, "select", "failed", 5*time.Millisecond)
	rec.BackendCall(ctx, "fake", "generate", "ok", time.Millisecond)
	rec.GapCreated(ctx, "1.0", "high")
	rec.Verified(ctx, "feasible")
	rec.Compiled(ctx, "succeeded")

	metrics := collect(t, reader)
	if got := sumOf(t, metrics["specforge.stage.runs"]); got != 2 {
		t.Fatalf("stage runs = %d, want 2", got)
	}
	if got := sumOf(t, metrics["specforge.backend.calls"]); got != 1 {
		t.Fatalf("backend calls = %d, want 1", got)
	}
	if got := sumOf(t, metrics["specforge.gaps.created"]); got != 1 {
		t.Fatalf("gaps created = %d, want 1", got)
	}
	if _, ok := metrics["specforge.stage.duration"].(metricdata.Histogram[float64]); !ok {
		t.Fatalf("expected stage duration histogram, got %T", metrics["specforge.stage.duration"])
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), config.Telemetry{}, "specforge", "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	_, err := telemetry.Init(context.Background(), config.Telemetry{Enabled: true, Exporter: "carrier-pigeon"}, "specforge", "test")
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInitOTLPRequiresEndpoint(t *testing.T) {
	_, err := telemetry.Init(context.Background(), config.Telemetry{Enabled: true, Exporter: telemetry.ExporterOTLP}, "specforge", "test")
	if err == nil {
		t.Fatal("expected error without endpoint")
	}
}
