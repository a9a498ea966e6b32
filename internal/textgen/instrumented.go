package textgen

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"specforge/internal/telemetry"
)

// Instrumented records a span and metrics around every call.
type Instrumented struct {
	next     Backend
	recorder *telemetry.Recorder
}

// Instrument wraps backend. A nil recorder uses the global one.
func Instrument(backend Backend, recorder *telemetry.Recorder) *Instrumented {
	if recorder == nil {
		recorder = telemetry.Default()
	}
	return &Instrumented{next: backend, recorder: recorder}
}

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := i.recorder.StartSpan(ctx, "textgen.complete",
		attribute.String("textgen.provider", i.next.Name()),
		attribute.String("textgen.purpose", string(req.Purpose)),
	)
	start := time.Now()
	text, err := i.next.Complete(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	i.recorder.BackendCall(ctx, i.next.Name(), string(req.Purpose), outcome, time.Since(start))
	telemetry.EndSpan(span, err)
	return text, err
}

func (i *Instrumented) HealthCheck(ctx context.Context) error {
	if hc, ok := i.next.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
