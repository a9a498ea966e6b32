package services

import "context"

type contextKey string

const (
	runIDKey       contextKey = "run_id"
	candidateIDKey contextKey = "candidate_id"
	stageKey       contextKey = "stage"
	actorKey       contextKey = "actor"
	requestIDKey   contextKey = "request_id"
)

// ActorSystem attributes transitions performed by the pipeline itself.
const ActorSystem = "system"

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the pipeline run identifier if present.
func RunIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, runIDKey)
}

// WithCandidateID annotates context with the idea candidate identifier.
func WithCandidateID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, candidateIDKey, id)
}

// CandidateIDFromContext extracts the candidate identifier if present.
func CandidateIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, candidateIDKey)
}

func int64Value(ctx context.Context, key contextKey) (int64, bool) {
	v := ctx.Value(key)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithActor records the principal responsible for mutations made with ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the acting principal, defaulting to ActorSystem.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ActorSystem
	}
	if v, ok := ctx.Value(actorKey).(string); ok && v != "" {
		return v
	}
	return ActorSystem
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
