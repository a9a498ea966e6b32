package services_test

import (
	"context"
	"testing"

	"specforge/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, 42)
	ctx = services.WithCandidateID(ctx, 7)
	ctx = services.WithStage(ctx, "compile")
	ctx = services.WithRequestID(ctx, "req-123")
	ctx = services.WithActor(ctx, "operator:ana")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if id, ok := services.CandidateIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("unexpected candidate id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "compile" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
	if actor := services.ActorFromContext(ctx); actor != "operator:ana" {
		t.Fatalf("unexpected actor %q", actor)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}

func TestActorDefaultsToSystem(t *testing.T) {
	if actor := services.ActorFromContext(context.Background()); actor != services.ActorSystem {
		t.Fatalf("expected system actor, got %q", actor)
	}
}
