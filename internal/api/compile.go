package api

import (
	"context"

	"specforge/internal/compiler"
	"specforge/internal/render"
	"specforge/internal/store"
)

// CompileRequest overrides the configured compile limits for one call.
type CompileRequest struct {
	MaxAttempts   int   `json:"max_attempts,omitempty"`
	MaxRepairs    *int  `json:"max_repairs,omitempty"`
	AllowFallback *bool `json:"allow_fallback,omitempty"`
	Seed          int64 `json:"seed,omitempty"`
}

// Compile compiles an idea into a validated document.
func (s *Service) Compile(ctx context.Context, ideaID int64, req CompileRequest) (*compiler.Result, error) {
	return s.compiler.Compile(ctx, ideaID, compiler.Options{
		MaxAttempts:   req.MaxAttempts,
		MaxRepairs:    req.MaxRepairs,
		AllowFallback: req.AllowFallback,
		Seed:          req.Seed,
	})
}

// Handoff passes an idea's compiled document to the render engine.
func (s *Service) Handoff(ctx context.Context, ideaID int64, renderEnabled bool) (*render.Outcome, error) {
	return s.handoff.Run(ctx, ideaID, renderEnabled)
}

// ListIdeas returns the most recent ideas.
func (s *Service) ListIdeas(ctx context.Context, limit int) ([]*store.Idea, error) {
	out, err := s.store.ListIdeas(ctx, limit)
	return out, wrapStore("list ideas", err)
}

// IdeaDetail is an idea with its latest compilation.
type IdeaDetail struct {
	Idea        *store.Idea        `json:"idea"`
	Compilation *store.Compilation `json:"compilation,omitempty"`
}

// GetIdea loads an idea and its latest compilation.
func (s *Service) GetIdea(ctx context.Context, id int64) (*IdeaDetail, error) {
	idea, err := s.store.GetIdea(ctx, id)
	if err != nil {
		return nil, wrapStore("get idea", err)
	}
	detail := &IdeaDetail{Idea: idea}
	if c, err := s.store.LatestCompilationForIdea(ctx, id); err == nil {
		detail.Compilation = c
	} else if !store.IsNotFound(err) {
		return nil, wrapStore("latest compilation", err)
	}
	return detail, nil
}
