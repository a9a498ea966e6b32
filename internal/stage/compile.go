package stage

import (
	"context"

	"specforge/internal/compiler"
	"specforge/internal/services"
	"specforge/internal/store"
	"specforge/internal/textgen"
)

// CompileResult is persisted when the compile stage finishes.
type CompileResult struct {
	IdeaID        int64                   `json:"idea_id"`
	CompilationID int64                   `json:"compilation_id"`
	Status        store.CompilationStatus `json:"status"`
	ContentHash   string                  `json:"content_hash"`
	Seed          int64                   `json:"seed"`
	Degraded      bool                    `json:"degraded"`
	Reused        bool                    `json:"reused,omitempty"`
}

// Compile compiles the idea picked during the run.
type Compile struct {
	compiler *compiler.Compiler
	st       *store.Store
	backend  textgen.Backend
}

// NewCompile builds the compile stage.
func NewCompile(c *compiler.Compiler, st *store.Store, backend textgen.Backend) *Compile {
	return &Compile{compiler: c, st: st, backend: backend}
}

func (s *Compile) Name() store.StageName { return store.StageCompile }

func (s *Compile) Execute(ctx context.Context, env Env) (Outcome, error) {
	idea, err := s.st.GetIdeaByRun(ctx, env.Run.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return Outcome{}, services.Fail(services.ErrPrecondition, services.CodeStageOrder, "compile",
				"run has no picked idea", err)
		}
		return Outcome{}, services.Wrap(services.ErrInfrastructure, "compile", "load idea", "", err)
	}
	ctx = services.WithCandidateID(ctx, idea.CandidateID)

	// A compilation committed by an earlier attempt is reused.
	if idea.CompileStatus == store.CompileCompiled && idea.CompilationID != 0 {
		comp, err := s.st.GetCompilation(ctx, idea.CompilationID)
		if err != nil {
			return Outcome{}, services.Wrap(services.ErrInfrastructure, "compile", "load compilation", "", err)
		}
		return compileOutcome(idea.ID, comp, true), nil
	}

	p := env.Params()
	opts := compiler.Options{MaxAttempts: p.MaxAttempts, Seed: p.Seed}
	if p.MaxAttempts > 0 {
		repairs, fallback := p.MaxRepairs, p.AllowFallback
		opts.MaxRepairs = &repairs
		opts.AllowFallback = &fallback
	}
	res, err := s.compiler.Compile(ctx, idea.ID, opts)
	if err != nil {
		return Outcome{}, err
	}
	return compileOutcome(idea.ID, res.Compilation, false), nil
}

func compileOutcome(ideaID int64, c *store.Compilation, reused bool) Outcome {
	return Outcome{
		WorkRef: IdeaRef(ideaID),
		Result: CompileResult{
			IdeaID:        ideaID,
			CompilationID: c.ID,
			Status:        c.Status,
			ContentHash:   c.ContentHash,
			Seed:          c.Seed,
			Degraded:      c.Degraded,
			Reused:        reused,
		},
	}
}

func (s *Compile) HealthCheck(ctx context.Context) Health {
	return backendHealth(ctx, string(store.StageCompile), s.backend)
}
