package stage

import (
	"context"

	"specforge/internal/render"
	"specforge/internal/services"
	"specforge/internal/store"
)

// Handoff passes the run's compiled idea to the render engine.
type Handoff struct {
	handoff *render.Handoff
	st      *store.Store
}

// NewHandoff builds the handoff stage.
func NewHandoff(h *render.Handoff, st *store.Store) *Handoff {
	return &Handoff{handoff: h, st: st}
}

func (s *Handoff) Name() store.StageName { return store.StageHandoff }

func (s *Handoff) Execute(ctx context.Context, env Env) (Outcome, error) {
	idea, err := s.st.GetIdeaByRun(ctx, env.Run.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return Outcome{}, services.Fail(services.ErrPrecondition, services.CodeStageOrder, "handoff",
				"run has no picked idea", err)
		}
		return Outcome{}, services.Wrap(services.ErrInfrastructure, "handoff", "load idea", "", err)
	}
	out, err := s.handoff.Run(ctx, idea.ID, env.Params().Render)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{WorkRef: IdeaRef(idea.ID), Result: out}, nil
}

func (s *Handoff) HealthCheck(context.Context) Health {
	name := string(store.StageHandoff)
	if !s.handoff.Enabled() {
		return Healthy(name)
	}
	if err := s.handoff.HealthCheck(); err != nil {
		return Unhealthy(name, err.Error())
	}
	return Healthy(name)
}
