package stage

import (
	"context"
	"fmt"

	"specforge/internal/store"
	"specforge/internal/textgen"
	"specforge/internal/verifier"
)

// Verify runs a verification batch over unverified candidates. Per-candidate
// failures are reported in the result; only infrastructure errors fail it.
type Verify struct {
	verifier *verifier.Verifier
	backend  textgen.Backend
}

// NewVerify builds the verify stage.
func NewVerify(v *verifier.Verifier, backend textgen.Backend) *Verify {
	return &Verify{verifier: v, backend: backend}
}

func (s *Verify) Name() store.StageName { return store.StageVerify }

func (s *Verify) Execute(ctx context.Context, env Env) (Outcome, error) {
	res, err := s.verifier.VerifyBatch(ctx, env.Params().VerifyLimit)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		WorkRef: fmt.Sprintf("batch:%d", len(res.Reports)+len(res.Skipped)+len(res.Failed)),
		Result:  res,
	}, nil
}

func (s *Verify) HealthCheck(ctx context.Context) Health {
	return backendHealth(ctx, string(store.StageVerify), s.backend)
}

func backendHealth(ctx context.Context, name string, backend textgen.Backend) Health {
	if backend == nil {
		return Unhealthy(name, "text-generation backend not configured")
	}
	if hc, ok := backend.(textgen.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return Unhealthy(name, err.Error())
		}
	}
	return Healthy(name)
}
