// Package stage implements the pipeline stage handlers the workflow manager
// executes: verify, select, compile, and handoff.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"specforge/internal/store"
)

// Env is what a handler sees of the stage it executes.
type Env struct {
	Run   *store.PipelineRun
	Stage *store.StageRun
}

// Params returns the run parameters captured at enqueue time.
func (e Env) Params() store.RunParams {
	if e.Run == nil {
		return store.RunParams{}
	}
	return e.Run.Params()
}

// Outcome is a handler's successful result. A positive Defer returns the
// stage to the queue instead of finishing it.
type Outcome struct {
	WorkRef string
	Result  any
	Defer   time.Duration
	Note    string
}

// Encode renders Result as the persisted JSON string.
func (o Outcome) Encode() (string, error) {
	if o.Result == nil {
		return "", nil
	}
	data, err := json.Marshal(o.Result)
	if err != nil {
		return "", fmt.Errorf("encode stage result: %w", err)
	}
	return string(data), nil
}

// Handler describes the contract the workflow manager needs from each stage.
// Handlers never touch StageRun rows; the manager records outcomes.
type Handler interface {
	Name() store.StageName
	Execute(context.Context, Env) (Outcome, error)
	HealthCheck(context.Context) Health
}

// IdeaRef formats the work reference of an idea.
func IdeaRef(id int64) string { return fmt.Sprintf("idea:%d", id) }

// RoundRef formats the work reference of a decision round.
func RoundRef(id int64) string { return fmt.Sprintf("round:%d", id) }
