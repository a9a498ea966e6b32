package api

import (
	"context"
	"errors"
	"net/http"

	"specforge/internal/services"
	"specforge/internal/store"
	"specforge/internal/workflow"
)

// Status aggregates store, pipeline, and registry state.
type Status struct {
	StoreDriver  string                 `json:"store_driver"`
	StoreHealthy bool                   `json:"store_healthy"`
	StoreError   string                 `json:"store_error,omitempty"`
	SpecVersion  string                 `json:"spec_version"`
	Backend      string                 `json:"backend"`
	Candidates   store.CandidateCounts  `json:"candidates"`
	Gaps         store.GapStats         `json:"gaps"`
	Workflow     workflow.StatusSummary `json:"workflow"`
}

// Status reports current health and counts.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		StoreDriver:  s.store.Driver(),
		StoreHealthy: true,
		SpecVersion:  s.specs.ActiveVersion(),
		Backend:      s.backend.Name(),
	}
	if err := s.store.CheckHealth(ctx); err != nil {
		st.StoreHealthy = false
		st.StoreError = err.Error()
		return st, nil
	}
	counts, err := s.store.CountCandidates(ctx)
	if err != nil {
		return nil, wrapStore("count candidates", err)
	}
	st.Candidates = counts
	if st.Gaps, err = s.gaps.Stats(ctx); err != nil {
		return nil, wrapStore("gap stats", err)
	}
	st.Workflow = s.workflow.Status(ctx)
	return st, nil
}

// HTTPStatus maps a service error to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrPrecondition):
		return http.StatusPreconditionFailed
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrBackend):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
