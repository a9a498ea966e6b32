package workflow

import (
	"context"
	"slices"

	"specforge/internal/stage"
	"specforge/internal/store"
)

// StatusSummary exposes lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                      `json:"running"`
	LastError   string                    `json:"last_error,omitempty"`
	LastStage   *store.StageRun           `json:"last_stage,omitempty"`
	StageCounts map[store.StageStatus]int `json:"stage_counts"`
	StageHealth map[string]stage.Health   `json:"stage_health"`
	SpecVersion string                    `json:"spec_version"`
}

// Status returns a snapshot of manager state.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:     m.running,
		LastStage:   m.lastStage,
		StageHealth: make(map[string]stage.Health, len(m.handlers)),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	handlers := make([]stage.Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	slices.SortFunc(handlers, func(a, b stage.Handler) int { return a.Name().Index() - b.Name().Index() })
	for _, h := range handlers {
		summary.StageHealth[string(h.Name())] = h.HealthCheck(ctx)
	}
	if counts, err := m.store.StageCounts(ctx); err == nil {
		summary.StageCounts = counts
	}
	summary.SpecVersion = m.specs.ActiveVersion()
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastStage(sr *store.StageRun) {
	m.mu.Lock()
	m.lastStage = sr
	m.mu.Unlock()
}
