package api

import (
	"context"
	"encoding/json"

	"specforge/internal/services"
	"specforge/internal/specreg"
	"specforge/internal/store"
)

// SpecInfo describes one registered grammar version.
type SpecInfo struct {
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
	Active      bool   `json:"active"`
}

// ListSpecs returns registered grammar versions in ascending order.
func (s *Service) ListSpecs() []SpecInfo {
	active := s.specs.ActiveVersion()
	versions := s.specs.Versions()
	out := make([]SpecInfo, 0, len(versions))
	for _, v := range versions {
		g, err := s.specs.Get(v)
		if err != nil {
			continue
		}
		out = append(out, SpecInfo{Version: v, Description: g.Description, Source: g.Source, Active: v == active})
	}
	return out
}

// ShowSpec returns a grammar version; empty means the active one.
func (s *Service) ShowSpec(version string) (*specreg.Grammar, error) {
	if version == "" {
		if g := s.specs.Active(); g != nil {
			return g, nil
		}
	}
	return s.specs.Get(version)
}

// ActivateSpec switches the active grammar version. The activation is
// audited and restored on the next start unless configuration pins a version.
func (s *Service) ActivateSpec(ctx context.Context, version string) (*SpecInfo, error) {
	previous := s.specs.ActiveVersion()
	if err := s.specs.Activate(version); err != nil {
		return nil, err
	}
	err := s.store.AppendAudit(ctx, store.AuditRecord{
		EntityType: store.EntitySpec,
		Action:     ActionSpecActivated,
		Actor:      services.ActorFromContext(ctx),
		Payload:    map[string]string{"version": version, "previous": previous},
	})
	if err != nil {
		return nil, wrapStore("audit activation", err)
	}
	g, err := s.specs.Get(version)
	if err != nil {
		return nil, err
	}
	return &SpecInfo{Version: g.Version, Description: g.Description, Source: g.Source, Active: true}, nil
}

func activatedVersion(ev *store.AuditEvent) string {
	var payload struct {
		Version string `json:"version"`
	}
	if ev == nil || ev.Payload == "" {
		return ""
	}
	if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
		return ""
	}
	return payload.Version
}
