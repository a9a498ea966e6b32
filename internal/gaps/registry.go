// Package gaps tracks capability gaps: features the specification language
// cannot yet express, deduplicated by a content-derived key.
package gaps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"specforge/internal/logging"
	"specforge/internal/services"
	"specforge/internal/specreg"
	"specforge/internal/store"
	"specforge/internal/telemetry"
)

// Audit actions written by the registry.
const (
	ActionCreated       = "gap_created"
	ActionStatusChanged = "gap_status_changed"
)

// Registry owns gap creation and lifecycle transitions.
type Registry struct {
	store    *store.Store
	specs    *specreg.Registry
	logger   *slog.Logger
	recorder *telemetry.Recorder
}

// New constructs a gap registry.
func New(st *store.Store, specs *specreg.Registry, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		store:    st,
		specs:    specs,
		logger:   logging.NewComponentLogger(logger, "gaps"),
		recorder: telemetry.Default(),
	}
}

// Draft describes a gap found during verification.
type Draft struct {
	Feature     string
	Reason      string
	Impact      string
	SpecVersion string
}

func (d Draft) validate() error {
	if strings.TrimSpace(d.Feature) == "" {
		return services.Fail(services.ErrValidation, services.CodeInvalidArgument, "gap", "feature is required", nil)
	}
	if strings.TrimSpace(d.SpecVersion) == "" {
		return services.Fail(services.ErrValidation, services.CodeInvalidArgument, "gap", "spec version is required", nil)
	}
	return nil
}

// FindByKey returns the gap with key, or a not-found error.
func (r *Registry) FindByKey(ctx context.Context, key string) (*store.Gap, error) {
	return r.store.GetGapByKey(ctx, key)
}

// Get returns a gap by id.
func (r *Registry) Get(ctx context.Context, id int64) (*store.Gap, error) {
	return r.store.GetGap(ctx, id)
}

// List returns gaps matching filter, most linked first.
func (r *Registry) List(ctx context.Context, filter store.GapFilter) ([]*store.Gap, error) {
	return r.store.ListGaps(ctx, filter)
}

// Stats summarizes gaps, including introduced and resolved counts per version.
func (r *Registry) Stats(ctx context.Context) (store.GapStats, error) {
	return r.store.GapStats(ctx)
}

// Create registers a gap or returns the existing one with the same key.
func (r *Registry) Create(ctx context.Context, d Draft) (*store.Gap, bool, error) {
	var (
		gap     *store.Gap
		created bool
	)
	err := r.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		gap, created, err = r.Ensure(ctx, q, d)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		r.recorder.GapCreated(ctx, gap.SpecVersion, gap.Impact)
	}
	return gap, created, nil
}

// Ensure looks up or creates a gap inside an existing transaction. Concurrent
// creators race on the unique key; the loser reads the winner's row.
func (r *Registry) Ensure(ctx context.Context, q *store.Queries, d Draft) (*store.Gap, bool, error) {
	if err := d.validate(); err != nil {
		return nil, false, err
	}
	key := Key(d.Feature, d.Reason, d.SpecVersion)
	gap, created, err := q.InsertGapIgnoreConflict(ctx, store.NewGap{
		GapKey:      key,
		Feature:     strings.TrimSpace(d.Feature),
		Reason:      strings.TrimSpace(d.Reason),
		Impact:      NormalizeImpact(d.Impact),
		SpecVersion: strings.TrimSpace(d.SpecVersion),
	})
	if err != nil {
		return nil, false, services.Wrap(services.ErrInfrastructure, "gaps", "ensure gap", "", err)
	}
	if created {
		if err := q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityGap,
			EntityID:   gap.ID,
			Action:     ActionCreated,
			Actor:      services.ActorFromContext(ctx),
			Payload: map[string]any{
				"gap_key":      key,
				"feature":      gap.Feature,
				"spec_version": gap.SpecVersion,
				"impact":       gap.Impact,
			},
		}); err != nil {
			return nil, false, err
		}
	}
	return gap, created, nil
}

// SetStatus moves a gap forward in its lifecycle. Reaching implemented
// requires a registered spec version and enqueues re-verification of every
// linked candidate in the same transaction. Setting the current status again
// is a no-op.
func (r *Registry) SetStatus(ctx context.Context, id int64, to store.GapStatus, implementedIn string) (*store.Gap, error) {
	if _, ok := ParseStatus(string(to)); !ok {
		return nil, services.Fail(services.ErrValidation, services.CodeGapTransitionInvalid, "set gap status",
			fmt.Sprintf("unknown status %q", to), nil)
	}
	implementedIn = strings.TrimSpace(implementedIn)
	if to == store.GapImplemented {
		if implementedIn == "" {
			return nil, services.Fail(services.ErrValidation, services.CodeGapTransitionInvalid, "set gap status",
				"implemented requires the spec version that implements the gap", nil).
				WithHint("pass --version with a registered spec version")
		}
		if !r.specs.Has(implementedIn) {
			return nil, services.Fail(services.ErrValidation, services.CodeUnknownSpecVersion, "set gap status",
				fmt.Sprintf("spec version %q is not registered", implementedIn), nil)
		}
	} else {
		implementedIn = ""
	}

	var (
		updated  *store.Gap
		enqueued int
		from     store.GapStatus
	)
	err := r.store.WithTx(ctx, func(q *store.Queries) error {
		gap, err := q.GetGap(ctx, id)
		if err != nil {
			return err
		}
		from = gap.Status
		if from == to {
			updated = gap
			return nil
		}
		if !CanTransition(from, to) {
			return services.Fail(services.ErrValidation, services.CodeGapTransitionInvalid, "set gap status",
				fmt.Sprintf("gap %d cannot move from %s to %s", id, from, to), nil).
				WithHint("gap status only moves forward: new, accepted, in_progress, then implemented or rejected")
		}
		ok, err := q.UpdateGapStatus(ctx, id, from, to, implementedIn)
		if err != nil {
			return services.Wrap(services.ErrInfrastructure, "gaps", "update status", "", err)
		}
		if !ok {
			return services.Fail(services.ErrConflict, services.CodeGapTransitionInvalid, "set gap status",
				fmt.Sprintf("gap %d changed concurrently", id), nil)
		}
		if to == store.GapImplemented {
			ids, err := q.LinkedCandidateIDs(ctx, id)
			if err != nil {
				return err
			}
			for _, candidateID := range ids {
				if err := q.EnqueueReverify(ctx, candidateID, id); err != nil {
					return err
				}
			}
			enqueued = len(ids)
		}
		if err := q.AppendAudit(ctx, store.AuditRecord{
			EntityType: store.EntityGap,
			EntityID:   id,
			Action:     ActionStatusChanged,
			Actor:      services.ActorFromContext(ctx),
			Payload: map[string]any{
				"from":              from,
				"to":                to,
				"implemented_in":    implementedIn,
				"reverify_enqueued": enqueued,
			},
		}); err != nil {
			return err
		}
		updated, err = q.GetGap(ctx, id)
		return err
	})
	if err != nil {
		if !errors.Is(err, services.ErrValidation) && !store.IsNotFound(err) {
			logging.WarnWithContext(r.logger, "gap status change failed", "gap_transition_failed",
				logging.Int64(logging.FieldGapID, id),
				logging.String("to", string(to)),
				logging.Error(err),
			)
		}
		return nil, err
	}
	if from != to {
		r.logger.Info("gap status changed",
			logging.Int64(logging.FieldGapID, id),
			logging.String("from", string(from)),
			logging.String("to", string(to)),
			logging.Int("reverify_enqueued", enqueued),
			logging.Actor(ctx),
		)
	}
	return updated, nil
}
