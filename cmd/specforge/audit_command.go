package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"specforge/internal/api"
	"specforge/internal/store"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var filter store.AuditFilter
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show audit events in insertion order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				if since > 0 {
					filter.Since = svc.Store().Now().Add(-since)
				}
				events, err := svc.Audit(c, filter)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, events, func() string { return auditTable(events) })
			})
		},
	}
	cmd.Flags().StringVar(&filter.EntityType, "entity", "", "Entity type (candidate, gap, idea, decision_round, pipeline_run, stage_run, spec)")
	cmd.Flags().Int64Var(&filter.EntityID, "id", 0, "Entity id")
	cmd.Flags().StringVar(&filter.Action, "action", "", "Action name")
	cmd.Flags().Int64Var(&filter.AfterID, "after", 0, "Only events after this event id")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this duration")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 100, "Maximum rows")
	return cmd
}

func auditTable(events []*store.AuditEvent) string {
	if len(events) == 0 {
		return "No audit events"
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			fmtID(e.ID),
			formatTime(e.CreatedAt),
			fmt.Sprintf("%s/%d", e.EntityType, e.EntityID),
			e.Action,
			e.Actor,
			truncate(e.Payload, 60),
		})
	}
	return renderTable(
		[]string{"ID", "When", "Entity", "Action", "Actor", "Payload"},
		rows,
		[]columnAlignment{alignRight},
	)
}
