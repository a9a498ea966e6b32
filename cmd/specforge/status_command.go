package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"specforge/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store health, the active DSL, and pipeline counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				st, err := svc.Status(c)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, st, func() string { return renderStatus(st) })
			})
		},
	}
}

func renderStatus(st *api.Status) string {
	var b strings.Builder
	health := "healthy"
	if !st.StoreHealthy {
		health = "unhealthy: " + st.StoreError
	}
	fmt.Fprintf(&b, "Store:      %s (%s)\n", st.StoreDriver, health)
	fmt.Fprintf(&b, "DSL:        %s\n", orDash(st.SpecVersion))
	fmt.Fprintf(&b, "Backend:    %s\n", orDash(st.Backend))
	writeCounts(&b, "Capability", stringKeys(st.Candidates.Capability))
	writeCounts(&b, "Decision", stringKeys(st.Candidates.Decision))
	fmt.Fprintf(&b, "Gaps:       %d\n", st.Gaps.Total)
	writeCounts(&b, "Stages", stringKeys(st.Workflow.StageCounts))
	if len(st.Workflow.StageHealth) > 0 {
		names := make([]string, 0, len(st.Workflow.StageHealth))
		for name := range st.Workflow.StageHealth {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			h := st.Workflow.StageHealth[name]
			rows = append(rows, []string{name, yesNo(h.Ready), orDash(h.Detail)})
		}
		b.WriteString(renderTable([]string{"Stage", "Ready", "Detail"}, rows, nil))
		b.WriteString("\n")
	}
	if st.Workflow.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", st.Workflow.LastError)
	}
	return strings.TrimRight(b.String(), "\n")
}
