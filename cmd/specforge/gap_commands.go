package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"specforge/internal/api"
	"specforge/internal/store"
)

func newGapsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gaps",
		Aliases: []string{"gap"},
		Short:   "Inspect and triage DSL capability gaps",
	}
	cmd.AddCommand(newGapListCommand(ctx))
	cmd.AddCommand(newGapShowCommand(ctx))
	cmd.AddCommand(newGapStatusCommand(ctx))
	cmd.AddCommand(newGapStatsCommand(ctx))
	return cmd
}

func newGapListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var filter store.GapFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gaps ordered by blocked candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, v := range splitList(statuses) {
				filter.Status = append(filter.Status, store.GapStatus(v))
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				list, err := svc.ListGaps(c, filter)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, list, func() string {
					if len(list) == 0 {
						return "No gaps"
					}
					return gapTable(list)
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status")
	cmd.Flags().StringVar(&filter.Impact, "impact", "", "Filter by impact")
	cmd.Flags().StringVar(&filter.SpecVersion, "spec-version", "", "Filter by detecting DSL version")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "Maximum rows")
	return cmd
}

func gapTable(list []*store.Gap) string {
	rows := make([][]string, 0, len(list))
	for _, g := range list {
		rows = append(rows, []string{
			fmtID(g.ID),
			truncate(g.Feature, 40),
			orDash(g.Impact),
			string(g.Status),
			g.SpecVersion,
			fmt.Sprintf("%d", g.LinkedCandidates),
		})
	}
	return renderTable(
		[]string{"ID", "Feature", "Impact", "Status", "DSL", "Blocks"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func newGapShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a gap and the candidates it blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gapID, err := parseID(args[0], "gap id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				detail, err := svc.GetGap(c, gapID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, detail, func() string {
					g := detail.Gap
					var b strings.Builder
					fmt.Fprintf(&b, "Gap %d: %s\n", g.ID, g.Feature)
					fmt.Fprintf(&b, "Key:      %s\n", g.GapKey)
					fmt.Fprintf(&b, "Status:   %s\n", g.Status)
					fmt.Fprintf(&b, "Impact:   %s\n", orDash(g.Impact))
					fmt.Fprintf(&b, "Detected: DSL %s\n", g.SpecVersion)
					if g.ImplementedInVersion != "" {
						fmt.Fprintf(&b, "Shipped:  DSL %s\n", g.ImplementedInVersion)
					}
					fmt.Fprintf(&b, "Reason:   %s\n", orDash(g.Reason))
					ids := make([]string, 0, len(detail.Candidates))
					for _, cid := range detail.Candidates {
						ids = append(ids, fmtID(cid))
					}
					fmt.Fprintf(&b, "Blocks:   %s", orDash(strings.Join(ids, ", ")))
					return b.String()
				})
			})
		},
	}
}

func newGapStatusCommand(ctx *commandContext) *cobra.Command {
	var implementedIn string
	cmd := &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Move a gap through triage",
		Long: `Statuses: new, accepted, in_progress, implemented, rejected.
Marking a gap implemented queues its blocked candidates for re-verification.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gapID, err := parseID(args[0], "gap id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				g, err := svc.SetGapStatus(c, gapID, store.GapStatus(strings.TrimSpace(args[1])), implementedIn)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, g, func() string {
					return fmt.Sprintf("Gap %d is now %s", g.ID, g.Status)
				})
			})
		},
	}
	cmd.Flags().StringVar(&implementedIn, "version", "", "DSL version that implements the gap (default: active)")
	return cmd
}

func newGapStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize gaps by status, impact, and DSL version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				stats, err := svc.GapStats(c)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, stats, func() string { return renderGapStats(stats) })
			})
		},
	}
}

func renderGapStats(s store.GapStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gaps: %d (blocking %d candidate links)\n", s.Total, s.Linked)
	writeCounts(&b, "By status", stringKeys(s.ByStatus))
	writeCounts(&b, "By impact", s.ByImpact)
	writeCounts(&b, "Introduced in", s.Introduced)
	writeCounts(&b, "Resolved in", s.Resolved)
	return strings.TrimRight(b.String(), "\n")
}

func stringKeys[K ~string](in map[K]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

func writeCounts(b *strings.Builder, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	fmt.Fprintf(b, "%-14s %s\n", label+":", strings.Join(parts, "  "))
}
