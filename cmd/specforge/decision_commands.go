package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"specforge/internal/api"
	"specforge/internal/gate"
	"specforge/internal/mcpserver"
	"specforge/internal/store"
)

func newSampleCommand(ctx *commandContext) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Open a selection round with feasible, undecided candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				round, err := svc.SampleCandidates(c, n)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, round, func() string { return renderRound(round) })
			})
		},
	}
	cmd.Flags().IntVarP(&n, "size", "n", 0, "Round size (default from configuration)")
	return cmd
}

func newRoundCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "round <id>",
		Short: "Show a selection round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roundID, err := parseID(args[0], "round id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				round, err := svc.GetRound(c, roundID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, round, func() string { return renderRound(round) })
			})
		},
	}
}

func renderRound(r *gate.Round) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d (%s)\n", r.ID, r.Status)
	if r.PickedCandidateID > 0 {
		fmt.Fprintf(&b, "Picked candidate %d\n", r.PickedCandidateID)
	}
	rows := make([][]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		rows = append(rows, []string{fmtID(c.ID), truncate(c.Title, 40), truncate(c.Summary, 60), string(c.DecisionStatus)})
	}
	if len(rows) > 0 {
		b.WriteString(renderTable([]string{"ID", "Title", "Summary", "Decision"}, rows, []columnAlignment{alignRight}))
		b.WriteString("\n")
	}
	if r.Status == store.RoundOpen {
		fmt.Fprintf(&b, "Decide with: specforge decide %d <id>=picked [<id>=later|rejected ...]", r.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func newDecideCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "decide <round-id> <candidate-id>=<choice>...",
		Short: "Record choices for a round; exactly one candidate must be picked",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roundID, err := parseID(args[0], "round id")
			if err != nil {
				return err
			}
			batch, err := mcpserver.ParseDecisions(splitList(args[1:]))
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				idea, err := svc.Decide(c, roundID, batch)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, idea, func() string {
					return fmt.Sprintf("Promoted candidate %d to idea %d (DSL %s)", idea.CandidateID, idea.ID, idea.SpecVersion)
				})
			})
		},
	}
}
