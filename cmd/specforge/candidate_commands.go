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

func newCandidateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "candidate",
		Aliases: []string{"candidates"},
		Short:   "Manage idea candidates",
	}
	cmd.AddCommand(newCandidateAddCommand(ctx))
	cmd.AddCommand(newCandidateImportCommand(ctx))
	cmd.AddCommand(newCandidateListCommand(ctx))
	cmd.AddCommand(newCandidateShowCommand(ctx))
	cmd.AddCommand(newCandidatePurgeCommand(ctx))
	return cmd
}

func newCandidateAddCommand(ctx *commandContext) *cobra.Command {
	var in api.CandidateInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				created, err := svc.AddCandidate(c, in)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, created, func() string {
					line := fmt.Sprintf("Added candidate %d: %s", created.ID, created.Title)
					if created.SimilarityStatus == store.SimilarityTooSimilar {
						line += fmt.Sprintf("\nwarning: %.0f%% similar to candidate %d", created.SimilarityScore*100, created.SimilarToID)
					}
					return line
				})
			})
		},
	}
	cmd.Flags().StringVarP(&in.Title, "title", "t", "", "Short title")
	cmd.Flags().StringVarP(&in.Summary, "summary", "s", "", "What the animation shows")
	cmd.Flags().StringVar(&in.ExpectedOutcome, "outcome", "", "What a finished render should look like")
	cmd.Flags().StringVar(&in.Source, "source", "cli", "Where the idea came from")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func newCandidateImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import candidates from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				result, err := svc.ImportCandidatesFile(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, result, func() string {
					var b strings.Builder
					fmt.Fprintf(&b, "Imported %d candidate(s)", len(result.Added))
					indexes := make([]int, 0, len(result.Failed))
					for i := range result.Failed {
						indexes = append(indexes, i)
					}
					sort.Ints(indexes)
					for _, i := range indexes {
						fmt.Fprintf(&b, "\nentry %d skipped: %s", i, result.Failed[i])
					}
					return b.String()
				})
			})
		},
	}
}

func newCandidateListCommand(ctx *commandContext) *cobra.Command {
	var capability, decision []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.CandidateFilter{Limit: limit}
			for _, v := range splitList(capability) {
				filter.Capability = append(filter.Capability, store.CapabilityStatus(v))
			}
			for _, v := range splitList(decision) {
				filter.Decision = append(filter.Decision, store.DecisionStatus(v))
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				list, err := svc.ListCandidates(c, filter)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, list, func() string { return candidateTable(list) })
			})
		},
	}
	cmd.Flags().StringSliceVar(&capability, "capability", nil, "Filter by capability status")
	cmd.Flags().StringSliceVar(&decision, "decision", nil, "Filter by decision status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows")
	return cmd
}

func candidateTable(list []*store.Candidate) string {
	if len(list) == 0 {
		return "No candidates"
	}
	rows := make([][]string, 0, len(list))
	for _, c := range list {
		similar := "-"
		if c.SimilarityStatus == store.SimilarityTooSimilar {
			similar = fmt.Sprintf("#%d", c.SimilarToID)
		}
		rows = append(rows, []string{
			fmtID(c.ID),
			truncate(c.Title, 40),
			string(c.CapabilityStatus),
			string(c.DecisionStatus),
			similar,
			formatTime(c.CreatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Title", "Capability", "Decision", "Similar", "Created"},
		rows,
		[]columnAlignment{alignRight},
	)
}

func newCandidateShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a candidate with its gaps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidateID, err := parseID(args[0], "candidate id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				detail, err := svc.GetCandidate(c, candidateID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, detail, func() string { return renderCandidateDetail(detail) })
			})
		},
	}
}

func renderCandidateDetail(d *api.CandidateDetail) string {
	c := d.Candidate
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate %d: %s\n", c.ID, c.Title)
	fmt.Fprintf(&b, "Summary:     %s\n", c.Summary)
	fmt.Fprintf(&b, "Outcome:     %s\n", orDash(c.ExpectedOutcome))
	fmt.Fprintf(&b, "Source:      %s\n", orDash(c.Source))
	fmt.Fprintf(&b, "Capability:  %s", c.CapabilityStatus)
	if c.SpecVersion != "" {
		fmt.Fprintf(&b, " (DSL %s, confidence %.2f)", c.SpecVersion, c.VerifyConfidence)
	}
	fmt.Fprintf(&b, "\nDecision:    %s\n", c.DecisionStatus)
	if c.SimilarityStatus == store.SimilarityTooSimilar {
		fmt.Fprintf(&b, "Similar to:  candidate %d (%.2f)\n", c.SimilarToID, c.SimilarityScore)
	}
	if d.Idea != nil {
		fmt.Fprintf(&b, "Idea:        %d (compile %s, render %s)\n", d.Idea.ID, d.Idea.CompileStatus, d.Idea.RenderStatus)
	}
	if len(d.Gaps) > 0 {
		b.WriteString("\n")
		b.WriteString(gapTable(d.Gaps))
	}
	return strings.TrimRight(b.String(), "\n")
}

func newCandidatePurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete rejected candidates that never became ideas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				ids, err := svc.PurgeRejected(c)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, map[string]any{"purged": ids}, func() string {
					return fmt.Sprintf("Purged %d rejected candidate(s)", len(ids))
				})
			})
		},
	}
}
