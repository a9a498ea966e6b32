package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"specforge/internal/api"
	"specforge/internal/verifier"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var reverify bool
	cmd := &cobra.Command{
		Use:   "verify [candidate-id]",
		Short: "Check candidates against the active DSL",
		Long: `Without an id, verifies up to --limit unverified candidates.
With --reverify, drains the re-verification queue filled when gaps are implemented.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.requireLLM(); err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				switch {
				case len(args) == 1:
					candidateID, err := parseID(args[0], "candidate id")
					if err != nil {
						return err
					}
					report, err := svc.Verify(c, candidateID)
					if err != nil {
						return err
					}
					return ctx.emit(cmd, report, func() string { return renderReport(report) })
				case reverify:
					result, err := svc.ProcessReverifyQueue(c, limit)
					if err != nil {
						return err
					}
					return ctx.emit(cmd, result, func() string {
						return fmt.Sprintf("Re-verified %d candidate(s), %d failed", result.Processed, result.Failed)
					})
				default:
					result, err := svc.VerifyBatch(c, limit)
					if err != nil {
						return err
					}
					return ctx.emit(cmd, result, func() string { return renderBatch(result) })
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Batch size (default from configuration)")
	cmd.Flags().BoolVar(&reverify, "reverify", false, "Process the re-verification queue")
	return cmd
}

func renderReport(r *verifier.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate %d: %s under DSL %s (confidence %.2f)\n", r.CandidateID, r.Status, r.SpecVersion, r.Confidence)
	if r.Summary != "" {
		fmt.Fprintf(&b, "%s\n", r.Summary)
	}
	if len(r.Evidence) > 0 {
		rows := make([][]string, 0, len(r.Evidence))
		for _, e := range r.Evidence {
			gap := "-"
			if e.GapID > 0 {
				gap = fmtID(e.GapID)
			}
			rows = append(rows, []string{truncate(e.Feature, 36), yesNo(e.Representable), orDash(e.Impact), gap, truncate(e.Reason, 50)})
		}
		b.WriteString(renderTable([]string{"Feature", "Supported", "Impact", "Gap", "Reason"}, rows, nil))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBatch(r *verifier.BatchResult) string {
	feasible := 0
	for _, rep := range r.Reports {
		if rep.Feasible {
			feasible++
		}
	}
	line := fmt.Sprintf("Verified %d candidate(s): %d feasible, %d blocked", len(r.Reports), feasible, len(r.Reports)-feasible)
	if len(r.Skipped) > 0 {
		line += fmt.Sprintf(", %d skipped", len(r.Skipped))
	}
	for candidateID, msg := range r.Failed {
		line += fmt.Sprintf("\ncandidate %d failed: %s", candidateID, msg)
	}
	return line
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
