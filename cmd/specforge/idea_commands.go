package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"specforge/internal/api"
	"specforge/internal/compiler"
	"specforge/internal/store"
)

func newIdeasCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ideas",
		Aliases: []string{"idea"},
		Short:   "Inspect promoted ideas",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List ideas, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				ideas, err := svc.ListIdeas(c, limit)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, ideas, func() string { return ideaTable(ideas) })
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an idea and its latest compilation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ideaID, err := parseID(args[0], "idea id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				detail, err := svc.GetIdea(c, ideaID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, detail, func() string { return renderIdea(detail) })
			})
		},
	}
	cmd.AddCommand(list, show)
	return cmd
}

func ideaTable(ideas []*store.Idea) string {
	if len(ideas) == 0 {
		return "No ideas"
	}
	rows := make([][]string, 0, len(ideas))
	for _, idea := range ideas {
		rows = append(rows, []string{
			fmtID(idea.ID),
			fmtID(idea.CandidateID),
			idea.SpecVersion,
			string(idea.CompileStatus),
			string(idea.RenderStatus),
			formatTime(idea.CreatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Candidate", "DSL", "Compile", "Render", "Created"},
		rows,
		[]columnAlignment{alignRight, alignRight},
	)
}

func renderIdea(d *api.IdeaDetail) string {
	var b strings.Builder
	idea := d.Idea
	fmt.Fprintf(&b, "Idea %d from candidate %d (DSL %s)\n", idea.ID, idea.CandidateID, idea.SpecVersion)
	fmt.Fprintf(&b, "Compile: %s  Render: %s\n", idea.CompileStatus, idea.RenderStatus)
	if comp := d.Compilation; comp != nil {
		b.WriteString(renderCompilation(comp))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCompilation(comp *store.Compilation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compilation %d: %s (seed %d, %d backend call(s))\n", comp.ID, comp.Status, comp.Seed, comp.BackendCalls)
	if comp.Degraded {
		b.WriteString("Degraded: fallback document\n")
	}
	if comp.ContentHash != "" {
		fmt.Fprintf(&b, "Hash: %s\n", comp.ContentHash)
	}
	if comp.ArtifactPath != "" {
		fmt.Fprintf(&b, "Artifact: %s\n", comp.ArtifactPath)
	}
	if comp.ErrorCode != "" {
		fmt.Fprintf(&b, "Error [%s]: %s\n", comp.ErrorCode, comp.ErrorMessage)
	}
	return b.String()
}

func newCompileCommand(ctx *commandContext) *cobra.Command {
	var req api.CompileRequest
	var maxAttempts, maxRepairs int
	var noFallback, showDoc bool
	cmd := &cobra.Command{
		Use:   "compile <idea-id>",
		Short: "Generate, validate, and repair a DSL document for an idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ideaID, err := parseID(args[0], "idea id")
			if err != nil {
				return err
			}
			if err := ctx.requireLLM(); err != nil {
				return err
			}
			if cmd.Flags().Changed("max-attempts") {
				req.MaxAttempts = maxAttempts
			}
			if cmd.Flags().Changed("max-repairs") {
				req.MaxRepairs = &maxRepairs
			}
			if noFallback {
				allow := false
				req.AllowFallback = &allow
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				res, err := svc.Compile(c, ideaID, req)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, res, func() string { return renderCompileResult(res, showDoc) })
			})
		},
	}
	cmd.Flags().Int64Var(&req.Seed, "seed", 0, "Replay seed (default: random)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Generation attempts")
	cmd.Flags().IntVar(&maxRepairs, "max-repairs", 0, "Repair rounds per attempt")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "Fail instead of emitting a degraded document")
	cmd.Flags().BoolVar(&showDoc, "print", false, "Print the compiled document")
	return cmd
}

func renderCompileResult(res *compiler.Result, showDoc bool) string {
	var b strings.Builder
	if res.Compilation != nil {
		b.WriteString(renderCompilation(res.Compilation))
	}
	if len(res.Trace) > 0 {
		states := make([]string, 0, len(res.Trace))
		for _, s := range res.Trace {
			states = append(states, string(s))
		}
		fmt.Fprintf(&b, "Trace: %s\n", strings.Join(states, " > "))
	}
	for _, report := range res.Reports {
		for _, v := range report.Violations {
			fmt.Fprintf(&b, "  %s: %s\n", report.Phase, v.String())
		}
	}
	if showDoc && res.Compilation != nil && res.Compilation.Document != "" {
		b.WriteString("\n")
		b.WriteString(res.Compilation.Document)
	}
	return strings.TrimRight(b.String(), "\n")
}

func newHandoffCommand(ctx *commandContext) *cobra.Command {
	var noRender bool
	cmd := &cobra.Command{
		Use:   "handoff <idea-id>",
		Short: "Write the compiled document to the artifact directory and render it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ideaID, err := parseID(args[0], "idea id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				out, err := svc.Handoff(c, ideaID, !noRender)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, out, func() string {
					line := fmt.Sprintf("Idea %d render %s", out.IdeaID, out.Status)
					if out.SpecPath != "" {
						line += "\nSpec: " + out.SpecPath
					}
					for _, a := range out.Artifacts {
						line += "\nArtifact: " + a
					}
					return line
				})
			})
		},
	}
	cmd.Flags().BoolVar(&noRender, "no-render", false, "Write the document without invoking the renderer")
	return cmd
}
