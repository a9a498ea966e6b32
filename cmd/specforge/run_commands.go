package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"specforge/internal/api"
	"specforge/internal/store"
	"specforge/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"runs"},
		Short:   "Enqueue and drive pipeline runs",
	}
	cmd.AddCommand(newRunEnqueueCommand(ctx))
	cmd.AddCommand(newRunStageCommand(ctx))
	cmd.AddCommand(newRunCancelCommand(ctx))
	cmd.AddCommand(newRunCleanupCommand(ctx))
	cmd.AddCommand(newRunListCommand(ctx))
	cmd.AddCommand(newRunShowCommand(ctx))
	return cmd
}

func newRunEnqueueCommand(ctx *commandContext) *cobra.Command {
	var window string
	var seed int64
	var autoPick, noRender bool
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a run; repeating a window key returns the existing run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				req := workflow.EnqueueRequest{WindowKey: window}
				if cmd.Flags().Changed("seed") || autoPick || noRender {
					params := svc.Workflow().DefaultParams()
					if cmd.Flags().Changed("seed") {
						params.Seed = seed
					}
					params.AutoPick = params.AutoPick || autoPick
					params.Render = params.Render && !noRender
					req.Params = &params
				}
				run, created, err := svc.Enqueue(c, req)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, map[string]any{"run": run, "created": created}, func() string {
					if created {
						return fmt.Sprintf("Enqueued run %d (window %s)", run.ID, run.WindowKey)
					}
					return fmt.Sprintf("Run %d already exists for window %s (%s)", run.ID, run.WindowKey, run.Status)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&window, "window", "w", "", "Idempotency key (default: current hour)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Compilation seed for this run")
	cmd.Flags().BoolVar(&autoPick, "auto-pick", false, "Pick the first sampled candidate without waiting for a decision")
	cmd.Flags().BoolVar(&noRender, "no-render", false, "Skip the renderer during handoff")
	return cmd
}

func newRunStageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <run-id> <verify|select|compile|handoff>",
		Short: "Execute one stage now; earlier stages must have succeeded",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseID(args[0], "run id")
			if err != nil {
				return err
			}
			name := store.StageName(strings.TrimSpace(args[1]))
			if name == store.StageVerify || name == store.StageCompile {
				if err := ctx.requireLLM(); err != nil {
					return err
				}
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				sr, err := svc.RunStage(c, runID, name)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, sr, func() string {
					line := fmt.Sprintf("Stage %s of run %d: %s (attempt %d)", sr.Stage, sr.RunID, sr.Status, sr.Attempts)
					if sr.WorkRef != "" {
						line += "\nWork: " + sr.WorkRef
					}
					return line
				})
			})
		},
	}
}

func newRunCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run and interrupt its in-flight stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseID(args[0], "run id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				run, err := svc.CancelRun(c, runID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, run, func() string { return fmt.Sprintf("Run %d %s", run.ID, run.Status) })
			})
		},
	}
}

func newRunCleanupCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Fail stages whose heartbeat went stale and release stale claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				result, err := svc.CleanupStaleStages(c, olderThan)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, result, func() string {
					return fmt.Sprintf("Timed out %d stage(s), failed %d run(s), released %d claim(s)",
						len(result.Stages), len(result.RunsFailed), result.ClaimsReleased)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Staleness threshold (default: heartbeat timeout)")
	return cmd
}

func newRunListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.RunFilter{Limit: limit}
			for _, v := range splitList(statuses) {
				filter.Status = append(filter.Status, store.RunStatus(v))
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				runs, err := svc.ListRuns(c, filter)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, runs, func() string { return runTable(runs) })
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows")
	return cmd
}

func runTable(runs []*store.PipelineRun) string {
	if len(runs) == 0 {
		return "No runs"
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			fmtID(r.ID),
			r.WindowKey,
			string(r.Status),
			r.SpecVersion,
			orDash(r.ErrorCode),
			formatTime(r.CreatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Window", "Status", "DSL", "Error", "Created"},
		rows,
		[]columnAlignment{alignRight},
	)
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseID(args[0], "run id")
			if err != nil {
				return err
			}
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				detail, err := svc.ShowRun(c, runID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, detail, func() string { return renderRun(detail) })
			})
		},
	}
}

func renderRun(d *workflow.RunDetail) string {
	var b strings.Builder
	r := d.Run
	fmt.Fprintf(&b, "Run %d (%s) window %s, DSL %s\n", r.ID, r.Status, r.WindowKey, r.SpecVersion)
	if r.ErrorCode != "" {
		fmt.Fprintf(&b, "Error [%s]: %s\n", r.ErrorCode, r.ErrorMessage)
	}
	if len(d.Stages) > 0 {
		rows := make([][]string, 0, len(d.Stages))
		for _, s := range d.Stages {
			rows = append(rows, []string{
				string(s.Stage),
				string(s.Status),
				fmt.Sprintf("%d", s.Attempts),
				orDash(s.WorkRef),
				orDash(s.ErrorCode),
				formatTime(s.FinishedAt),
			})
		}
		b.WriteString(renderTable(
			[]string{"Stage", "Status", "Attempts", "Work", "Error", "Finished"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight},
		))
		b.WriteString("\n")
	}
	if d.Round != nil {
		fmt.Fprintf(&b, "Round %d: %s\n", d.Round.ID, d.Round.Status)
	}
	if d.Idea != nil {
		fmt.Fprintf(&b, "Idea %d: compile %s, render %s\n", d.Idea.ID, d.Idea.CompileStatus, d.Idea.RenderStatus)
	}
	if d.Compilation != nil {
		b.WriteString(renderCompilation(d.Compilation))
	}
	return strings.TrimRight(b.String(), "\n")
}
