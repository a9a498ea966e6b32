package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"specforge/internal/api"
)

func newSpecCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Manage DSL grammar versions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered grammar versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			specs := svc.ListSpecs()
			return ctx.emit(cmd, specs, func() string {
				rows := make([][]string, 0, len(specs))
				for _, s := range specs {
					active := ""
					if s.Active {
						active = "*"
					}
					rows = append(rows, []string{active, s.Version, orDash(s.Description), s.Source})
				}
				return renderTable([]string{"", "Version", "Description", "Source"}, rows, nil)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show [version]",
		Short: "Show a grammar's capability allowlist (default: active)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			version := ""
			if len(args) == 1 {
				version = args[0]
			}
			g, err := svc.ShowSpec(version)
			if err != nil {
				return err
			}
			return ctx.emit(cmd, g, g.Allowlist)
		},
	}

	activate := &cobra.Command{
		Use:   "activate <version>",
		Short: "Switch the active grammar version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(c context.Context, svc *api.Service) error {
				info, err := svc.ActivateSpec(c, args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, info, func() string {
					return fmt.Sprintf("Active DSL version is now %s", info.Version)
				})
			})
		},
	}

	cmd.AddCommand(list, show, activate)
	return cmd
}
