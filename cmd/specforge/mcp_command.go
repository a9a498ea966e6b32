package main

import (
	"os"

	"github.com/spf13/cobra"

	"specforge/internal/mcpserver"
)

func newMCPCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve operator tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service()
			if err != nil {
				return err
			}
			return mcpserver.Serve(cmd.Context(), mcpserver.New(svc, version), os.Stdin, os.Stdout)
		},
	}
}
