package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Borui-Eduation/student-records-sub000/internal/adapter/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var actor actorFlags

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the command tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := actor.actor()
			if err != nil {
				return err
			}
			return withPipeline(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				a.logger.Info(ctx, "Serving MCP tools on stdio", map[string]interface{}{"actor": who.ID})
				return mcp.NewServer(a.commands, who, version).ServeStdio()
			})
		},
	}
	actor.register(cmd)
	return cmd
}
