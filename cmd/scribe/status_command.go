package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var view statusView
			if err := ctx.getJSON("/api/status", &view); err != nil {
				var apiErr *apiError
				if !errors.As(err, &apiErr) {
					fmt.Fprintln(out, renderStatusLine("Daemon", statusError, "not reachable", colorize))
					fmt.Fprintf(out, "%s%s\n", statusIndent, err)
					return nil
				}
				return err
			}

			fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running at "+ctx.apiHost(), colorize))
			fmt.Fprintln(out, renderStatusLine("Database", statusInfo, view.DatabasePath, colorize))

			fmt.Fprintln(out, renderQueueTable(view))
			return nil
		},
	}
}
