package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove finished jobs past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Removed int `json:"removed"`
			}
			payload := map[string]int{"older_than_days": olderThanDays}
			if err := ctx.postJSON("/api/sweep", payload, &resp); err != nil {
				return err
			}
			if resp.Removed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to sweep")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished jobs\n", resp.Removed)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Sweep jobs older than this many days (default: configured retention)")
	return cmd
}
