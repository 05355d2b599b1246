package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage transcription jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsTranscriptCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transcription jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(listStatuses) > 0 {
				values := url.Values{}
				for _, status := range listStatuses {
					values.Add("status", strings.TrimSpace(status))
				}
				query = "?" + values.Encode()
			}

			var list jobListView
			if err := ctx.getJSON("/api/jobs"+query, &list); err != nil {
				return err
			}
			if len(list.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobsTable(list.Jobs))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a single job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			var view jobView
			if err := ctx.getJSON(fmt.Sprintf("/api/jobs/%d", id), &view); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintf(out, "Job %d: %s\n", view.ID, view.Filename)
			fmt.Fprintln(out, renderStatusLine("Status", statusKindFor(view.Status), view.Status, colorize))
			if view.Model != "" {
				fmt.Fprintln(out, renderStatusLine("Model", statusInfo, view.Model, colorize))
			}
			if view.Language != "" {
				fmt.Fprintln(out, renderStatusLine("Language", statusInfo, view.Language, colorize))
			}
			if isActiveStatus(view.Status) {
				progress := fmt.Sprintf("%.0f%% %s", view.ProgressPercent, view.ProgressMessage)
				fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, strings.TrimSpace(progress), colorize))
			}
			if view.ErrorMessage != "" {
				fmt.Fprintln(out, renderStatusLine("Error", statusError, view.ErrorMessage, colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Created", statusInfo, view.CreatedAt.Local().Format("2006-01-02 15:04:05"), colorize))
			if view.StartedAt != nil {
				fmt.Fprintln(out, renderStatusLine("Started", statusInfo, view.StartedAt.Local().Format("2006-01-02 15:04:05"), colorize))
			}
			return nil
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			var view jobView
			if err := ctx.postJSON(fmt.Sprintf("/api/jobs/%d/retry", id), nil, &view); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d requeued\n", view.ID)
			return nil
		},
	}
}

func newJobsTranscriptCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "transcript <job-id>",
		Short: "Fetch the transcript of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			var view transcriptView
			if err := ctx.getJSON(fmt.Sprintf("/api/jobs/%d/transcript", id), &view); err != nil {
				return err
			}

			content := view.Text + "\n"
			if asJSON {
				content = string(view.Segments) + "\n"
			}
			if outputPath != "" {
				if err := os.WriteFile(outputPath, []byte(content), 0o644); err != nil {
					return fmt.Errorf("write transcript: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote transcript to %s\n", outputPath)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), content)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the transcript to a file instead of stdout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit timed segments as JSON instead of plain text")
	return cmd
}

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}
