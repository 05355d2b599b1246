package main

import (
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream live progress for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return watchJob(ctx, cmd.OutOrStdout(), id)
		},
	}
}

// watchJob follows the job's websocket feed until the job reaches a terminal
// state or the daemon closes the stream.
func watchJob(ctx *commandContext, out io.Writer, jobID int64) error {
	url := fmt.Sprintf("ws://%s/api/jobs/%d/ws", ctx.apiHost(), jobID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return wrapDialError(err, ctx.apiHost())
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	colorize := shouldColorize(out)
	for {
		var event struct {
			Status   string  `json:"status"`
			Progress float64 `json:"progress"`
			Message  string  `json:"message"`
			Error    string  `json:"error"`
			At       string  `json:"at"`
		}
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("stream progress: %w", err)
		}

		line := fmt.Sprintf("%3.0f%% %s", event.Progress, event.Message)
		if event.Error != "" {
			line = event.Error
		}
		stamp := time.Now().Format("15:04:05")
		if at, err := time.Parse(time.RFC3339Nano, event.At); err == nil {
			stamp = at.Local().Format("15:04:05")
		}
		fmt.Fprintf(out, "%s %s\n", stamp, renderStatusLine(event.Status, statusKindFor(event.Status), line, colorize))

		if event.Status == "completed" || isFailedStatus(event.Status) {
			return nil
		}
	}
}
