package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Wire shapes returned by the scribed HTTP API.

type jobView struct {
	ID              int64      `json:"id"`
	Filename        string     `json:"filename"`
	Model           string     `json:"model"`
	Language        string     `json:"language"`
	Status          string     `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	ProgressMessage string     `json:"progress_message"`
	ErrorMessage    string     `json:"error_message"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at"`
}

type jobListView struct {
	Jobs []jobView `json:"jobs"`
}

type transcriptView struct {
	JobID    int64           `json:"job_id"`
	Text     string          `json:"text"`
	Segments json.RawMessage `json:"segments"`
	SRTPath  string          `json:"srt_path"`
}

type statusView struct {
	Running bool `json:"running"`
	Queue   struct {
		Total      int
		Queued     int
		Processing int
		Completed  int
		Failed     int
	} `json:"queue"`
	DatabasePath string `json:"database_path"`
	LockFilePath string `json:"lock_file_path"`
}

// renderJobsTable lays out jobs with numeric columns right-aligned. Progress
// is only meaningful while a job is in flight, so terminal rows leave it blank.
func renderJobsTable(views []jobView) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "File", "Status", "Progress", "Created"})
	for _, v := range views {
		progress := ""
		if isActiveStatus(v.Status) {
			progress = fmt.Sprintf("%.0f%%", v.ProgressPercent)
		}
		tw.AppendRow(table.Row{v.ID, v.Filename, v.Status, progress, v.CreatedAt.Local().Format("2006-01-02 15:04")})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// renderQueueTable summarizes the queue counts from the status endpoint.
func renderQueueTable(view statusView) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Status", "Count"})
	tw.AppendRow(table.Row{"queued", view.Queue.Queued})
	tw.AppendRow(table.Row{"processing", view.Queue.Processing})
	tw.AppendRow(table.Row{"completed", view.Queue.Completed})
	tw.AppendRow(table.Row{"failed", view.Queue.Failed})
	tw.AppendFooter(table.Row{"total", view.Queue.Total})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft, AlignFooter: text.AlignRight},
	})
	return tw.Render()
}

func isActiveStatus(status string) bool {
	switch status {
	case "queued", "processing", "enriching":
		return true
	}
	return false
}

func isFailedStatus(status string) bool {
	return strings.HasPrefix(status, "failed")
}
