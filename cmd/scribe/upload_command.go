package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const uploadChunkSize int64 = 8 << 20

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var model string
	var languageHint string
	var watch bool

	cmd := &cobra.Command{
		Use:   "upload <audio-file>",
		Short: "Upload an audio file for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("inspect %q: %w", path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("%q is a directory", path)
			}

			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %q: %w", path, err)
			}
			defer file.Close()

			var initResp struct {
				SessionID   string `json:"session_id"`
				TotalChunks int    `json:"total_chunks"`
				ChunkSize   int64  `json:"chunk_size"`
			}
			err = ctx.postJSON("/api/uploads", map[string]any{
				"filename":   filepath.Base(path),
				"total_size": info.Size(),
				"chunk_size": uploadChunkSize,
				"model":      model,
				"language":   languageHint,
			}, &initResp)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			buf := make([]byte, initResp.ChunkSize)
			for index := 0; index < initResp.TotalChunks; index++ {
				n, err := io.ReadFull(file, buf)
				if err != nil && err != io.ErrUnexpectedEOF {
					return fmt.Errorf("read chunk %d: %w", index, err)
				}
				if err := ctx.putChunk(initResp.SessionID, index, buf[:n]); err != nil {
					return fmt.Errorf("upload chunk %d: %w", index, err)
				}
				fmt.Fprintf(out, "\ruploading %d/%d chunks", index+1, initResp.TotalChunks)
			}
			fmt.Fprintln(out)

			var finalizeResp struct {
				JobID int64 `json:"job_id"`
			}
			if err := ctx.postJSON(fmt.Sprintf("/api/uploads/%s/finalize", initResp.SessionID), nil, &finalizeResp); err != nil {
				return err
			}
			fmt.Fprintf(out, "Queued job %d for %s\n", finalizeResp.JobID, filepath.Base(path))

			if watch {
				return watchJob(ctx, out, finalizeResp.JobID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Transcription model (defaults to the daemon's configured model)")
	cmd.Flags().StringVarP(&languageHint, "language", "l", "", "Language hint, e.g. \"en\" or \"german\"")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow job progress after the upload")
	return cmd
}

func (c *commandContext) putChunk(sessionID string, index int, data []byte) error {
	url := fmt.Sprintf("%s/api/uploads/%s/chunks/%d", c.apiBase(), sessionID, index)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return wrapDialError(err, c.apiHost())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}
