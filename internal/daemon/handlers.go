package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scribe/internal/jobs"
	"scribe/internal/services"
	"scribe/internal/upload"
)

type uploadInitRequest struct {
	Filename  string `json:"filename"`
	TotalSize int64  `json:"total_size"`
	ChunkSize int64  `json:"chunk_size"`
	Model     string `json:"model,omitempty"`
	Language  string `json:"language,omitempty"`
}

type uploadInitResponse struct {
	SessionID   string `json:"session_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
}

type chunkResponse struct {
	Received    int `json:"received"`
	TotalChunks int `json:"total_chunks"`
}

type finalizeResponse struct {
	JobID int64 `json:"job_id"`
}

type jobView struct {
	ID              int64      `json:"id"`
	Filename        string     `json:"filename"`
	Model           string     `json:"model,omitempty"`
	Language        string     `json:"language,omitempty"`
	Status          string     `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
}

type transcriptView struct {
	JobID    int64           `json:"job_id"`
	Text     string          `json:"text"`
	Segments json.RawMessage `json:"segments"`
	SRTPath  string          `json:"srt_path,omitempty"`
}

func viewOf(job *jobs.Job) jobView {
	return jobView{
		ID:              job.ID,
		Filename:        job.Filename,
		Model:           job.Model,
		Language:        job.Language,
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       job.StartedAt,
	}
}

func (s *apiServer) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req uploadInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.daemon.uploads.Initialize(r.Context(), upload.InitRequest{
		Filename:  req.Filename,
		TotalSize: req.TotalSize,
		ChunkSize: req.ChunkSize,
		Model:     req.Model,
		Language:  req.Language,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, uploadInitResponse{
		SessionID:   session.ID,
		ChunkSize:   session.ChunkSize,
		TotalChunks: session.TotalChunks,
	})
}

// handleUploadSub routes /api/uploads/{session}/chunks/{index} and
// /api/uploads/{session}/finalize.
func (s *apiServer) handleUploadSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/uploads/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 3 && parts[1] == "chunks":
		if r.Method != http.MethodPut {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleChunk(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "finalize":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleFinalize(w, r, parts[0])
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *apiServer) handleChunk(w http.ResponseWriter, r *http.Request, sessionID, indexStr string) {
	index, err := strconv.Atoi(indexStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}

	limit := s.daemon.cfg.MaxFileSizeBytes() + 1
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read chunk body")
		return
	}

	received, err := s.daemon.uploads.WriteChunk(r.Context(), sessionID, index, body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	session, err := s.daemon.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chunkResponse{Received: received, TotalChunks: session.TotalChunks})
}

func (s *apiServer) handleFinalize(w http.ResponseWriter, r *http.Request, sessionID string) {
	job, err := s.daemon.uploads.Finalize(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, finalizeResponse{JobID: job.ID})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := jobs.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status "+value)
			return
		}
		statuses = append(statuses, status)
	}

	list, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]jobView, 0, len(list))
	for _, job := range list {
		views = append(views, viewOf(job))
	}
	s.writeJSON(w, http.StatusOK, map[string][]jobView{"jobs": views})
}

// handleJobSub routes /api/jobs/{id}, /api/jobs/{id}/transcript,
// /api/jobs/{id}/ws, and /api/jobs/{id}/retry.
func (s *apiServer) handleJobSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(rest, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleJobShow(w, r, id)
	case len(parts) == 2 && parts[1] == "transcript":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleTranscript(w, r, id)
	case len(parts) == 2 && parts[1] == "ws":
		s.handleJobSocket(w, r, id)
	case len(parts) == 2 && parts[1] == "retry":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleRetry(w, r, id)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *apiServer) handleJobShow(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(job))
}

func (s *apiServer) handleTranscript(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if job.Status != jobs.StatusCompleted {
		s.writeError(w, http.StatusConflict, "job is not completed")
		return
	}
	segments := json.RawMessage(job.SegmentsJSON)
	if len(segments) == 0 {
		segments = json.RawMessage("[]")
	}
	s.writeJSON(w, http.StatusOK, transcriptView{
		JobID:    job.ID,
		Text:     job.TranscriptText,
		Segments: segments,
		SRTPath:  job.SRTPath,
	})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := s.daemon.store.RetryFailed(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrStaleTransition) {
			s.writeError(w, http.StatusConflict, "job is not in a failed state")
			return
		}
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(job))
}

// handleSweep removes terminal jobs older than the requested window. An
// omitted or zero older_than_days sweeps with the configured retention.
func (s *apiServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		OlderThanDays int `json:"older_than_days"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}
	// Zero means the configured retention; a negative window sweeps every
	// terminal job regardless of age.
	days := req.OlderThanDays
	if days == 0 {
		days = s.daemon.cfg.Retention.JobRetentionDays
	}

	removed, err := s.daemon.pool.Sweep(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
