package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"scribe/internal/config"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/textutil"
)

// Manager drives chunked uploads: session creation, offset-addressed chunk
// writes into a preallocated part file, and finalization into a queued job.
type Manager struct {
	store  *jobs.Store
	cfg    *config.Config
	logger *slog.Logger
}

// NewManager builds an upload manager over the shared store.
func NewManager(store *jobs.Store, cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger.With(logging.String(logging.FieldComponent, "upload")),
	}
}

// InitRequest describes a new upload session.
type InitRequest struct {
	Filename  string
	TotalSize int64
	ChunkSize int64
	Model     string
	Language  string
	Owner     string
}

// Initialize validates the request, preallocates the part file, and persists
// the session. Chunk count is derived from the declared sizes, so clients and
// server always agree on which index is the short final chunk.
func (m *Manager) Initialize(ctx context.Context, req InitRequest) (*jobs.Session, error) {
	if req.Filename == "" {
		return nil, services.Wrap(services.ErrValidation, "upload", "initialize", "filename is required", nil)
	}
	if req.TotalSize <= 0 {
		return nil, services.Wrap(services.ErrValidation, "upload", "initialize", "total size must be positive", nil)
	}
	if maxBytes := m.cfg.MaxFileSizeBytes(); req.TotalSize > maxBytes {
		return nil, services.Wrap(services.ErrValidation, "upload", "initialize",
			fmt.Sprintf("total size %d exceeds limit %d", req.TotalSize, maxBytes), nil)
	}
	if req.ChunkSize <= 0 {
		return nil, services.Wrap(services.ErrValidation, "upload", "initialize", "chunk size must be positive", nil)
	}
	// Bounding chunk size by the upload limit keeps the chunk-count
	// arithmetic below safe from int64 overflow.
	if maxBytes := m.cfg.MaxFileSizeBytes(); req.ChunkSize > maxBytes {
		return nil, services.Wrap(services.ErrValidation, "upload", "initialize",
			fmt.Sprintf("chunk size %d exceeds limit %d", req.ChunkSize, maxBytes), nil)
	}

	totalChunks := int((req.TotalSize + req.ChunkSize - 1) / req.ChunkSize)
	id := uuid.NewString()
	partPath := filepath.Join(m.cfg.UploadDir(), id+".part")

	if err := preallocate(partPath, req.TotalSize); err != nil {
		return nil, services.Wrap(services.ErrTransient, "upload", "initialize", "preallocate part file", err)
	}

	session := &jobs.Session{
		ID:          id,
		Filename:    req.Filename,
		TotalSize:   req.TotalSize,
		ChunkSize:   req.ChunkSize,
		TotalChunks: totalChunks,
		Model:       req.Model,
		Language:    req.Language,
		Owner:       req.Owner,
		PartPath:    partPath,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		_ = os.Remove(partPath)
		return nil, err
	}

	m.logger.Info("upload session created",
		logging.String(logging.FieldSessionID, id),
		logging.String("filename", req.Filename),
		logging.Int64("total_size", req.TotalSize),
		logging.Int("total_chunks", totalChunks))
	return session, nil
}

// WriteChunk writes one chunk body at its byte offset and records receipt.
// Rewriting an already-received index is permitted; the bytes land in the
// same place and the chunk is counted once. Returns the number of distinct
// chunks received so far.
func (m *Manager) WriteChunk(ctx context.Context, sessionID string, index int, data []byte) (int, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= session.TotalChunks {
		return 0, services.Wrap(services.ErrOutOfRange, "upload", "write chunk",
			fmt.Sprintf("index %d outside 0..%d", index, session.TotalChunks-1), nil)
	}
	if expected := session.ExpectedChunkSize(index); int64(len(data)) != expected {
		return 0, services.Wrap(services.ErrSizeMismatch, "upload", "write chunk",
			fmt.Sprintf("chunk %d carries %d bytes, expected %d", index, len(data), expected), nil)
	}

	file, err := os.OpenFile(session.PartPath, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "upload", "write chunk", "open part file", err)
	}
	defer file.Close()

	offset := int64(index) * session.ChunkSize
	if _, err := file.WriteAt(data, offset); err != nil {
		return 0, services.Wrap(services.ErrTransient, "upload", "write chunk", "write part file", err)
	}

	if err := m.store.RecordChunk(ctx, sessionID, index, int64(len(data))); err != nil {
		return 0, err
	}
	return m.store.ReceivedChunks(ctx, sessionID)
}

// Finalize verifies completeness, consumes the session exactly once, moves the
// assembled file into the source directory, and enqueues a transcription job.
func (m *Manager) Finalize(ctx context.Context, sessionID string) (*jobs.Job, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	received, err := m.store.ReceivedChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if received != session.TotalChunks {
		return nil, services.Wrap(services.ErrIncomplete, "upload", "finalize",
			fmt.Sprintf("received %d of %d chunks", received, session.TotalChunks), nil)
	}

	consumed, ok, err := m.store.ConsumeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "upload", "finalize", "session already finalized or expired", nil)
	}

	sourcePath := filepath.Join(m.cfg.SourceDir(), consumed.ID+"-"+textutil.SanitizeFileName(consumed.Filename))
	if err := os.Rename(consumed.PartPath, sourcePath); err != nil {
		return nil, services.Wrap(services.ErrTransient, "upload", "finalize", "move assembled file", err)
	}

	model := consumed.Model
	if model == "" {
		model = m.cfg.Engine.Model
	}
	language := consumed.Language
	if language == "" {
		language = m.cfg.Engine.Language
	}

	job, err := m.store.NewJob(ctx, jobs.NewJobParams{
		SessionID:  consumed.ID,
		SourceFile: sourcePath,
		Filename:   consumed.Filename,
		Model:      model,
		Language:   language,
	})
	if err != nil {
		_ = os.Remove(sourcePath)
		return nil, err
	}

	m.logger.Info("upload finalized",
		logging.String(logging.FieldSessionID, consumed.ID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("filename", consumed.Filename))
	return job, nil
}

// ExpireSessions deletes sessions idle past the configured timeout together
// with their part files. Returns how many sessions were removed.
func (m *Manager) ExpireSessions(ctx context.Context) (int, error) {
	timeout := time.Duration(m.cfg.Upload.SessionTimeout) * time.Second
	cutoff := time.Now().Add(-timeout)

	expired, err := m.store.ExpiredSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, session := range expired {
		if err := m.store.DeleteSession(ctx, session.ID); err != nil {
			m.logger.Warn("delete expired session",
				logging.String(logging.FieldSessionID, session.ID),
				logging.Error(err))
			continue
		}
		if err := os.Remove(session.PartPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("remove expired part file",
				logging.String(logging.FieldSessionID, session.ID),
				logging.Error(err))
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("expired upload sessions removed", logging.Int("count", removed))
	}
	return removed, nil
}

func preallocate(path string, size int64) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := file.Truncate(size); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}
	return file.Close()
}
