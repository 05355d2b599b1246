package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scribe/internal/services"
)

// NewJobParams carries the fields a finalized upload contributes to a job.
type NewJobParams struct {
	SessionID  string
	SourceFile string
	Filename   string
	Model      string
	Language   string
}

// NewJob inserts a job in state queued together with its queue entry in a
// single transaction, so a crash never leaves a job without a delivery.
func (s *Store) NewJob(ctx context.Context, params NewJobParams) (*Job, error) {
	ctx = ensureContext(ctx)
	timestamp := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin job tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (
            session_id, source_file, filename, model, language, status,
            progress_percent, progress_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(params.SessionID),
		nullableString(params.SourceFile),
		nullableString(params.Filename),
		nullableString(params.Model),
		nullableString(params.Language),
		StatusQueued,
		0.0,
		"waiting for a worker",
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO queue_entries (job_id, enqueued_at, attempts) VALUES (?, ?, 0)`,
		id, timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert queue entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "get", fmt.Sprintf("job %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), newest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at DESC, id DESC`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, statusArgs(statuses)...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Transition performs a compare-and-set state change: the update applies only
// if the job's current status is one of expected. A terminal expected status
// is rejected outright, so no code path can move a job out of a terminal
// state. Returns the updated job on success.
func (s *Store) Transition(ctx context.Context, id int64, expected []Status, next Status, message string, progress float64) (*Job, error) {
	ctx = ensureContext(ctx)
	if len(expected) == 0 {
		return nil, errors.New("transition requires expected states")
	}
	if _, ok := statusSet[next]; !ok {
		return nil, fmt.Errorf("transition to unknown status %q", next)
	}
	for _, status := range expected {
		if status.IsTerminal() {
			return nil, fmt.Errorf("transition from terminal status %q is not permitted", status)
		}
	}

	now := formatTime(time.Now())
	set := `status = ?, progress_percent = ?, progress_message = ?, updated_at = ?`
	args := []any{next, progress, nullableString(message), now}

	if next == StatusProcessing {
		set += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	}
	if next.IsFailure() {
		set += `, error_message = ?`
		args = append(args, nullableString(message))
	}

	placeholders := makePlaceholders(len(expected))
	args = append(args, id)
	args = append(args, statusArgs(expected)...)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET `+set+` WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("transition job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, services.Wrap(services.ErrStaleTransition, "jobs", "transition",
			fmt.Sprintf("job %d is %s, expected one of %v", id, current.Status, expected), nil)
	}

	return s.GetByID(ctx, id)
}

// Complete performs the terminal compare-and-set to completed, attaching the
// result payload and forcing progress to 100.
func (s *Store) Complete(ctx context.Context, id int64, expected []Status, text, segmentsJSON, srtPath string) (*Job, error) {
	ctx = ensureContext(ctx)
	if len(expected) == 0 {
		return nil, errors.New("complete requires expected states")
	}
	for _, status := range expected {
		if status.IsTerminal() {
			return nil, fmt.Errorf("complete from terminal status %q is not permitted", status)
		}
	}

	now := formatTime(time.Now())
	placeholders := makePlaceholders(len(expected))
	args := []any{
		StatusCompleted,
		100.0,
		"transcription complete",
		nullableString(text),
		nullableString(segmentsJSON),
		nullableString(srtPath),
		now,
		id,
	}
	args = append(args, statusArgs(expected)...)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress_percent = ?, progress_message = ?,
             transcript_text = ?, segments_json = ?, srt_path = ?,
             error_message = NULL, updated_at = ?
         WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, services.Wrap(services.ErrStaleTransition, "jobs", "complete",
			fmt.Sprintf("job %d is %s, expected one of %v", id, current.Status, expected), nil)
	}

	return s.GetByID(ctx, id)
}

// SetProgress records in-flight progress. Updates apply only while the job is
// processing or enriching and only when the percentage does not regress, so
// late callbacks from a superseded attempt cannot walk progress backwards.
// A non-applying update is not an error.
func (s *Store) SetProgress(ctx context.Context, id int64, percent float64, message string) error {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET progress_percent = ?, progress_message = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?) AND progress_percent <= ?`,
		percent,
		nullableString(message),
		formatTime(time.Now()),
		id,
		StatusProcessing,
		StatusEnriching,
		percent,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ensureContext(ctx), `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const jobColumns = "id, session_id, source_file, filename, model, language, status, progress_percent, progress_message, error_message, transcript_text, segments_json, srt_path, created_at, updated_at, started_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		sessionID       sql.NullString
		sourceFile      sql.NullString
		filename        sql.NullString
		model           sql.NullString
		languageCode    sql.NullString
		statusStr       string
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		errorMessage    sql.NullString
		transcriptText  sql.NullString
		segmentsJSON    sql.NullString
		srtPath         sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		startedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sessionID,
		&sourceFile,
		&filename,
		&model,
		&languageCode,
		&statusStr,
		&progressPercent,
		&progressMessage,
		&errorMessage,
		&transcriptText,
		&segmentsJSON,
		&srtPath,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		SessionID:       sessionID.String,
		SourceFile:      sourceFile.String,
		Filename:        filename.String,
		Model:           model.String,
		Language:        languageCode.String,
		Status:          Status(statusStr),
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		ErrorMessage:    errorMessage.String,
		TranscriptText:  transcriptText.String,
		SegmentsJSON:    segmentsJSON.String,
		SRTPath:         srtPath.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	return job, nil
}
