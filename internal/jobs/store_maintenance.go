package jobs

import (
	"context"
	"fmt"
	"time"

	"scribe/internal/services"
)

// MaxAttempts reports the configured redelivery ceiling for queue entries.
func (s *Store) MaxAttempts() int {
	return s.maxAttempts
}

// Stats returns job counts keyed by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT status, COUNT(1) FROM jobs GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, err
		}
		status, ok := ParseStatus(raw)
		if !ok {
			continue
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health summarizes queue state for the status endpoint and CLI.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}

	summary := HealthSummary{}
	for status, count := range stats {
		summary.Total += count
		switch {
		case status == StatusQueued:
			summary.Queued += count
		case status == StatusProcessing || status == StatusEnriching:
			summary.Processing += count
		case status == StatusCompleted:
			summary.Completed += count
		case status.IsFailure():
			summary.Failed += count
		}
	}
	return summary, nil
}

// SweepTerminal deletes terminal jobs last updated before cutoff and returns
// the deleted rows so the caller can remove their artifacts on disk.
func (s *Store) SweepTerminal(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	ctx = ensureContext(ctx)

	statuses := make([]Status, 0, len(terminalStatuses))
	for status := range terminalStatuses {
		statuses = append(statuses, status)
	}
	placeholders := makePlaceholders(len(statuses))

	args := append(statusArgs(statuses), formatTime(cutoff))
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (`+placeholders+`) AND updated_at < ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query sweep candidates: %w", err)
	}
	defer rows.Close()

	var swept []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		swept = append(swept, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, job := range swept {
		if _, err := s.Remove(ctx, job.ID); err != nil {
			return nil, fmt.Errorf("sweep job %d: %w", job.ID, err)
		}
	}
	return swept, nil
}

// RetryFailed resets a failed job back to queued and enqueues it with a fresh
// attempt budget. Terminal failure states are otherwise final, so this is an
// administrative compare-and-set of its own rather than a Transition call:
// it alone may leave a failed status, and only for queued.
func (s *Store) RetryFailed(ctx context.Context, id int64) (*Job, error) {
	ctx = ensureContext(ctx)

	failures := FailureStatuses()
	placeholders := makePlaceholders(len(failures))
	now := formatTime(time.Now())

	args := []any{StatusQueued, nullableString("waiting for a worker"), now, id}
	args = append(args, statusArgs(failures)...)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
		 SET status = ?, progress_percent = 0, progress_message = ?,
		     error_message = NULL, started_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
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
		return nil, services.Wrap(services.ErrStaleTransition, "jobs", "retry",
			fmt.Sprintf("job %d is %s, expected a failure status", id, current.Status), nil)
	}

	if _, err := s.execWithRetry(ctx, `DELETE FROM queue_entries WHERE job_id = ?`, id); err != nil {
		return nil, fmt.Errorf("clear stale queue entry: %w", err)
	}
	if err := s.Enqueue(ctx, id); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// OverdueProcessing returns active jobs whose processing started before cutoff.
// The watchdog uses this to fail jobs whose worker died or wedged.
func (s *Store) OverdueProcessing(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	placeholders := makePlaceholders(len(ActiveStatuses))
	args := append(statusArgs(ActiveStatuses), formatTime(cutoff))

	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs
         WHERE status IN (`+placeholders+`) AND started_at IS NOT NULL AND started_at < ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query overdue jobs: %w", err)
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
