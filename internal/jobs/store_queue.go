package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Enqueue appends a durable queue entry for a job. A job has at most one
// outstanding entry; enqueueing an already-queued job is a no-op.
func (s *Store) Enqueue(ctx context.Context, jobID int64) error {
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`INSERT INTO queue_entries (job_id, enqueued_at, attempts)
         VALUES (?, ?, 0)
         ON CONFLICT(job_id) DO NOTHING`,
		jobID,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Claim leases the next available queue entry for workerID. An entry is
// available when it has never been claimed or when its previous lease has
// expired, so a crashed worker's job becomes claimable again without manual
// intervention. Returns (nil, nil, nil) when no work is available.
//
// The delivery attempt count is incremented on every claim; enforcing the
// bounded-redelivery policy from that count is the caller's concern.
func (s *Store) Claim(ctx context.Context, workerID string, lease time.Duration) (*Job, *QueueEntry, error) {
	ctx = ensureContext(ctx)
	now := time.Now()

	var (
		jobID    int64
		attempts int
	)

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(
			ctx,
			`SELECT job_id, attempts FROM queue_entries
             WHERE claimed_by IS NULL OR lease_expires IS NULL OR lease_expires < ?
             ORDER BY enqueued_at, job_id LIMIT 1`,
			formatTime(now),
		)
		if err := row.Scan(&jobID, &attempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				jobID = 0
				return nil
			}
			return err
		}

		expires := formatTime(now.Add(lease))
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE queue_entries
             SET claimed_by = ?, lease_expires = ?, attempts = attempts + 1
             WHERE job_id = ?`,
			workerID, expires, jobID,
		); err != nil {
			return err
		}
		attempts++

		return tx.Commit()
	})
	if err != nil {
		return nil, nil, fmt.Errorf("claim queue entry: %w", err)
	}
	if jobID == 0 {
		return nil, nil, nil
	}

	job, err := s.GetByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	entry, err := s.Entry(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		entry = &QueueEntry{JobID: jobID, Attempts: attempts, ClaimedBy: workerID}
	}
	return job, entry, nil
}

// Ack confirms successful handling of a claimed entry, permanently removing
// it. Only the claiming worker may ack.
func (s *Store) Ack(ctx context.Context, workerID string, jobID int64) error {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`DELETE FROM queue_entries WHERE job_id = ? AND claimed_by = ?`,
		jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("ack queue entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("ack queue entry: job %d not claimed by %s", jobID, workerID)
	}
	return nil
}

// Nack releases a lease early so another delivery can begin before the lease
// would have expired on its own.
func (s *Store) Nack(ctx context.Context, workerID string, jobID int64) error {
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE queue_entries SET claimed_by = NULL, lease_expires = NULL
         WHERE job_id = ? AND claimed_by = ?`,
		jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("nack queue entry: %w", err)
	}
	return nil
}

// ExtendLease pushes the lease deadline forward for an in-flight claim.
// Returns false when the claim is no longer held by workerID.
func (s *Store) ExtendLease(ctx context.Context, workerID string, jobID int64, lease time.Duration) (bool, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE queue_entries SET lease_expires = ?
         WHERE job_id = ? AND claimed_by = ?`,
		formatTime(time.Now().Add(lease)),
		jobID, workerID,
	)
	if err != nil {
		return false, fmt.Errorf("extend lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RemoveEntry discards a queue entry regardless of claim state. Used when a
// job is cancelled or force-failed outside the claiming worker.
func (s *Store) RemoveEntry(ctx context.Context, jobID int64) error {
	_, err := s.execWithRetry(ensureContext(ctx), `DELETE FROM queue_entries WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	return nil
}

// Entry returns the outstanding queue entry for a job, or nil when none exists.
func (s *Store) Entry(ctx context.Context, jobID int64) (*QueueEntry, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT job_id, enqueued_at, attempts, claimed_by, lease_expires
         FROM queue_entries WHERE job_id = ?`,
		jobID,
	)

	var (
		id          int64
		enqueuedRaw sql.NullString
		attempts    int
		claimedBy   sql.NullString
		leaseRaw    sql.NullString
	)
	if err := row.Scan(&id, &enqueuedRaw, &attempts, &claimedBy, &leaseRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get queue entry: %w", err)
	}

	entry := &QueueEntry{JobID: id, Attempts: attempts, ClaimedBy: claimedBy.String}
	if enqueued, err := parseTimeString(enqueuedRaw.String); err == nil {
		entry.EnqueuedAt = enqueued
	}
	if leaseRaw.Valid {
		if lease, err := parseTimeString(leaseRaw.String); err == nil {
			entry.LeaseExpires = &lease
		}
	}
	return entry, nil
}
