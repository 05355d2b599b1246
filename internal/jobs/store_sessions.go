package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scribe/internal/services"
)

// CreateSession persists a new upload session record.
func (s *Store) CreateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.LastActivity = now

	_, err := s.execWithRetry(
		ensureContext(ctx),
		`INSERT INTO upload_sessions (
            id, filename, total_size, chunk_size, total_chunks,
            model, language, owner, part_path, created_at, last_activity
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Filename,
		session.TotalSize,
		session.ChunkSize,
		session.TotalChunks,
		nullableString(session.Model),
		nullableString(session.Language),
		nullableString(session.Owner),
		session.PartPath,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession fetches an upload session by identifier.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE id = ?`,
		id,
	)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "upload", "get session", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// RecordChunk marks a chunk index as received and refreshes session activity.
// Re-recording an index overwrites in place, so client retries never double
// count toward completeness.
func (s *Store) RecordChunk(ctx context.Context, sessionID string, index int, size int64) error {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now())

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO upload_chunks (session_id, chunk_index, size, written_at)
             VALUES (?, ?, ?, ?)
             ON CONFLICT(session_id, chunk_index) DO UPDATE SET size = excluded.size, written_at = excluded.written_at`,
			sessionID, index, size, now,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE upload_sessions SET last_activity = ? WHERE id = ?`,
			now, sessionID,
		); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// ReceivedChunks returns the count of distinct chunk indices recorded for a session.
func (s *Store) ReceivedChunks(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM upload_chunks WHERE session_id = ?`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// ConsumeSession atomically claims and deletes a session. Exactly one caller
// observes ok=true for a given session; concurrent finalize attempts lose the
// race and see ok=false.
func (s *Store) ConsumeSession(ctx context.Context, id string) (*Session, bool, error) {
	ctx = ensureContext(ctx)

	var (
		session *Session
		claimed bool
	)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = ?`, id)
		sess, err := scanSession(row)
		if errors.Is(err, sql.ErrNoRows) {
			session = nil
			claimed = false
			return nil
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM upload_sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			session = nil
			claimed = false
			return nil
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		session = sess
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("consume session: %w", err)
	}
	return session, claimed, nil
}

// DeleteSession removes a session record and its chunk accounting.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.execWithRetry(ensureContext(ctx), `DELETE FROM upload_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ExpiredSessions returns sessions with no chunk activity since cutoff.
func (s *Store) ExpiredSessions(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE last_activity < ? ORDER BY last_activity`,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

const sessionColumns = "id, filename, total_size, chunk_size, total_chunks, model, language, owner, part_path, created_at, last_activity"

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id          string
		filename    string
		totalSize   int64
		chunkSize   int64
		totalChunks int
		model       sql.NullString
		lang        sql.NullString
		owner       sql.NullString
		partPath    string
		createdRaw  sql.NullString
		activityRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&filename,
		&totalSize,
		&chunkSize,
		&totalChunks,
		&model,
		&lang,
		&owner,
		&partPath,
		&createdRaw,
		&activityRaw,
	); err != nil {
		return nil, err
	}

	session := &Session{
		ID:          id,
		Filename:    filename,
		TotalSize:   totalSize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Model:       model.String,
		Language:    lang.String,
		Owner:       owner.String,
		PartPath:    partPath,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		session.CreatedAt = created
	}
	if activity, err := parseTimeString(activityRaw.String); err == nil {
		session.LastActivity = activity
	}
	return session, nil
}
