package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// SessionRow is one ingest_sessions history entry.
type SessionRow struct {
	ID              int64
	Scope           string
	StartedAt       time.Time
	FinishedAt      *time.Time
	Status          string
	Total           int
	Processed       int
	Successful      int
	Failed          int
	Skipped         int
	TopTier         int
	HighTier        int
	ArchiveTier     int
	DurationSeconds *int64
}

// SessionCounts is the final accounting written when a session reaches a
// terminal state.
type SessionCounts struct {
	Total       int
	Processed   int
	Successful  int
	Failed      int
	Skipped     int
	TopTier     int
	HighTier    int
	ArchiveTier int
}

// CreateSession inserts a new ingest_sessions row in 'running' state and
// returns its ID.
func (s *Store) CreateSession(ctx context.Context, scope string, startedAt time.Time, total int) (int64, error) {
	now := startedAt.Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_sessions (scope, started_at, status, total, created_at)
		VALUES (?, ?, 'running', ?, ?)`,
		scope, now, total, now)
	if err != nil {
		return 0, fmt.Errorf("create session record: %w", err)
	}
	return res.LastInsertId()
}

// FinalizeSession writes the terminal status and final counters for a session.
func (s *Store) FinalizeSession(ctx context.Context, id int64, status string, startedAt time.Time, counts SessionCounts) error {
	finishedAt := time.Now()
	duration := int64(finishedAt.Sub(startedAt).Seconds())
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_sessions
		SET status = ?, finished_at = ?, duration_seconds = ?,
		    total = ?, processed = ?, successful = ?, failed = ?, skipped = ?,
		    top_tier = ?, high_tier = ?, archive_tier = ?
		WHERE id = ?`,
		status, finishedAt.Unix(), duration,
		counts.Total, counts.Processed, counts.Successful, counts.Failed, counts.Skipped,
		counts.TopTier, counts.HighTier, counts.ArchiveTier,
		id)
	if err != nil {
		return fmt.Errorf("finalize session %d: %w", id, err)
	}
	return nil
}

// InsertSessionError records one per-file failure for a session.
func (s *Store) InsertSessionError(ctx context.Context, sessionID int64, filename, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_errors (session_id, filename, message, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, filename, message, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert session error: %w", err)
	}
	return nil
}

// ListSessions returns history rows newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, started_at, finished_at, status,
		       total, processed, successful, failed, skipped,
		       top_tier, high_tier, archive_tier, duration_seconds
		FROM ingest_sessions
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var items []SessionRow
	for rows.Next() {
		var it SessionRow
		var startedAt int64
		var finishedAt, durSecs sql.NullInt64
		if err := rows.Scan(
			&it.ID, &it.Scope, &startedAt, &finishedAt, &it.Status,
			&it.Total, &it.Processed, &it.Successful, &it.Failed, &it.Skipped,
			&it.TopTier, &it.HighTier, &it.ArchiveTier, &durSecs); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		it.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0)
			it.FinishedAt = &t
		}
		if durSecs.Valid {
			it.DurationSeconds = &durSecs.Int64
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SessionErrors returns the ordered error list for one session.
func (s *Store) SessionErrors(ctx context.Context, sessionID int64) ([]struct{ Filename, Message string }, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filename, message FROM ingest_errors
		WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session errors: %w", err)
	}
	defer rows.Close()

	var items []struct{ Filename, Message string }
	for rows.Next() {
		var it struct{ Filename, Message string }
		if err := rows.Scan(&it.Filename, &it.Message); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkStaleSessionsFailed marks any ingest_sessions rows still in 'running'
// state as 'failed'. Called once at startup in case a previous process
// crashed mid-session.
func (s *Store) MarkStaleSessionsFailed(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_sessions
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale sessions failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale sessions as failed", "count", n)
	}
	return nil
}

// PurgeHistory deletes terminal session rows (and their errors, via cascade)
// older than the retention window.
func (s *Store) PurgeHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM ingest_sessions
		WHERE status != 'running' AND started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge session history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
