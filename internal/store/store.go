package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// PhotoRecord is the durable result of ingesting one candidate. Records are
// written once by the pipeline and never mutated by it afterwards.
type PhotoRecord struct {
	ID           string
	Scope        string
	Fingerprint  string
	BlobLocator  string
	ThumbLocator string
	Filename     string
	Width        int
	Height       int
	Orientation  string
	TakenAt      *time.Time
	OverallScore float64
	Scores       map[string]float64
	Description  string
	Tier         string
	Status       string
	CreatedAt    time.Time
}

// Store is the persistence collaborator: photo records in SQLite, image
// blobs as uuid-named files under mediaDir, scoped per user.
type Store struct {
	db       *sql.DB
	mediaDir string
}

// New creates a Store writing blobs beneath mediaDir.
func New(db *sql.DB, mediaDir string) *Store {
	return &Store{db: db, mediaDir: mediaDir}
}

// PutBlob stores data under a fresh uuid-based locator within scope and
// returns the locator. ext should include the leading dot.
func (s *Store) PutBlob(ctx context.Context, scope string, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Join(s.mediaDir, scope)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir %q: %w", dir, err)
	}
	locator := filepath.Join(scope, uuid.NewString()+ext)
	if err := os.WriteFile(filepath.Join(s.mediaDir, locator), data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %q: %w", locator, err)
	}
	return locator, nil
}

// ReadBlob returns the bytes previously stored under locator.
func (s *Store) ReadBlob(locator string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.mediaDir, locator))
}

// QueryByFingerprint returns the record matching (scope, fingerprint), or
// nil when none exists. Read-only; both the scan pass and the pre-upload
// duplicate gate go through here.
func (s *Store) QueryByFingerprint(ctx context.Context, scope, fingerprint string) (*PhotoRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scope, fingerprint, blob_locator, thumb_locator, filename,
		       width, height, orientation, taken_at,
		       overall_score, scores, description, tier, status, created_at
		FROM photos
		WHERE scope = ? AND fingerprint = ?`,
		scope, fingerprint)

	rec, err := scanPhoto(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query fingerprint %s: %w", fingerprint[:8], err)
	}
	return rec, nil
}

// InsertRecord persists a new photo record. The record's ID is assigned here
// when empty.
func (s *Store) InsertRecord(ctx context.Context, rec *PhotoRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = "active"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	scores, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	var takenAt any
	if rec.TakenAt != nil {
		takenAt = rec.TakenAt.Unix()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO photos
			(id, scope, fingerprint, blob_locator, thumb_locator, filename,
			 width, height, orientation, taken_at,
			 overall_score, scores, description, tier, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Scope, rec.Fingerprint, rec.BlobLocator, rec.ThumbLocator, rec.Filename,
		rec.Width, rec.Height, rec.Orientation, takenAt,
		rec.OverallScore, string(scores), rec.Description, rec.Tier, rec.Status,
		rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert photo %s: %w", rec.Filename, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*PhotoRecord, error) {
	var rec PhotoRecord
	var takenAt sql.NullInt64
	var scores string
	var createdAt int64
	err := row.Scan(
		&rec.ID, &rec.Scope, &rec.Fingerprint, &rec.BlobLocator, &rec.ThumbLocator, &rec.Filename,
		&rec.Width, &rec.Height, &rec.Orientation, &takenAt,
		&rec.OverallScore, &scores, &rec.Description, &rec.Tier, &rec.Status, &createdAt)
	if err != nil {
		return nil, err
	}
	if takenAt.Valid {
		t := time.Unix(takenAt.Int64, 0)
		rec.TakenAt = &t
	}
	if scores != "" {
		_ = json.Unmarshal([]byte(scores), &rec.Scores)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}
