package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrRecordNotFound is returned when a transcript record id is unknown.
var ErrRecordNotFound = errors.New("transcript record not found")

// TranscriptRecord is the metadata row associating a logical transcription
// with its external handles: the runner's job id, the stored document id,
// and the media blob reference. The segments themselves never live here;
// they belong to the document store.
type TranscriptRecord struct {
	ID            string     `json:"id"`
	UserEmail     string     `json:"user_email"`
	Alias         string     `json:"alias"`
	MediaRef      string     `json:"media_ref,omitempty"`
	MediaKind     string     `json:"media_kind"`
	JobID         string     `json:"job_id,omitempty"`
	DocumentID    string     `json:"document_id,omitempty"`
	FileSizeBytes int64      `json:"file_size_bytes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const recordColumns = `id, user_email, alias, media_ref, media_kind, job_id, document_id, file_size_bytes, created_at, updated_at`

// EnsureSchema creates the transcripts table if it does not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transcripts (
			id UUID PRIMARY KEY,
			user_email TEXT NOT NULL,
			alias TEXT NOT NULL DEFAULT '',
			media_ref TEXT NOT NULL DEFAULT '',
			media_kind TEXT NOT NULL DEFAULT 'audio',
			job_id TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			file_size_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_transcripts_user_email ON transcripts (user_email, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateRecord inserts a new transcript record and returns it with its
// assigned id and timestamps.
func (db *DB) CreateRecord(ctx context.Context, rec *TranscriptRecord) (*TranscriptRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MediaKind == "" {
		rec.MediaKind = "audio"
	}

	row := db.Pool.QueryRow(ctx, `
		INSERT INTO transcripts (id, user_email, alias, media_ref, media_kind, file_size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+recordColumns,
		rec.ID, rec.UserEmail, rec.Alias, rec.MediaRef, rec.MediaKind, rec.FileSizeBytes,
	)
	created, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return created, nil
}

// GetRecord fetches one record by id.
func (db *DB) GetRecord(ctx context.Context, id string) (*TranscriptRecord, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM transcripts WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// ListRecords returns records newest first. An empty userEmail matches
// every owner.
func (db *DB) ListRecords(ctx context.Context, userEmail string, limit, offset int) ([]*TranscriptRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recordColumns+` FROM transcripts
		WHERE ($1 = '' OR user_email = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userEmail, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var recs []*TranscriptRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SetJobID stores the runner's job handle as soon as it is known, so an
// interrupted session can resume polling later.
func (db *DB) SetJobID(ctx context.Context, id, jobID string) error {
	return db.updateField(ctx, id, "job_id", jobID)
}

// SetDocumentID stores the document-store id assigned at first write.
func (db *DB) SetDocumentID(ctx context.Context, id, documentID string) error {
	return db.updateField(ctx, id, "document_id", documentID)
}

// SetAlias renames a record.
func (db *DB) SetAlias(ctx context.Context, id, alias string) error {
	return db.updateField(ctx, id, "alias", alias)
}

func (db *DB) updateField(ctx context.Context, id, column, value string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE transcripts SET `+column+` = $2, updated_at = now() WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteRecord removes a record. The document and media blobs are owned by
// the stores and are not touched here.
func (db *DB) DeleteRecord(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM transcripts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListResumable returns records holding a job handle but no document yet,
// jobs whose polling was interrupted before completion. An empty userEmail
// matches every owner.
func (db *DB) ListResumable(ctx context.Context, userEmail string) ([]*TranscriptRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recordColumns+` FROM transcripts
		WHERE ($1 = '' OR user_email = $1) AND job_id <> '' AND document_id = ''
		ORDER BY created_at DESC
	`, userEmail)
	if err != nil {
		return nil, fmt.Errorf("list resumable: %w", err)
	}
	defer rows.Close()

	var recs []*TranscriptRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRecord(row pgx.Row) (*TranscriptRecord, error) {
	var rec TranscriptRecord
	err := row.Scan(
		&rec.ID, &rec.UserEmail, &rec.Alias, &rec.MediaRef, &rec.MediaKind,
		&rec.JobID, &rec.DocumentID, &rec.FileSizeBytes, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
