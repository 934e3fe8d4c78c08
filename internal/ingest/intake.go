package ingest

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/database"
	"github.com/scribeworks/transcript-engine/internal/job"
	"github.com/scribeworks/transcript-engine/internal/runner"
	"github.com/scribeworks/transcript-engine/internal/storage"
)

// RecordCreator is the slice of the metadata store the intake needs.
type RecordCreator interface {
	CreateRecord(ctx context.Context, rec *database.TranscriptRecord) (*database.TranscriptRecord, error)
}

// Submitter starts a transcription job for a record.
type Submitter interface {
	Submit(ctx context.Context, rec *database.TranscriptRecord, req runner.SubmitRequest) (*job.Poller, error)
}

// Service turns a local media file into a stored blob, a metadata record,
// and a running transcription job. The HTTP upload path and the inbox
// watcher both funnel through it.
type Service struct {
	blobs   storage.BlobStore
	records RecordCreator
	jobs    Submitter
	owner   string
	baseURL string
	log     zerolog.Logger
}

// NewService creates an intake service. owner is the account email stamped
// on records created from the inbox; baseURL is used to build media URLs for
// backends that cannot presign.
func NewService(blobs storage.BlobStore, records RecordCreator, jobs Submitter, owner, baseURL string, log zerolog.Logger) *Service {
	return &Service{
		blobs:   blobs,
		records: records,
		jobs:    jobs,
		owner:   owner,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("component", "intake").Logger(),
	}
}

// IntakeFile ingests one file from disk: store the blob, create the record,
// submit the job.
func (s *Service) IntakeFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)
	rec, _, err := s.Intake(ctx, name, s.owner, data)
	if err != nil {
		return err
	}
	s.log.Info().Str("path", path).Str("record_id", rec.ID).Str("job_id", rec.JobID).
		Msg("inbox file submitted")
	return nil
}

// Intake stores media bytes, creates the metadata record and submits the
// transcription job. The returned poller tracks the job.
func (s *Service) Intake(ctx context.Context, filename, owner string, data []byte) (*database.TranscriptRecord, *job.Poller, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	key := "media/" + uuid.NewString() + ext

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.blobs.Save(ctx, key, data, contentType); err != nil {
		return nil, nil, fmt.Errorf("store media: %w", err)
	}

	rec, err := s.records.CreateRecord(ctx, &database.TranscriptRecord{
		UserEmail:     owner,
		Alias:         aliasFor(filename),
		MediaRef:      key,
		MediaKind:     mediaKindFor(ext),
		FileSizeBytes: int64(len(data)),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create record: %w", err)
	}

	mediaURL, err := s.MediaURL(ctx, rec)
	if err != nil {
		return rec, nil, err
	}

	p, err := s.jobs.Submit(ctx, rec, runner.SubmitRequest{
		UserEmail: owner,
		MediaURL:  mediaURL,
		Diarize:   true,
	})
	if err != nil {
		return rec, nil, err
	}
	return rec, p, nil
}

// MediaURL resolves the URL the job runner downloads the media from: a
// presigned URL when the backend supports it, the engine's own stream
// endpoint otherwise.
func (s *Service) MediaURL(ctx context.Context, rec *database.TranscriptRecord) (string, error) {
	u, err := s.blobs.URL(ctx, rec.MediaRef)
	if err != nil {
		return "", fmt.Errorf("presign media: %w", err)
	}
	if u != "" {
		return u, nil
	}
	return s.baseURL + "/api/v1/media/" + rec.ID + "/stream", nil
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".webm": true,
}

func mediaKindFor(ext string) string {
	if videoExtensions[ext] {
		return "video"
	}
	return "audio"
}

func aliasFor(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}
