package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/database"
	"github.com/scribeworks/transcript-engine/internal/ingest"
	"github.com/scribeworks/transcript-engine/internal/storage"
)

// RecordStore is the metadata surface the handlers need. *database.DB
// satisfies it.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *database.TranscriptRecord) (*database.TranscriptRecord, error)
	GetRecord(ctx context.Context, id string) (*database.TranscriptRecord, error)
	ListRecords(ctx context.Context, userEmail string, limit, offset int) ([]*database.TranscriptRecord, error)
	SetAlias(ctx context.Context, id, alias string) error
	DeleteRecord(ctx context.Context, id string) error
	ListResumable(ctx context.Context, userEmail string) ([]*database.TranscriptRecord, error)
}

// MediaHandler accepts media uploads and serves stored media back, including
// the stream endpoint the job runner downloads from when the blob backend
// cannot presign.
type MediaHandler struct {
	intake  *ingest.Service
	blobs   storage.BlobStore
	records RecordStore
	log     zerolog.Logger
}

// NewMediaHandler creates a media handler.
func NewMediaHandler(intake *ingest.Service, blobs storage.BlobStore, records RecordStore, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{
		intake:  intake,
		blobs:   blobs,
		records: records,
		log:     log.With().Str("handler", "media").Logger(),
	}
}

// Routes registers the media endpoints.
func (h *MediaHandler) Routes(r chi.Router) {
	r.Post("/media", h.Upload)
	r.Get("/media/{id}", h.Get)
	r.Get("/media/{id}/stream", h.Stream)
}

// Upload handles POST /api/v1/media: a multipart upload that stores the
// file, creates the metadata record, and submits the transcription job in
// one step.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "empty file")
		return
	}

	owner := r.FormValue("owner")

	rec, _, err := h.intake.Intake(r.Context(), header.Filename, owner, data)
	if err != nil {
		if rec != nil {
			// Media and record exist; only the submission failed.
			h.log.Error().Err(err).Str("record_id", rec.ID).Msg("upload stored but submission failed")
			WriteJSON(w, http.StatusAccepted, map[string]any{
				"record": rec,
				"error":  "stored, but job submission failed",
			})
			return
		}
		h.log.Error().Err(err).Str("filename", header.Filename).Msg("upload failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"record": rec,
		"job_id": rec.JobID,
	})
}

// Get returns the metadata record for one media object.
func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	url, err := h.intake.MediaURL(r.Context(), rec)
	if err != nil {
		h.log.Warn().Err(err).Str("record_id", rec.ID).Msg("media url resolution failed")
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"record":    rec,
		"media_url": url,
	})
}

// Stream serves the raw media bytes.
func (h *MediaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if rec.MediaRef == "" {
		WriteError(w, http.StatusNotFound, "record has no media")
		return
	}

	rd, err := h.blobs.Open(r.Context(), rec.MediaRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "media not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to open media")
		return
	}
	defer rd.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(rec.MediaRef)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, rd); err != nil {
		h.log.Debug().Err(err).Str("record_id", rec.ID).Msg("media stream interrupted")
	}
}

func (h *MediaHandler) lookup(w http.ResponseWriter, r *http.Request) (*database.TranscriptRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, err := h.records.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			WriteError(w, http.StatusNotFound, "record not found")
		} else {
			WriteError(w, http.StatusInternalServerError, "lookup failed")
		}
		return nil, false
	}
	return rec, true
}
