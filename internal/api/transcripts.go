package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/database"
	"github.com/scribeworks/transcript-engine/internal/docstore"
	"github.com/scribeworks/transcript-engine/internal/editor"
	"github.com/scribeworks/transcript-engine/internal/ingest"
	"github.com/scribeworks/transcript-engine/internal/job"
	"github.com/scribeworks/transcript-engine/internal/runner"
)

// TranscriptsHandler serves the metadata records and their job/document
// lifecycle: listing, submission, status, resume, delete.
type TranscriptsHandler struct {
	records   RecordStore
	manager   *job.Manager
	docs      job.DocumentStore
	sessions  *editor.Registry
	intake    *ingest.Service
	authToken string
	log       zerolog.Logger
}

// NewTranscriptsHandler creates the transcripts handler. authToken gates the
// destructive routes: deletion refuses to run when no token is configured.
func NewTranscriptsHandler(records RecordStore, manager *job.Manager, docs job.DocumentStore, sessions *editor.Registry, intake *ingest.Service, authToken string, log zerolog.Logger) *TranscriptsHandler {
	return &TranscriptsHandler{
		records:   records,
		manager:   manager,
		docs:      docs,
		sessions:  sessions,
		intake:    intake,
		authToken: authToken,
		log:       log.With().Str("handler", "transcripts").Logger(),
	}
}

// Routes registers the transcript record endpoints.
func (h *TranscriptsHandler) Routes(r chi.Router) {
	r.Post("/transcripts", h.Submit)
	r.Get("/transcripts", h.List)
	r.Get("/transcripts/{id}", h.Get)
	r.Get("/transcripts/{id}/document", h.GetDocument)
	r.Patch("/transcripts/{id}", h.Rename)
	r.With(RequireAuth(h.authToken)).Delete("/transcripts/{id}", h.Delete)
	r.Post("/transcripts/{id}/resume", h.Resume)
}

// transcriptView is the record plus its live job and save state.
type transcriptView struct {
	*database.TranscriptRecord
	JobState  string `json:"job_state,omitempty"`
	SaveState string `json:"save_state,omitempty"`
}

func (h *TranscriptsHandler) view(rec *database.TranscriptRecord) transcriptView {
	v := transcriptView{TranscriptRecord: rec}
	if p, ok := h.manager.Get(rec.ID); ok {
		v.JobState = string(p.State())
	}
	if sess, ok := h.sessions.Get(rec.ID); ok {
		v.SaveState = string(sess.Buffer.SaveState())
	}
	return v
}

// Submit starts a transcription job for a stored record.
func (h *TranscriptsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecordID string `json:"record_id"`
		Language string `json:"language"`
		Diarize  *bool  `json:"diarize"`
	}
	if err := DecodeJSON(r, &body); err != nil || body.RecordID == "" {
		WriteError(w, http.StatusBadRequest, "record_id is required")
		return
	}

	rec, err := h.records.GetRecord(r.Context(), body.RecordID)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			WriteError(w, http.StatusNotFound, "record not found")
		} else {
			WriteError(w, http.StatusInternalServerError, "lookup failed")
		}
		return
	}
	if rec.DocumentID != "" {
		WriteError(w, http.StatusConflict, "transcript already completed")
		return
	}
	if _, live := h.manager.Get(rec.ID); live {
		WriteError(w, http.StatusConflict, "job is already being polled")
		return
	}
	if rec.MediaRef == "" {
		WriteError(w, http.StatusConflict, "record has no stored media")
		return
	}

	mediaURL, err := h.intake.MediaURL(r.Context(), rec)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to resolve media url")
		return
	}

	diarize := true
	if body.Diarize != nil {
		diarize = *body.Diarize
	}
	p, err := h.manager.Submit(r.Context(), rec, runner.SubmitRequest{
		UserEmail: rec.UserEmail,
		MediaURL:  mediaURL,
		Language:  body.Language,
		Diarize:   diarize,
	})
	if err != nil {
		WriteErrorDetail(w, http.StatusBadGateway, "job submission failed", err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"record_id": rec.ID,
		"job_id":    p.JobID(),
		"job_state": string(p.State()),
	})
}

// List returns records, optionally filtered by owner email.
func (h *TranscriptsHandler) List(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	user, _ := QueryString(r, "user")

	recs, err := h.records.ListRecords(r.Context(), user, p.Limit, p.Offset)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}

	views := make([]transcriptView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, h.view(rec))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"transcripts": views,
		"total":       len(views),
		"limit":       p.Limit,
		"offset":      p.Offset,
	})
}

// Get returns one record with its live states.
func (h *TranscriptsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.view(rec))
}

// GetDocument returns the stored transcript document.
func (h *TranscriptsHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if rec.DocumentID == "" {
		WriteError(w, http.StatusNotFound, "transcript has no document yet")
		return
	}

	doc, err := h.docs.Read(r.Context(), rec.DocumentID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "document not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to read document")
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// Rename updates the record's alias.
func (h *TranscriptsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var body struct {
		Alias string `json:"alias"`
	}
	if err := DecodeJSON(r, &body); err != nil || body.Alias == "" {
		WriteError(w, http.StatusBadRequest, "alias is required")
		return
	}

	if err := h.records.SetAlias(r.Context(), rec.ID, body.Alias); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to rename")
		return
	}
	rec.Alias = body.Alias
	WriteJSON(w, http.StatusOK, h.view(rec))
}

// Delete removes the record and closes any open session. Document and media
// blobs are left for out-of-band cleanup.
func (h *TranscriptsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	h.sessions.Remove(rec.ID)
	if p, live := h.manager.Get(rec.ID); live {
		p.Stop()
	}

	if err := h.records.DeleteRecord(r.Context(), rec.ID); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to delete")
		return
	}
	h.log.Info().Str("record_id", rec.ID).Msg("transcript deleted")
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": rec.ID})
}

// Resume restarts polling for a record whose job never reached a terminal
// state, e.g. after a process restart.
func (h *TranscriptsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if rec.DocumentID != "" {
		WriteError(w, http.StatusConflict, "transcript already completed")
		return
	}
	if _, live := h.manager.Get(rec.ID); live {
		WriteError(w, http.StatusConflict, "job is already being polled")
		return
	}

	p, err := h.manager.Resume(rec)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"record_id": rec.ID,
		"job_id":    rec.JobID,
		"job_state": string(p.State()),
	})
}

func (h *TranscriptsHandler) lookup(w http.ResponseWriter, r *http.Request) (*database.TranscriptRecord, bool) {
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
