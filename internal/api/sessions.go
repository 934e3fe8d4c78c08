package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/database"
	"github.com/scribeworks/transcript-engine/internal/editor"
	"github.com/scribeworks/transcript-engine/internal/job"
	"github.com/scribeworks/transcript-engine/internal/segment"
)

// SessionsHandler exposes the edit surface: a session per transcript, with
// speaker renames, word edits, bulk replacement, save-state retry, and
// exports. Session ids equal record ids.
type SessionsHandler struct {
	records  RecordStore
	manager  *job.Manager
	sessions *editor.Registry
	log      zerolog.Logger
}

// NewSessionsHandler creates the sessions handler.
func NewSessionsHandler(records RecordStore, manager *job.Manager, sessions *editor.Registry, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		records:  records,
		manager:  manager,
		sessions: sessions,
		log:      log.With().Str("handler", "sessions").Logger(),
	}
}

// Routes registers the session endpoints.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Get("/sessions/{id}", h.Get)
	r.Put("/sessions/{id}/speaker", h.RenameSpeaker)
	r.Put("/sessions/{id}/word", h.EditWord)
	r.Put("/sessions/{id}/segments", h.ReplaceSegments)
	r.Post("/sessions/{id}/retry", h.Retry)
	r.Delete("/sessions/{id}", h.Close)
	r.Get("/sessions/{id}/export", h.Export)
}

type sessionView struct {
	ID         string            `json:"id"`
	RecordID   string            `json:"record_id"`
	DocumentID string            `json:"document_id"`
	SaveState  string            `json:"save_state"`
	Segments   []segment.Segment `json:"segments"`
}

func viewOf(sess *editor.Session) sessionView {
	return sessionView{
		ID:         sess.ID,
		RecordID:   sess.RecordID,
		DocumentID: sess.DocumentID,
		SaveState:  string(sess.Buffer.SaveState()),
		Segments:   sess.Buffer.Segments(),
	}
}

// Get returns the session, opening it from the stored document if needed.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.open(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(sess))
}

// RenameSpeaker applies one speaker label to every segment carrying another.
func (h *SessionsHandler) RenameSpeaker(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.open(w, r)
	if !ok {
		return
	}

	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := DecodeJSON(r, &body); err != nil || body.From == "" || body.To == "" {
		WriteError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	changed := sess.Buffer.RenameSpeaker(body.From, body.To)
	WriteJSON(w, http.StatusOK, map[string]any{
		"changed":    changed,
		"save_state": string(sess.Buffer.SaveState()),
	})
}

// EditWord replaces a single word inside one segment's text.
func (h *SessionsHandler) EditWord(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.open(w, r)
	if !ok {
		return
	}

	var body struct {
		Segment *int   `json:"segment"`
		Word    *int   `json:"word"`
		Value   string `json:"value"`
	}
	if err := DecodeJSON(r, &body); err != nil || body.Segment == nil || body.Word == nil {
		WriteError(w, http.StatusBadRequest, "segment and word indexes are required")
		return
	}

	applied := sess.Buffer.EditWord(*body.Segment, *body.Word, body.Value)
	if !applied {
		WriteError(w, http.StatusUnprocessableEntity, "segment index out of range")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"applied":    true,
		"save_state": string(sess.Buffer.SaveState()),
	})
}

// ReplaceSegments swaps in a whole new segment sequence.
func (h *SessionsHandler) ReplaceSegments(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.open(w, r)
	if !ok {
		return
	}

	var segs []segment.Segment
	if err := DecodeJSON(r, &segs); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid segment list")
		return
	}

	sess.Buffer.ReplaceAll(segs)
	WriteJSON(w, http.StatusOK, map[string]any{
		"segments":   len(segs),
		"save_state": string(sess.Buffer.SaveState()),
	})
}

// Retry re-attempts the last failed save.
func (h *SessionsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.open(w, r)
	if !ok {
		return
	}
	sess.Scheduler.Retry()
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"save_state": string(sess.Buffer.SaveState()),
	})
}

// Close shuts the session down. Pending unsaved edits are dropped.
func (h *SessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.sessions.Get(id); !ok {
		WriteError(w, http.StatusNotFound, "session not open")
		return
	}
	h.sessions.Remove(id)
	WriteJSON(w, http.StatusOK, map[string]any{"closed": id})
}

// Export renders the transcript as CSV or as a combined JSON object holding
// both the original and the edited sequences.
func (h *SessionsHandler) Export(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.open(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		w.Header().Set("Content-Disposition", `attachment; filename="transcript-`+sess.ID+`.json"`)
		WriteJSON(w, http.StatusOK, map[string]any{
			"record_id":           sess.RecordID,
			"original_transcript": sess.Original,
			"edited_transcript":   sess.Buffer.Segments(),
		})

	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="transcript-`+sess.ID+`.csv"`)
		// BOM so spreadsheet apps detect UTF-8.
		w.Write([]byte{0xEF, 0xBB, 0xBF})
		cw := csv.NewWriter(w)
		cw.Write([]string{"speaker", "start", "end", "text"})
		for _, seg := range sess.Buffer.Segments() {
			cw.Write([]string{
				seg.Speaker,
				clockTime(seg.Start),
				clockTime(seg.End),
				seg.Text,
			})
		}
		cw.Flush()

	default:
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
	}
}

// clockTime renders seconds as HH:MM:SS.
func clockTime(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}

// open resolves {id} to an open session, loading it from the stored
// document on first access.
func (h *SessionsHandler) open(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	id := chi.URLParam(r, "id")
	if sess, ok := h.sessions.Get(id); ok {
		return sess, true
	}

	rec, err := h.records.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			WriteError(w, http.StatusNotFound, "record not found")
		} else {
			WriteError(w, http.StatusInternalServerError, "lookup failed")
		}
		return nil, false
	}

	sess, err := h.manager.Open(r.Context(), rec)
	if err != nil {
		WriteError(w, http.StatusConflict, "transcript is not ready for editing")
		return nil, false
	}
	return sess, true
}
