package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/database"
	"github.com/scribeworks/transcript-engine/internal/editor"
	"github.com/scribeworks/transcript-engine/internal/events"
	"github.com/scribeworks/transcript-engine/internal/ingest"
	"github.com/scribeworks/transcript-engine/internal/job"
	"github.com/scribeworks/transcript-engine/internal/runner"
	"github.com/scribeworks/transcript-engine/internal/storage"
)

// stubRunner accepts every submission and reports jobs as forever running.
type stubRunner struct{}

func (stubRunner) Submit(context.Context, runner.SubmitRequest) (string, error) {
	return "job-9", nil
}

func (stubRunner) Status(context.Context, string) (*runner.StatusResponse, error) {
	return &runner.StatusResponse{Status: runner.StatusRunning}, nil
}

func (f *fakeRecordStore) SetJobID(_ context.Context, id, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id]; ok {
		rec.JobID = jobID
	}
	return nil
}

func (f *fakeRecordStore) SetDocumentID(_ context.Context, id, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id]; ok {
		rec.DocumentID = documentID
	}
	return nil
}

func newTranscriptsEnv(t *testing.T) *sessionsEnv {
	return newTranscriptsEnvToken(t, "test-token")
}

func newTranscriptsEnvToken(t *testing.T, authToken string) *sessionsEnv {
	t.Helper()

	records := newFakeRecordStore()
	docs := newMemDocStore()
	registry := editor.NewRegistry()
	bus := events.NewBus(16)

	manager := job.NewManager(job.ManagerOptions{
		Runner:       stubRunner{},
		Meta:         records,
		Docs:         docs,
		Sessions:     registry,
		Bus:          bus,
		PollInterval: 10 * time.Millisecond,
		SyncDebounce: 100 * time.Millisecond,
		Log:          zerolog.Nop(),
	})
	t.Cleanup(manager.Shutdown)

	blobs := storage.NewLocalStore(t.TempDir())
	intake := ingest.NewService(blobs, records, manager, "inbox@example.com", "http://localhost:8080", zerolog.Nop())

	handler := NewTranscriptsHandler(records, manager, docs, registry, intake, authToken, zerolog.Nop())
	router := chi.NewRouter()
	router.Route("/", handler.Routes)

	return &sessionsEnv{records: records, docs: docs, router: router}
}

func TestTranscripts_Submit(t *testing.T) {
	env := newTranscriptsEnv(t)
	env.records.CreateRecord(context.Background(), &database.TranscriptRecord{
		ID:        "rec-1",
		UserEmail: "user@example.com",
		MediaRef:  "media/rec-1.mp3",
		MediaKind: "audio",
	})

	t.Run("accepted", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/transcripts", `{"record_id":"rec-1"}`)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			JobID    string `json:"job_id"`
			JobState string `json:"job_state"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.JobID != "job-9" {
			t.Errorf("job_id = %q", resp.JobID)
		}
		if resp.JobState != string(job.StateQueued) && resp.JobState != string(job.StateRunning) {
			t.Errorf("job_state = %q, want QUEUED or RUNNING", resp.JobState)
		}
	})

	t.Run("already_polling", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/transcripts", `{"record_id":"rec-1"}`)
		if rr.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rr.Code)
		}
	})

	t.Run("unknown_record", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/transcripts", `{"record_id":"nope"}`)
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("no_media", func(t *testing.T) {
		env.records.CreateRecord(context.Background(), &database.TranscriptRecord{
			ID:        "rec-2",
			UserEmail: "user@example.com",
		})
		rr := env.do(http.MethodPost, "/transcripts", `{"record_id":"rec-2"}`)
		if rr.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rr.Code)
		}
	})

	t.Run("already_completed", func(t *testing.T) {
		env.records.CreateRecord(context.Background(), &database.TranscriptRecord{
			ID:         "rec-3",
			UserEmail:  "user@example.com",
			MediaRef:   "media/rec-3.mp3",
			DocumentID: "doc-9",
		})
		rr := env.do(http.MethodPost, "/transcripts", `{"record_id":"rec-3"}`)
		if rr.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rr.Code)
		}
	})
}

func TestTranscripts_List(t *testing.T) {
	env := newTranscriptsEnv(t)
	env.records.CreateRecord(context.Background(), &database.TranscriptRecord{
		ID: "rec-1", UserEmail: "alice@example.com",
	})
	env.records.CreateRecord(context.Background(), &database.TranscriptRecord{
		ID: "rec-2", UserEmail: "bob@example.com",
	})

	listTotal := func(t *testing.T, path string) int {
		t.Helper()
		rr := env.do(http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Total int `json:"total"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return resp.Total
	}

	t.Run("unfiltered_returns_all_owners", func(t *testing.T) {
		if got := listTotal(t, "/transcripts"); got != 2 {
			t.Errorf("total = %d, want 2", got)
		}
	})

	t.Run("user_filter", func(t *testing.T) {
		if got := listTotal(t, "/transcripts?user=alice@example.com"); got != 1 {
			t.Errorf("total = %d, want 1", got)
		}
	})
}

func TestTranscripts_Resume(t *testing.T) {
	env := newTranscriptsEnv(t)
	env.records.CreateRecord(context.Background(), &database.TranscriptRecord{
		ID:        "rec-1",
		UserEmail: "user@example.com",
		MediaRef:  "media/rec-1.mp3",
		JobID:     "job-7",
	})

	rr := env.do(http.MethodPost, "/transcripts/rec-1/resume", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.JobID != "job-7" {
		t.Errorf("job_id = %q, want stored handle", resp.JobID)
	}

	second := env.do(http.MethodPost, "/transcripts/rec-1/resume", "")
	if second.Code != http.StatusConflict {
		t.Errorf("second resume status = %d, want 409", second.Code)
	}
}

func TestTranscripts_Delete(t *testing.T) {
	env := newTranscriptsEnv(t)
	env.records.CreateRecord(context.Background(), &database.TranscriptRecord{
		ID:        "rec-1",
		UserEmail: "user@example.com",
	})

	rr := env.do(http.MethodDelete, "/transcripts/rec-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	get := env.do(http.MethodGet, "/transcripts/rec-1", "")
	if get.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", get.Code)
	}
}

func TestTranscripts_DeleteRequiresConfiguredToken(t *testing.T) {
	env := newTranscriptsEnvToken(t, "")
	env.records.CreateRecord(context.Background(), &database.TranscriptRecord{
		ID:        "rec-1",
		UserEmail: "user@example.com",
	})

	rr := env.do(http.MethodDelete, "/transcripts/rec-1", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if get := env.do(http.MethodGet, "/transcripts/rec-1", ""); get.Code != http.StatusOK {
		t.Errorf("record gone after refused delete, status = %d", get.Code)
	}
}
