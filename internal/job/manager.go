package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/database"
	"github.com/scribeworks/transcript-engine/internal/document"
	"github.com/scribeworks/transcript-engine/internal/editor"
	"github.com/scribeworks/transcript-engine/internal/events"
	"github.com/scribeworks/transcript-engine/internal/metrics"
	"github.com/scribeworks/transcript-engine/internal/runner"
	"github.com/scribeworks/transcript-engine/internal/segment"
)

// Runner is the slice of the runner client the manager needs.
type Runner interface {
	Submit(ctx context.Context, req runner.SubmitRequest) (string, error)
	Status(ctx context.Context, jobID string) (*runner.StatusResponse, error)
}

// Metadata persists job and document handles on transcript records.
type Metadata interface {
	SetJobID(ctx context.Context, id, jobID string) error
	SetDocumentID(ctx context.Context, id, documentID string) error
}

// DocumentStore is the document persistence surface the manager and its
// sessions share. *docstore.Store satisfies it.
type DocumentStore interface {
	Create(ctx context.Context, doc *document.Document) (string, error)
	Read(ctx context.Context, id string) (*document.Document, error)
	Replace(ctx context.Context, id string, doc *document.Document) error
}

// Notifier receives job lifecycle notifications. Implementations must not
// block.
type Notifier interface {
	JobCompleted(recordID, jobID string)
	JobFailed(recordID, jobID string)
	DocumentSaved(recordID string)
}

// JobEvent is the bus payload for job state transitions.
type JobEvent struct {
	RecordID string `json:"record_id"`
	JobID    string `json:"job_id"`
	State    State  `json:"state"`
	Error    string `json:"error,omitempty"`
}

// SaveEvent is the bus payload for session save-state transitions.
type SaveEvent struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// BalanceEvent asks clients to refresh the account balance after a job
// finished consuming credits.
type BalanceEvent struct {
	RecordID string `json:"record_id"`
	JobID    string `json:"job_id"`
}

// ManagerOptions configures a Manager. Bus, Notifier and OnBalance are
// optional.
type ManagerOptions struct {
	Runner       Runner
	Meta         Metadata
	Docs         DocumentStore
	Sessions     *editor.Registry
	Bus          *events.Bus
	Notifier     Notifier
	OnBalance    func(jobID string)
	PollInterval time.Duration
	MaxPoll      time.Duration
	SyncDebounce time.Duration
	Log          zerolog.Logger
}

// Manager owns the live pollers and turns completed jobs into editable
// sessions: normalize output, write the initial document snapshot, record
// the document handle, open the session, signal the balance refresh.
type Manager struct {
	runner    Runner
	meta      Metadata
	docs      DocumentStore
	sessions  *editor.Registry
	bus       *events.Bus
	notifier  Notifier
	onBalance func(jobID string)

	pollInterval time.Duration
	maxPoll      time.Duration
	syncDebounce time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	pollers map[string]*Poller // keyed by record id
}

// NewManager creates a job manager.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		runner:       opts.Runner,
		meta:         opts.Meta,
		docs:         opts.Docs,
		sessions:     opts.Sessions,
		bus:          opts.Bus,
		notifier:     opts.Notifier,
		onBalance:    opts.OnBalance,
		pollInterval: opts.PollInterval,
		maxPoll:      opts.MaxPoll,
		syncDebounce: opts.SyncDebounce,
		log:          opts.Log.With().Str("component", "jobs").Logger(),
	}
}

// Submit sends the transcription request, persists the job handle on the
// record, and starts polling. The handle write is fire-and-forget: a
// metadata failure is logged but does not abort the job.
func (m *Manager) Submit(ctx context.Context, rec *database.TranscriptRecord, req runner.SubmitRequest) (*Poller, error) {
	jobID, err := m.runner.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit job for record %s: %w", rec.ID, err)
	}
	rec.JobID = jobID
	metrics.JobsSubmittedTotal.Inc()

	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.meta.SetJobID(wctx, rec.ID, jobID); err != nil {
			m.log.Warn().Err(err).Str("record_id", rec.ID).Str("job_id", jobID).
				Msg("failed to persist job handle")
		}
	}()

	m.publishJob(rec.ID, jobID, StateSubmitted, "")
	return m.track(rec, jobID), nil
}

// Resume restarts polling for a record whose job was submitted in an earlier
// process lifetime but never reached a terminal state.
func (m *Manager) Resume(rec *database.TranscriptRecord) (*Poller, error) {
	if rec.JobID == "" {
		return nil, fmt.Errorf("record %s has no job to resume", rec.ID)
	}
	m.log.Info().Str("record_id", rec.ID).Str("job_id", rec.JobID).Msg("resuming job poll")
	return m.track(rec, rec.JobID), nil
}

// Get returns the live poller for a record, if any.
func (m *Manager) Get(recordID string) (*Poller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pollers[recordID]
	return p, ok
}

// ActiveCount returns the number of pollers whose loops are still running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.pollers {
		select {
		case <-p.Done():
		default:
			n++
		}
	}
	return n
}

// Open returns the edit session for a completed transcript, creating one
// from the stored document if it is not already open.
func (m *Manager) Open(ctx context.Context, rec *database.TranscriptRecord) (*editor.Session, error) {
	if sess, ok := m.sessions.Get(rec.ID); ok {
		return sess, nil
	}
	if rec.DocumentID == "" {
		return nil, fmt.Errorf("record %s has no document", rec.ID)
	}
	doc, err := m.docs.Read(ctx, rec.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("open session for record %s: %w", rec.ID, err)
	}
	built := m.newSession(rec, rec.DocumentID, doc.Segments)
	sess, added := m.sessions.GetOrAdd(built)
	if !added {
		// Lost the race to a concurrent Open; the registered session wins.
		built.Close()
	}
	return sess, nil
}

// Shutdown stops every poller and closes every session, flushing nothing.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pollers := make([]*Poller, 0, len(m.pollers))
	for _, p := range m.pollers {
		pollers = append(pollers, p)
	}
	m.pollers = nil
	m.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}
	m.sessions.CloseAll()
}

func (m *Manager) track(rec *database.TranscriptRecord, jobID string) *Poller {
	p := NewPoller(PollerOptions{
		Source:   m.runner,
		RecordID: rec.ID,
		JobID:    jobID,
		Interval: m.pollInterval,
		MaxPoll:  m.maxPoll,
		OnTransition: func(p *Poller, state State) {
			m.publishJob(p.recordID, p.jobID, state, "")
		},
		OnTerminal: func(p *Poller, res *runner.StatusResponse) {
			m.handleTerminal(rec, p, res)
		},
		Log: m.log,
	})

	m.mu.Lock()
	if m.pollers == nil {
		m.pollers = make(map[string]*Poller)
	}
	m.pollers[rec.ID] = p
	m.mu.Unlock()
	return p
}

func (m *Manager) handleTerminal(rec *database.TranscriptRecord, p *Poller, res *runner.StatusResponse) {
	if res.Status == runner.StatusFailed {
		metrics.JobsFailedTotal.Inc()
		m.log.Error().Str("record_id", rec.ID).Str("job_id", p.jobID).
			Str("runner_error", res.Error).Msg("job failed")
		m.publishJob(rec.ID, p.jobID, StateFailed, res.Error)
		if m.notifier != nil {
			m.notifier.JobFailed(rec.ID, p.jobID)
		}
		return
	}

	// Duplicate terminal observations (a resumed poller racing a live one)
	// must not write a second initial snapshot.
	if !p.claimInitialSnapshot() {
		return
	}

	// An unrecognized payload yields an empty transcript, not a failed job.
	// The session opens empty and the user sees what the runner produced.
	segs, ok := segment.Normalize(res.Output)
	if !ok {
		m.log.Warn().Str("record_id", rec.ID).Str("job_id", p.jobID).
			Msg("completed job produced an unrecognized payload, seeding empty transcript")
		segs = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	doc := &document.Document{
		ExportedAt: now,
		MediaRef:   rec.MediaRef,
		MediaKind:  document.MediaKind(rec.MediaKind),
		Segments:   segs,
	}
	doc.AppendVersion(now, segs)

	docID, err := m.docs.Create(ctx, doc)
	if err != nil {
		p.fail(fmt.Errorf("write initial snapshot: %w", err))
		m.log.Error().Err(err).Str("record_id", rec.ID).Msg("initial snapshot write failed")
		m.publishJob(rec.ID, p.jobID, StateFailed, "initial snapshot write failed")
		return
	}
	rec.DocumentID = docID

	if err := m.meta.SetDocumentID(ctx, rec.ID, docID); err != nil {
		// The session still works off the document; the handle can be
		// repaired out of band.
		m.log.Warn().Err(err).Str("record_id", rec.ID).Str("document_id", docID).
			Msg("failed to persist document handle")
	}

	built := m.newSession(rec, docID, segs)
	if _, added := m.sessions.GetOrAdd(built); !added {
		built.Close()
	}
	metrics.JobsCompletedTotal.Inc()

	m.log.Info().Str("record_id", rec.ID).Str("job_id", p.jobID).
		Str("document_id", docID).Int("segments", len(segs)).Msg("job completed")
	m.publishJob(rec.ID, p.jobID, StateCompleted, "")
	if m.notifier != nil {
		m.notifier.JobCompleted(rec.ID, p.jobID)
	}
	if m.onBalance != nil {
		m.onBalance(p.jobID)
	}
	if m.bus != nil {
		m.bus.Publish(events.TypeBalance, BalanceEvent{RecordID: rec.ID, JobID: p.jobID})
	}
}

func (m *Manager) newSession(rec *database.TranscriptRecord, docID string, seed []segment.Segment) *editor.Session {
	sessionID := rec.ID
	return editor.NewSession(editor.SessionOptions{
		ID:         sessionID,
		RecordID:   rec.ID,
		DocumentID: docID,
		Seed:       seed,
		Store:      m.docs,
		Debounce:   m.syncDebounce,
		OnState: func(st editor.SaveState) {
			if m.bus != nil {
				m.bus.Publish(events.TypeSave, SaveEvent{SessionID: sessionID, State: string(st)})
			}
			if st == editor.SaveStateSaved && m.notifier != nil {
				m.notifier.DocumentSaved(rec.ID)
			}
		},
		Log: m.log,
	})
}

func (m *Manager) publishJob(recordID, jobID string, state State, errMsg string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.TypeJob, JobEvent{
		RecordID: recordID,
		JobID:    jobID,
		State:    state,
		Error:    errMsg,
	})
}
