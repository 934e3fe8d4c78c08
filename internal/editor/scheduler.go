package editor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/document"
	"github.com/scribeworks/transcript-engine/internal/metrics"
	"github.com/scribeworks/transcript-engine/internal/segment"
)

// DocumentStore is the narrow slice of the docstore the scheduler needs:
// whole-object read and replace, no partial patch.
type DocumentStore interface {
	Read(ctx context.Context, id string) (*document.Document, error)
	Replace(ctx context.Context, id string, doc *document.Document) error
}

// Scheduler turns a stream of dirty notifications from one Buffer into a
// bounded-rate stream of remote writes. Each dirty notification resets a
// debounce timer (classic debounce, not throttle); when the timer fires with
// quiescence, the current segments are written through a read-merge-write
// cycle that appends one version-history entry. At most one write is ever in
// flight; a notification landing mid-write schedules exactly one follow-up
// carrying whatever the buffer holds when the write resolves.
type Scheduler struct {
	buf      *Buffer
	store    DocumentStore
	docID    string
	debounce time.Duration
	log      zerolog.Logger

	// onState, when set, observes every save-state transition the scheduler
	// performs. Mutation-driven UNSAVED transitions are not reported here.
	onState func(SaveState)

	mu       sync.Mutex
	timer    *time.Timer
	inFlight bool
	pending  bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Store      DocumentStore
	DocumentID string
	Debounce   time.Duration
	OnState    func(SaveState)
	Log        zerolog.Logger
}

// NewScheduler creates a scheduler for one buffer/document pair. The caller
// wires the returned scheduler's Dirty method into the buffer's onDirty
// callback.
func NewScheduler(buf *Buffer, opts SchedulerOptions) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	onState := opts.OnState
	if onState == nil {
		onState = func(SaveState) {}
	}
	return &Scheduler{
		buf:      buf,
		store:    opts.Store,
		docID:    opts.DocumentID,
		debounce: opts.Debounce,
		onState:  onState,
		log:      opts.Log.With().Str("component", "sync").Str("document_id", opts.DocumentID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dirty notes that the buffer changed. The debounce timer restarts; nothing
// is written until the quiescence window elapses.
func (s *Scheduler) Dirty() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = time.AfterFunc(s.debounce, s.timerFired)
}

func (s *Scheduler) timerFired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timer = nil
	if s.closed {
		return
	}
	if s.inFlight {
		// The in-flight write will pick up the latest state afterwards.
		s.pending = true
		return
	}
	s.startFlushLocked()
}

// Retry re-attempts a write after a failure surfaced as SaveStateError. A
// retry while a write is in flight is ignored.
func (s *Scheduler) Retry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.inFlight {
		return
	}
	s.startFlushLocked()
}

// Flush writes immediately, skipping the debounce window. Used for the
// initial post-job snapshot.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.inFlight {
		s.pending = true
		return
	}
	s.startFlushLocked()
}

// Close stops the timer, cancels in-flight I/O, and waits for the flush
// goroutine to exit. Unsaved local edits are not rolled back; they are
// simply no longer synchronized.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// startFlushLocked marks the write in flight and launches it. Caller holds mu.
func (s *Scheduler) startFlushLocked() {
	s.inFlight = true
	s.buf.setState(SaveStateSaving)
	s.onState(SaveStateSaving)

	s.wg.Add(1)
	go s.flush()
}

func (s *Scheduler) flush() {
	defer s.wg.Done()

	// Snapshot at flush time, not at notification time.
	snapshot := s.buf.Segments()
	err := s.write(snapshot)

	s.mu.Lock()
	s.inFlight = false

	if err != nil {
		// No automatic retry: the failure is surfaced through the save
		// state and a follow-up, if one was owed, is dropped with it. Local
		// edits are untouched.
		s.pending = false
		s.mu.Unlock()
		metrics.SyncWriteFailuresTotal.Inc()
		s.buf.setState(SaveStateError)
		s.onState(SaveStateError)
		s.log.Warn().Err(err).Msg("document write failed")
		return
	}
	metrics.SyncWritesTotal.Inc()

	if s.pending {
		s.pending = false
		s.startFlushLocked()
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Only report SAVED if no mutation slipped in after the snapshot; an
	// intervening edit left the state UNSAVED and its own timer running.
	if s.buf.casState(SaveStateSaving, SaveStateSaved) {
		s.onState(SaveStateSaved)
	}
}

// write performs one read-merge-write cycle: fetch the remote document to
// preserve immutable fields and accumulated history, swap in the snapshot,
// append one history entry, write the whole document back. Concurrent
// external writers are resolved last-writer-wins; their snapshots survive in
// the history this write carries forward only if this read observed them.
func (s *Scheduler) write(snapshot []segment.Segment) error {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	doc, err := s.store.Read(ctx, s.docID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.Segments = snapshot
	doc.ExportedAt = now
	doc.AppendVersion(now, snapshot)

	if err := s.store.Replace(ctx, s.docID, doc); err != nil {
		return err
	}

	s.log.Debug().
		Int("segments", len(snapshot)).
		Int("versions", len(doc.VersionHistory)).
		Msg("document saved")
	return nil
}
