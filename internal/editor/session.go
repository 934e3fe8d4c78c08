package editor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/segment"
)

// Session binds one open transcript's buffer to its sync scheduler. The
// session id doubles as the lookup key for the HTTP edit endpoints.
type Session struct {
	ID         string
	RecordID   string
	DocumentID string
	Buffer     *Buffer
	Scheduler  *Scheduler

	// Original is the canonical sequence the session was seeded with,
	// retained for the combined export.
	Original  []segment.Segment
	CreatedAt time.Time
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	ID         string
	RecordID   string
	DocumentID string
	Seed       []segment.Segment
	Store      DocumentStore
	Debounce   time.Duration
	OnState    func(SaveState)
	Log        zerolog.Logger
}

// NewSession wires a buffer and scheduler together. The caller has already
// written the initial snapshot under opts.DocumentID, so the buffer starts
// SAVED.
func NewSession(opts SessionOptions) *Session {
	buf := NewBuffer(opts.Seed, nil)
	sched := NewScheduler(buf, SchedulerOptions{
		Store:      opts.Store,
		DocumentID: opts.DocumentID,
		Debounce:   opts.Debounce,
		OnState:    opts.OnState,
		Log:        opts.Log,
	})
	buf.setOnDirty(sched.Dirty)

	original := make([]segment.Segment, len(opts.Seed))
	copy(original, opts.Seed)

	return &Session{
		ID:         opts.ID,
		RecordID:   opts.RecordID,
		DocumentID: opts.DocumentID,
		Buffer:     buf,
		Scheduler:  sched,
		Original:   original,
		CreatedAt:  time.Now().UTC(),
	}
}

// Close stops the session's scheduler.
func (s *Session) Close() {
	s.Scheduler.Close()
}

// Registry tracks open sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// GetOrAdd registers s unless a session with the same id already exists,
// in which case the existing session wins and s is discarded. Returns the
// registered session and whether s was added. Callers racing to open the
// same record use this so only one session's scheduler survives.
func (r *Registry) GetOrAdd(s *Session) (*Session, bool) {
	r.mu.Lock()
	if existing, ok := r.sessions[s.ID]; ok {
		r.mu.Unlock()
		return existing, false
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s, true
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	return s, ok
}

// Remove closes and drops a session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll shuts down every open session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
