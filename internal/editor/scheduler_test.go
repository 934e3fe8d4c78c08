package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/document"
	"github.com/scribeworks/transcript-engine/internal/segment"
)

// fakeStore is an in-memory DocumentStore with failure injection and a
// gate for holding a write in flight.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]*document.Document
	writes   int
	failures int
	failing  bool
	gate     chan struct{} // non-nil: Replace blocks until the gate closes
	written  [][]segment.Segment
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*document.Document)}
}

func (f *fakeStore) seed(id string, doc *document.Document) {
	f.mu.Lock()
	f.docs[id] = doc
	f.mu.Unlock()
}

func (f *fakeStore) Read(ctx context.Context, id string) (*document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	// Hand back a copy: the remote store does not share memory with clients.
	cp := *doc
	cp.Segments = append([]segment.Segment(nil), doc.Segments...)
	cp.VersionHistory = append([]document.Version(nil), doc.VersionHistory...)
	return &cp, nil
}

func (f *fakeStore) Replace(ctx context.Context, id string, doc *document.Document) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		f.failures++
		return errors.New("simulated write failure")
	}
	f.docs[id] = doc
	f.writes++
	f.written = append(f.written, append([]segment.Segment(nil), doc.Segments...))
	return nil
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeStore) historyLen(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs[id].VersionHistory)
}

func newTestSession(t *testing.T, store *fakeStore, debounce time.Duration) *Session {
	t.Helper()
	store.seed("doc-1", &document.Document{
		MediaRef:  "media/m1",
		MediaKind: document.MediaAudio,
		Segments:  seedSegments(),
	})
	sess := NewSession(SessionOptions{
		ID:         "sess-1",
		DocumentID: "doc-1",
		Seed:       seedSegments(),
		Store:      store,
		Debounce:   debounce,
		Log:        zerolog.Nop(),
	})
	t.Cleanup(sess.Close)
	return sess
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduler_DebounceCollapsesBursts(t *testing.T) {
	store := newFakeStore()
	sess := newTestSession(t, store, 60*time.Millisecond)

	// Three edits inside one quiescence window.
	sess.Buffer.EditWord(0, 0, "hola")
	time.Sleep(20 * time.Millisecond)
	sess.Buffer.EditWord(0, 2, "mundo")
	time.Sleep(20 * time.Millisecond)
	sess.Buffer.RenameSpeaker("B", "Bea")

	if got := store.writeCount(); got != 0 {
		t.Fatalf("write fired inside the debounce window: %d", got)
	}

	waitFor(t, time.Second, func() bool { return store.writeCount() == 1 })
	// Give a stray second write a chance to appear.
	time.Sleep(150 * time.Millisecond)
	if got := store.writeCount(); got != 1 {
		t.Fatalf("writes = %d, want exactly 1", got)
	}

	store.mu.Lock()
	final := store.written[0]
	store.mu.Unlock()
	if final[0].Text != "hola mundo" || final[1].Speaker != "Bea" {
		t.Errorf("write did not carry the cumulative state: %+v", final)
	}
	if sess.Buffer.SaveState() != SaveStateSaved {
		t.Errorf("state = %s, want SAVED", sess.Buffer.SaveState())
	}
}

func TestScheduler_AtMostOneInFlight(t *testing.T) {
	store := newFakeStore()
	gate := make(chan struct{})
	store.gate = gate
	sess := newTestSession(t, store, 20*time.Millisecond)

	sess.Buffer.EditWord(0, 0, "first")
	waitFor(t, time.Second, func() bool {
		return sess.Buffer.SaveState() == SaveStateSaving
	})

	// Several dirty notifications while the write is held in flight.
	sess.Buffer.EditWord(0, 0, "second")
	time.Sleep(40 * time.Millisecond) // let the debounce fire into pending
	sess.Buffer.EditWord(0, 0, "third")
	time.Sleep(40 * time.Millisecond)

	if got := store.writeCount(); got != 0 {
		t.Fatalf("second write started while one was in flight")
	}

	store.mu.Lock()
	store.gate = nil
	store.mu.Unlock()
	close(gate)

	waitFor(t, time.Second, func() bool { return store.writeCount() == 2 })
	time.Sleep(100 * time.Millisecond)
	if got := store.writeCount(); got != 2 {
		t.Fatalf("writes = %d, want exactly 2 (one in flight + one follow-up)", got)
	}

	// The follow-up must carry the buffer state at completion time, not the
	// state when the notification arrived.
	store.mu.Lock()
	followUp := store.written[1]
	store.mu.Unlock()
	if followUp[0].Text != "third world" {
		t.Errorf("follow-up carried stale state: %q", followUp[0].Text)
	}

	waitFor(t, time.Second, func() bool {
		return sess.Buffer.SaveState() == SaveStateSaved
	})
}

func TestScheduler_FailureThenRetry(t *testing.T) {
	store := newFakeStore()
	sess := newTestSession(t, store, 20*time.Millisecond)

	store.mu.Lock()
	store.failing = true
	store.mu.Unlock()

	sess.Buffer.EditWord(0, 0, "doomed")
	waitFor(t, time.Second, func() bool {
		return sess.Buffer.SaveState() == SaveStateError
	})

	// Local edits survive the failure.
	if got := sess.Buffer.Segments()[0].Text; got != "doomed world" {
		t.Errorf("local edit rolled back: %q", got)
	}

	// Edits made after the failure ride along with the retry.
	sess.Buffer.EditWord(0, 0, "rescued")
	waitFor(t, time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.failures == 2
	})
	waitFor(t, time.Second, func() bool {
		return sess.Buffer.SaveState() == SaveStateError
	})

	store.mu.Lock()
	store.failing = false
	store.mu.Unlock()

	before := store.historyLen("doc-1")
	sess.Scheduler.Retry()
	waitFor(t, time.Second, func() bool {
		return sess.Buffer.SaveState() == SaveStateSaved
	})

	if got := store.historyLen("doc-1"); got != before+1 {
		t.Errorf("history grew by %d, want 1", got-before)
	}
	store.mu.Lock()
	last := store.written[len(store.written)-1]
	store.mu.Unlock()
	if last[0].Text != "rescued world" {
		t.Errorf("retry carried stale state: %q", last[0].Text)
	}
}

func TestScheduler_HistoryMonotonicity(t *testing.T) {
	store := newFakeStore()
	sess := newTestSession(t, store, 10*time.Millisecond)

	const rounds = 4
	prev := "A"
	for i := 0; i < rounds; i++ {
		next := "A" + string(rune('0'+i))
		sess.Buffer.RenameSpeaker(prev, next)
		prev = next
		waitFor(t, time.Second, func() bool {
			return store.writeCount() == i+1 && sess.Buffer.SaveState() == SaveStateSaved
		})
	}

	if got := store.historyLen("doc-1"); got != rounds {
		t.Errorf("history length = %d, want %d", got, rounds)
	}

	// Entries remain in write order.
	store.mu.Lock()
	defer store.mu.Unlock()
	doc := store.docs["doc-1"]
	for i := 1; i < len(doc.VersionHistory); i++ {
		if doc.VersionHistory[i].SavedAt.Before(doc.VersionHistory[i-1].SavedAt) {
			t.Error("history entries out of order")
		}
	}
}

func TestScheduler_PreservesImmutableFields(t *testing.T) {
	store := newFakeStore()
	sess := newTestSession(t, store, 10*time.Millisecond)

	sess.Buffer.EditWord(0, 0, "changed")
	waitFor(t, time.Second, func() bool {
		return sess.Buffer.SaveState() == SaveStateSaved
	})

	store.mu.Lock()
	doc := store.docs["doc-1"]
	store.mu.Unlock()
	if doc.MediaRef != "media/m1" || doc.MediaKind != document.MediaAudio {
		t.Errorf("read-merge-write lost immutable fields: %+v", doc)
	}
}

func TestScheduler_CloseStopsPendingWork(t *testing.T) {
	store := newFakeStore()
	sess := newTestSession(t, store, 50*time.Millisecond)

	sess.Buffer.EditWord(0, 0, "never-written")
	sess.Close()

	time.Sleep(120 * time.Millisecond)
	if got := store.writeCount(); got != 0 {
		t.Errorf("write fired after Close: %d", got)
	}
}
