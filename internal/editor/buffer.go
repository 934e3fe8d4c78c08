// Package editor holds the in-memory edit state for one open transcript and
// reconciles it against the document store with debounced, idempotent,
// history-preserving writes.
package editor

import (
	"sync"

	"github.com/scribeworks/transcript-engine/internal/segment"
)

// SaveState describes how the buffer relates to the stored document.
type SaveState string

const (
	SaveStateSaved   SaveState = "SAVED"
	SaveStateUnsaved SaveState = "UNSAVED"
	SaveStateSaving  SaveState = "SAVING"
	SaveStateError   SaveState = "ERROR"
)

// Buffer is the authoritative client-side segment sequence for one open
// transcript. Mutations are synchronous, total (out-of-range indices clamp
// or no-op, never fail) and never perform I/O; persistence is observed only
// through the save state.
type Buffer struct {
	mu       sync.Mutex
	segments []segment.Segment
	state    SaveState
	onDirty  func()
}

// NewBuffer seeds a buffer with the given segments, starting in the SAVED
// state: callers persist the initial snapshot before opening the buffer for
// edits. onDirty is invoked, outside the lock, after every accepted mutation.
func NewBuffer(seed []segment.Segment, onDirty func()) *Buffer {
	segs := make([]segment.Segment, len(seed))
	copy(segs, seed)
	if onDirty == nil {
		onDirty = func() {}
	}
	return &Buffer{segments: segs, state: SaveStateSaved, onDirty: onDirty}
}

// setOnDirty rebinds the dirty callback. Used once during session wiring,
// before the buffer is shared.
func (b *Buffer) setOnDirty(fn func()) {
	b.onDirty = fn
}

// Segments returns a copy of the current sequence.
func (b *Buffer) Segments() []segment.Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]segment.Segment, len(b.segments))
	copy(cp, b.segments)
	return cp
}

// SaveState returns the current persistence state.
func (b *Buffer) SaveState() SaveState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RenameSpeaker relabels every segment whose speaker equals old, not just
// one occurrence. Returns the number of segments changed. A rename that
// touches nothing is a no-op and schedules no write.
func (b *Buffer) RenameSpeaker(old, new string) int {
	if old == new {
		return 0
	}

	b.mu.Lock()
	changed := 0
	for i := range b.segments {
		if b.segments[i].Speaker == old {
			b.segments[i].Speaker = new
			changed++
		}
	}
	if changed > 0 {
		b.state = SaveStateUnsaved
	}
	b.mu.Unlock()

	if changed > 0 {
		b.onDirty()
	}
	return changed
}

// EditWord replaces one whitespace-delimited token of a segment's text: the
// text is re-split, the token at wordIndex replaced, and the pieces
// rejoined. Indices are clamped into range; an out-of-range segment index is
// a no-op. Replacing a token with "" is allowed (the text may be empty
// transiently during word-level edit).
func (b *Buffer) EditWord(segIndex, wordIndex int, newValue string) bool {
	b.mu.Lock()

	if segIndex < 0 || segIndex >= len(b.segments) {
		b.mu.Unlock()
		return false
	}

	seg := &b.segments[segIndex]
	tokens := segment.SplitWords(seg.Text)
	if len(tokens) == 0 {
		seg.Text = newValue
	} else {
		if wordIndex < 0 {
			wordIndex = 0
		}
		if wordIndex >= len(tokens) {
			wordIndex = len(tokens) - 1
		}
		tokens[wordIndex] = newValue
		seg.Text = joinTokens(tokens)
	}

	b.state = SaveStateUnsaved
	b.mu.Unlock()

	b.onDirty()
	return true
}

// ReplaceAll swaps the whole sequence. Used for the initial post-job seed
// and for bulk restores.
func (b *Buffer) ReplaceAll(segs []segment.Segment) {
	cp := make([]segment.Segment, len(segs))
	copy(cp, segs)

	b.mu.Lock()
	b.segments = cp
	b.state = SaveStateUnsaved
	b.mu.Unlock()

	b.onDirty()
}

func joinTokens(tokens []string) string {
	n := 0
	for _, t := range tokens {
		n += len(t)
	}
	buf := make([]byte, 0, n)
	for _, t := range tokens {
		buf = append(buf, t...)
	}
	return string(buf)
}

// setState is called by the scheduler to move through the saving states.
func (b *Buffer) setState(s SaveState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// casState sets the state only if it currently equals from. A failed swap
// means a mutation intervened (UNSAVED wins over SAVED).
func (b *Buffer) casState(from, to SaveState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != from {
		return false
	}
	b.state = to
	return true
}
