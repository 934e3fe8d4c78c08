package editor

import (
	"reflect"
	"testing"

	"github.com/scribeworks/transcript-engine/internal/segment"
)

func seedSegments() []segment.Segment {
	return []segment.Segment{
		{Speaker: "A", Text: "hello world", Start: 0, End: 2},
		{Speaker: "B", Text: "hi", Start: 2, End: 3},
		{Speaker: "A", Text: "bye now", Start: 3, End: 4},
	}
}

func TestRenameSpeaker(t *testing.T) {
	t.Run("fans_out_to_every_matching_segment", func(t *testing.T) {
		dirty := 0
		b := NewBuffer(seedSegments(), func() { dirty++ })

		changed := b.RenameSpeaker("A", "Alice")
		if changed != 2 {
			t.Errorf("changed = %d, want 2", changed)
		}

		segs := b.Segments()
		if segs[0].Speaker != "Alice" || segs[2].Speaker != "Alice" {
			t.Errorf("rename missed a segment: %+v", segs)
		}
		if segs[1].Speaker != "B" {
			t.Errorf("rename touched an unrelated speaker: %+v", segs[1])
		}
		if dirty != 1 {
			t.Errorf("dirty notifications = %d, want 1", dirty)
		}
		if b.SaveState() != SaveStateUnsaved {
			t.Errorf("state = %s, want UNSAVED", b.SaveState())
		}
	})

	t.Run("no_match_is_a_silent_noop", func(t *testing.T) {
		dirty := 0
		b := NewBuffer(seedSegments(), func() { dirty++ })

		if changed := b.RenameSpeaker("Z", "Zed"); changed != 0 {
			t.Errorf("changed = %d, want 0", changed)
		}
		if dirty != 0 {
			t.Error("no-op rename must not schedule a write")
		}
		if b.SaveState() != SaveStateSaved {
			t.Errorf("state = %s, want SAVED", b.SaveState())
		}
	})

	t.Run("same_name_is_a_noop", func(t *testing.T) {
		b := NewBuffer(seedSegments(), nil)
		if changed := b.RenameSpeaker("A", "A"); changed != 0 {
			t.Errorf("changed = %d, want 0", changed)
		}
	})
}

func TestEditWord(t *testing.T) {
	t.Run("replaces_one_token", func(t *testing.T) {
		b := NewBuffer(seedSegments(), nil)

		// "hello world" tokens: ["hello", " ", "world"]
		if !b.EditWord(0, 2, "there") {
			t.Fatal("edit rejected")
		}
		if got := b.Segments()[0].Text; got != "hello there" {
			t.Errorf("text = %q", got)
		}
	})

	t.Run("separators_survive_the_rejoin", func(t *testing.T) {
		b := NewBuffer([]segment.Segment{{Speaker: "A", Text: "a  b\tc"}}, nil)
		b.EditWord(0, 0, "x")
		if got := b.Segments()[0].Text; got != "x  b\tc" {
			t.Errorf("text = %q", got)
		}
	})

	t.Run("word_index_clamps", func(t *testing.T) {
		b := NewBuffer(seedSegments(), nil)
		b.EditWord(1, 99, "hey") // "hi" has one token
		if got := b.Segments()[1].Text; got != "hey" {
			t.Errorf("text = %q", got)
		}
		b.EditWord(1, -5, "yo")
		if got := b.Segments()[1].Text; got != "yo" {
			t.Errorf("text = %q", got)
		}
	})

	t.Run("out_of_range_segment_is_a_noop", func(t *testing.T) {
		dirty := 0
		b := NewBuffer(seedSegments(), func() { dirty++ })
		if b.EditWord(99, 0, "x") {
			t.Error("edit of missing segment should report false")
		}
		if b.EditWord(-1, 0, "x") {
			t.Error("edit of negative index should report false")
		}
		if dirty != 0 {
			t.Error("no-op edits must not schedule writes")
		}
	})

	t.Run("empty_replacement_is_allowed", func(t *testing.T) {
		b := NewBuffer([]segment.Segment{{Speaker: "A", Text: "one"}}, nil)
		b.EditWord(0, 0, "")
		if got := b.Segments()[0].Text; got != "" {
			t.Errorf("text = %q, want empty", got)
		}
	})

	t.Run("empty_text_takes_replacement_wholesale", func(t *testing.T) {
		b := NewBuffer([]segment.Segment{{Speaker: "A", Text: ""}}, nil)
		b.EditWord(0, 3, "restored")
		if got := b.Segments()[0].Text; got != "restored" {
			t.Errorf("text = %q", got)
		}
	})
}

func TestReplaceAll(t *testing.T) {
	dirty := 0
	b := NewBuffer(nil, func() { dirty++ })

	next := seedSegments()
	b.ReplaceAll(next)

	if !reflect.DeepEqual(b.Segments(), next) {
		t.Errorf("segments = %+v", b.Segments())
	}
	if dirty != 1 {
		t.Errorf("dirty notifications = %d, want 1", dirty)
	}

	// The buffer must not alias the caller's slice.
	next[0].Text = "mutated"
	if b.Segments()[0].Text == "mutated" {
		t.Error("ReplaceAll aliased the input slice")
	}
}

func TestSegments_ReturnsCopy(t *testing.T) {
	b := NewBuffer(seedSegments(), nil)
	got := b.Segments()
	got[0].Text = "scribbled"
	if b.Segments()[0].Text == "scribbled" {
		t.Error("Segments leaked internal state")
	}
}
