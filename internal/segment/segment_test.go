package segment

import (
	"reflect"
	"strings"
	"testing"
)

func TestMergeConsecutive(t *testing.T) {
	t.Run("merges_same_speaker_runs", func(t *testing.T) {
		in := []Segment{
			{Speaker: "A", Text: "hello", Start: 0, End: 1},
			{Speaker: "A", Text: "world", Start: 1, End: 2},
			{Speaker: "B", Text: "hi", Start: 2, End: 3},
			{Speaker: "A", Text: "back", Start: 3, End: 4},
		}
		got := MergeConsecutive(in)
		want := []Segment{
			{Speaker: "A", Text: "hello world", Start: 0, End: 2},
			{Speaker: "B", Text: "hi", Start: 2, End: 3},
			{Speaker: "A", Text: "back", Start: 3, End: 4},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		in := []Segment{
			{Speaker: "A", Text: "a"},
			{Speaker: "A", Text: "b"},
			{Speaker: "B", Text: "c"},
			{Speaker: "B", Text: "d"},
		}
		once := MergeConsecutive(in)
		twice := MergeConsecutive(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("second merge changed the sequence: %+v vs %+v", once, twice)
		}
	})

	t.Run("end_extends_to_the_later_value", func(t *testing.T) {
		// Overlapping upstream data: End must not move backwards.
		got := MergeConsecutive([]Segment{
			{Speaker: "A", Text: "x", Start: 0, End: 5},
			{Speaker: "A", Text: "y", Start: 1, End: 3},
		})
		if len(got) != 1 || got[0].End != 5 {
			t.Errorf("expected end=5, got %+v", got)
		}
	})

	t.Run("empty_input", func(t *testing.T) {
		got := MergeConsecutive(nil)
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty slice, got %v", got)
		}
	})

	t.Run("single_segment_unchanged", func(t *testing.T) {
		in := []Segment{{Speaker: "A", Text: "only", Start: 1, End: 2}}
		got := MergeConsecutive(in)
		if !reflect.DeepEqual(got, in) {
			t.Errorf("got %+v, want %+v", got, in)
		}
	})
}

func TestSplitWords(t *testing.T) {
	t.Run("roundtrip_is_lossless", func(t *testing.T) {
		for _, text := range []string{
			"hello world",
			"  leading and  double  spaces ",
			"one",
			"tabs\tand\nnewlines",
		} {
			tokens := SplitWords(text)
			if joined := strings.Join(tokens, ""); joined != text {
				t.Errorf("rejoin mismatch: %q -> %q", text, joined)
			}
		}
	})

	t.Run("separators_are_own_tokens", func(t *testing.T) {
		got := SplitWords("a b")
		want := []string{"a", " ", "b"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("empty_text", func(t *testing.T) {
		if got := SplitWords(""); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})
}
