package segment

import "strings"

// UnknownSpeaker is assigned to segments whose source payload carries no
// speaker attribution.
const UnknownSpeaker = "UNKNOWN_SPEAKER"

// Segment is one speaker-attributed span of transcript text.
// Start/End are seconds from the start of the media. End >= Start is
// expected from upstream but not enforced here.
type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// MergeConsecutive collapses runs of adjacent segments that share a speaker
// into one segment: texts joined with a single space, End extended to the
// later of the two. Single left-to-right pass; input order is trusted and
// never re-sorted. Merging an already-merged sequence is a no-op.
func MergeConsecutive(segs []Segment) []Segment {
	if len(segs) == 0 {
		return []Segment{}
	}

	merged := make([]Segment, 0, len(segs))
	cur := segs[0]

	for _, s := range segs[1:] {
		if s.Speaker == cur.Speaker {
			if s.Text != "" {
				if cur.Text != "" {
					cur.Text += " " + s.Text
				} else {
					cur.Text = s.Text
				}
			}
			if s.End > cur.End {
				cur.End = s.End
			}
			continue
		}
		merged = append(merged, cur)
		cur = s
	}
	merged = append(merged, cur)

	return merged
}

// SplitWords splits segment text the way the word editor addresses it:
// whitespace runs are kept as their own tokens so rejoining with "" is
// lossless. Mirrors splitting on /(\s+)/.
func SplitWords(text string) []string {
	if text == "" {
		return nil
	}

	var tokens []string
	var b strings.Builder
	inSpace := isSpace(rune(text[0]))

	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}

	for _, r := range text {
		if isSpace(r) != inSpace {
			flush()
			inSpace = !inSpace
		}
		b.WriteRune(r)
	}
	flush()

	return tokens
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
