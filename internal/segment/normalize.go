package segment

import (
	"encoding/json"
	"strings"
)

// Normalize converts a raw job-runner result payload into the canonical
// segment sequence. Four payload shapes are recognized, tried in order,
// first match wins:
//
//  1. {"transcription": {"segments": [...]}}
//  2. {"segments": [...]}, elements may wrap a nested {"result": [[...]]}
//  3. [{"result": [[...]]}], nested arrays flattened one level
//  4. bare array of segment-like objects
//
// Elements with empty text are dropped, then consecutive same-speaker
// segments are merged. An unrecognized shape is not an error: Normalize
// returns an empty sequence and ok=false so callers can log a warning and
// keep going.
func Normalize(payload json.RawMessage) (segs []Segment, ok bool) {
	raw, ok := extractRaw(payload)
	if !ok {
		return []Segment{}, false
	}
	return MergeConsecutive(mapRaw(raw)), true
}

// rawSegment is the loosely-typed element shape shared by every recognized
// payload variant. Numbers may arrive as JSON numbers or be absent.
type rawSegment struct {
	Speakers []string      `json:"speakers"`
	Speaker  string        `json:"speaker"`
	Text     string        `json:"text"`
	Start    *float64      `json:"start"`
	End      *float64      `json:"end"`
	Result   [][]rawSegment `json:"result"`
}

func extractRaw(payload json.RawMessage) ([]rawSegment, bool) {
	payload = json.RawMessage(strings.TrimSpace(string(payload)))
	if len(payload) == 0 || string(payload) == "null" {
		return nil, false
	}

	if payload[0] == '{' {
		// Shape 1: {transcription: {segments: [...]}}
		var wrapped struct {
			Transcription struct {
				Segments []rawSegment `json:"segments"`
			} `json:"transcription"`
		}
		if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Transcription.Segments != nil {
			return wrapped.Transcription.Segments, true
		}

		// Shape 2: {segments: [...]} with optional nested result wrapping
		var outer struct {
			Segments []rawSegment `json:"segments"`
		}
		if err := json.Unmarshal(payload, &outer); err == nil && outer.Segments != nil {
			return flattenNested(outer.Segments), true
		}

		return nil, false
	}

	if payload[0] == '[' {
		var arr []rawSegment
		if err := json.Unmarshal(payload, &arr); err != nil {
			return nil, false
		}

		// Shape 3: [{result: [[...]]}]
		if len(arr) > 0 && arr[0].Result != nil {
			var flat []rawSegment
			for _, inner := range arr[0].Result {
				flat = append(flat, inner...)
			}
			return flat, true
		}

		// Shape 4: bare array
		return arr, true
	}

	return nil, false
}

// flattenNested expands elements carrying a nested result matrix in place of
// inline fields. Applied one level deep only.
func flattenNested(segs []rawSegment) []rawSegment {
	var out []rawSegment
	for _, s := range segs {
		if s.Result != nil {
			for _, inner := range s.Result {
				out = append(out, inner...)
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

func mapRaw(raw []rawSegment) []Segment {
	segs := make([]Segment, 0, len(raw))
	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}

		speaker := r.Speaker
		if len(r.Speakers) > 0 && r.Speakers[0] != "" {
			speaker = r.Speakers[0]
		}
		if speaker == "" {
			speaker = UnknownSpeaker
		}

		s := Segment{Speaker: speaker, Text: text}
		if r.Start != nil {
			s.Start = *r.Start
		}
		if r.End != nil {
			s.End = *r.End
		}
		segs = append(segs, s)
	}
	return segs
}
