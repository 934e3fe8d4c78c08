// Package document defines the persisted transcript document and its wire
// codec. The JSON shape carries a legacy alias (editedTranscript) kept in
// lockstep with the canonical segments field so older readers keep working.
package document

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/scribeworks/transcript-engine/internal/segment"
)

// SchemaVersion is the current document schema. Readers accept older shapes
// (see Decode); writers always emit this version.
const SchemaVersion = 1

// MediaKind distinguishes audio from video transcripts.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Version is one entry in the append-only history: a full snapshot of the
// segment sequence at save time. Entries are never removed or reordered.
type Version struct {
	SavedAt  time.Time         `json:"savedAt"`
	Snapshot []segment.Segment `json:"snapshot"`
}

// Document is the persisted unit: the current segment sequence plus every
// previously saved snapshot. Segments is the single canonical field; the
// editedTranscript wire field is a serialization-time mirror, never an
// independently mutable copy.
type Document struct {
	ExportedAt     time.Time
	MediaRef       string
	MediaKind      MediaKind
	Segments       []segment.Segment
	VersionHistory []Version
}

// AppendVersion records a snapshot in the history. The snapshot is copied so
// later mutation of the source slice cannot rewrite history.
func (d *Document) AppendVersion(savedAt time.Time, snapshot []segment.Segment) {
	cp := make([]segment.Segment, len(snapshot))
	copy(cp, snapshot)
	d.VersionHistory = append(d.VersionHistory, Version{SavedAt: savedAt, Snapshot: cp})
}

// wireDocument is the canonical JSON shape, kept separate from Document so
// marshalling can mirror segments into editedTranscript.
type wireDocument struct {
	SchemaVersion    int               `json:"schemaVersion"`
	ExportedAt       time.Time         `json:"exportedAt"`
	MediaRef         *string           `json:"mediaRef"`
	MediaKind        MediaKind         `json:"mediaKind"`
	Segments         []segment.Segment `json:"segments"`
	EditedTranscript []segment.Segment `json:"editedTranscript"`
	VersionHistory   []Version         `json:"versionHistory"`
}

// MarshalJSON emits the canonical shape with editedTranscript mirroring
// segments and an explicit null mediaRef when unset.
func (d Document) MarshalJSON() ([]byte, error) {
	segs := d.Segments
	if segs == nil {
		segs = []segment.Segment{}
	}
	history := d.VersionHistory
	if history == nil {
		history = []Version{}
	}

	var ref *string
	if d.MediaRef != "" {
		ref = &d.MediaRef
	}

	kind := d.MediaKind
	if kind == "" {
		kind = MediaAudio
	}

	return json.Marshal(wireDocument{
		SchemaVersion:    SchemaVersion,
		ExportedAt:       d.ExportedAt,
		MediaRef:         ref,
		MediaKind:        kind,
		Segments:         segs,
		EditedTranscript: segs,
		VersionHistory:   history,
	})
}

// Decode parses stored document bytes, accepting every shape this system has
// ever written plus raw normalizer payloads as a last resort. Priority:
//
//  1. schemaVersion == 1 with a segments array
//  2. editedTranscript (legacy alias)
//  3. segments alone (pre-versioning files)
//  4. anything segment.Normalize recognizes
//
// Unrecognized bytes yield an error, not a panic or an empty document.
func Decode(data []byte) (*Document, error) {
	var wire wireDocument
	if err := json.Unmarshal(data, &wire); err == nil {
		doc := &Document{
			ExportedAt:     wire.ExportedAt,
			MediaKind:      wire.MediaKind,
			VersionHistory: wire.VersionHistory,
		}
		if wire.MediaRef != nil {
			doc.MediaRef = *wire.MediaRef
		}
		if doc.MediaKind == "" {
			doc.MediaKind = MediaAudio
		}

		switch {
		case wire.SchemaVersion == SchemaVersion && wire.Segments != nil:
			doc.Segments = wire.Segments
			return doc, nil
		case wire.EditedTranscript != nil:
			doc.Segments = wire.EditedTranscript
			return doc, nil
		case wire.Segments != nil:
			doc.Segments = wire.Segments
			return doc, nil
		}
	}

	// Last resort: the file holds a raw job-runner payload.
	if segs, ok := segment.Normalize(data); ok {
		return &Document{MediaKind: MediaAudio, Segments: segs}, nil
	}

	return nil, fmt.Errorf("unrecognized transcript document shape")
}
