// Package docstore persists transcript documents as whole JSON objects in a
// blob store. The backing API is replace-only: there is no field-level
// patch, so writers read, merge, and write back the full document.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/document"
	"github.com/scribeworks/transcript-engine/internal/storage"
)

// ErrNotFound is re-exported so callers don't need to import storage.
var ErrNotFound = storage.ErrNotFound

// Store reads and replaces transcript documents by id. Document identity is
// assigned at first write and stable for the transcript's lifetime.
type Store struct {
	blobs storage.BlobStore
	log   zerolog.Logger
}

// New creates a document store over the given blob backend.
func New(blobs storage.BlobStore, log zerolog.Logger) *Store {
	return &Store{
		blobs: blobs,
		log:   log.With().Str("component", "docstore").Logger(),
	}
}

// Create writes a new document and returns its assigned id.
func (s *Store) Create(ctx context.Context, doc *document.Document) (string, error) {
	id := uuid.NewString()
	if err := s.Replace(ctx, id, doc); err != nil {
		return "", err
	}
	s.log.Debug().Str("document_id", id).Int("segments", len(doc.Segments)).Msg("document created")
	return id, nil
}

// Read fetches and decodes a document. Legacy shapes are accepted (see
// document.Decode). Returns ErrNotFound for unknown ids.
func (s *Store) Read(ctx context.Context, id string) (*document.Document, error) {
	data, err := s.blobs.Read(ctx, objectKey(id))
	if err != nil {
		return nil, err
	}
	doc, err := document.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

// Replace overwrites the whole stored document. No concurrency token is
// checked: conflicts are last-writer-wins, with every successful write
// preserved in the document's own version history.
func (s *Store) Replace(ctx context.Context, id string, doc *document.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	if err := s.blobs.Save(ctx, objectKey(id), data, "application/json"); err != nil {
		return fmt.Errorf("write document %s: %w", id, err)
	}
	return nil
}

func objectKey(id string) string {
	return "documents/" + id + ".json"
}
