package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/policylens/policylens/internal/application"
	"github.com/policylens/policylens/internal/application/chunker"
	"github.com/policylens/policylens/internal/domain/ai"
	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

// Extractor turns an uploaded file into plain text.
// Satisfied by infra/extract.
type Extractor interface {
	PlainText(filename string, data []byte) (string, error)
}

// ChangeDetector compares two policy versions and records the delta.
// Satisfied by sentinel.Service.
type ChangeDetector interface {
	DetectChange(ctx context.Context, oldDocID, newDocID, oldText, newText string) (*policy.ChangeRecord, error)
}

// Service owns the write path of the policy corpus: extract, chunk, embed,
// index, snapshot. Updates deactivate the previous version and diff the new
// text against its immutable snapshot.
type Service struct {
	Chunker   *chunker.Chunker
	Embedder  ai.Embedder
	Chunks    policy.ChunkIndex
	Snapshots policy.SnapshotStore
	Extract   Extractor
	Detector  ChangeDetector
	Clock     application.Clock
}

// Result of one ingestion.
type Result struct {
	DocID        string               `json:"doc_id"`
	ChunksStored int                  `json:"chunks_stored"`
	Change       *policy.ChangeRecord `json:"change,omitempty"`
}

// IngestFile extracts text from an uploaded file and ingests it under the
// given document metadata.
func (s *Service) IngestFile(ctx context.Context, doc policy.Document, filename string, data []byte) (*Result, error) {
	text, err := s.Extract.PlainText(filename, data)
	if err != nil {
		return nil, err
	}
	doc.Content = text
	return s.IngestDocument(ctx, doc)
}

// IngestDocument chunks, embeds and indexes one document version, then
// snapshots its raw text. Chunks are inserted before the snapshot: a
// snapshot without chunks would make later diffs reference text that was
// never retrievable.
func (s *Service) IngestDocument(ctx context.Context, doc policy.Document) (*Result, error) {
	if doc.DocID == "" {
		return nil, &compliance.ExtractionError{Kind: "document", Reason: "doc_id is required"}
	}
	doc.IsActive = true
	if doc.ValidFrom.IsZero() {
		doc.ValidFrom = s.Clock.Now()
	}

	chunks, err := s.Chunker.Chunk(doc)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, &compliance.ExtractionError{Kind: "document", Reason: "no indexable content"}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := s.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, &compliance.RetrievalError{Op: "embed chunks", Err: err}
	}
	if len(embeddings) != len(chunks) {
		return nil, &compliance.RetrievalError{Op: "embed chunks",
			Err: fmt.Errorf("got %d embeddings for %d chunks", len(embeddings), len(chunks))}
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	if err := s.Chunks.Insert(ctx, chunks); err != nil {
		return nil, &compliance.PersistenceError{Op: "index chunks", Err: err}
	}
	if err := s.Snapshots.Save(ctx, &policy.Snapshot{
		DocID:     doc.DocID,
		Version:   doc.Version,
		Content:   doc.Content,
		CreatedAt: s.Clock.Now(),
	}); err != nil {
		return nil, &compliance.PersistenceError{Op: "save snapshot", Err: err}
	}

	log.Printf("ingested policy %s (%s): %d chunks", doc.DocID, doc.Version, len(chunks))
	return &Result{DocID: doc.DocID, ChunksStored: len(chunks)}, nil
}

// UpdateDocument replaces a previous version: the old chunk set is
// deactivated, the new version ingested, and the delta between the two
// texts recorded. The old snapshot is read before anything is written so a
// partial failure never diffs against the new text.
func (s *Service) UpdateDocument(ctx context.Context, oldDocID string, doc policy.Document) (*Result, error) {
	snapshot, err := s.Snapshots.Get(ctx, oldDocID)
	if err != nil {
		return nil, &compliance.PersistenceError{Op: "load previous snapshot", Err: err}
	}

	if err := s.Chunks.Deactivate(ctx, oldDocID); err != nil {
		return nil, &compliance.PersistenceError{Op: "deactivate previous version", Err: err}
	}

	result, err := s.IngestDocument(ctx, doc)
	if err != nil {
		return nil, err
	}

	if s.Detector != nil {
		change, err := s.Detector.DetectChange(ctx, oldDocID, doc.DocID, snapshot.Content, doc.Content)
		if err != nil {
			return nil, err
		}
		result.Change = change
	}
	return result, nil
}

// ListDocuments summarizes the indexed corpus.
func (s *Service) ListDocuments(ctx context.Context) ([]policy.DocumentSummary, error) {
	docs, err := s.Chunks.ListDocuments(ctx)
	if err != nil {
		return nil, &compliance.PersistenceError{Op: "list documents", Err: err}
	}
	return docs, nil
}
