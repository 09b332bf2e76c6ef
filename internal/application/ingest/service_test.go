package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/policylens/policylens/internal/application/chunker"
	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.5}, f.err
}
func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type fakeChunkIndex struct {
	inserted    []policy.Chunk
	deactivated []string
	insertErr   error
}

func (f *fakeChunkIndex) Insert(_ context.Context, chunks []policy.Chunk) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, chunks...)
	return nil
}
func (f *fakeChunkIndex) Search(context.Context, []float32, int, policy.Topic, bool) ([]policy.ChunkMatch, error) {
	return nil, nil
}
func (f *fakeChunkIndex) Deactivate(_ context.Context, docID string) error {
	f.deactivated = append(f.deactivated, docID)
	return nil
}
func (f *fakeChunkIndex) ListDocuments(context.Context) ([]policy.DocumentSummary, error) {
	return nil, nil
}

type fakeSnapshotStore struct {
	saved  []*policy.Snapshot
	getErr error
}

func (f *fakeSnapshotStore) Save(_ context.Context, s *policy.Snapshot) error {
	f.saved = append(f.saved, s)
	return nil
}
func (f *fakeSnapshotStore) Get(_ context.Context, docID string) (*policy.Snapshot, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, s := range f.saved {
		if s.DocID == docID {
			return s, nil
		}
	}
	return nil, errors.New("snapshot not found")
}

type fakeDetector struct{ change *policy.ChangeRecord }

func (f *fakeDetector) DetectChange(_ context.Context, oldID, newID, oldText, newText string) (*policy.ChangeRecord, error) {
	f.change = &policy.ChangeRecord{OldDocID: oldID, NewDocID: newID}
	if oldText == newText {
		f.change.Class = policy.ChangeMinor
	} else {
		f.change.Class = policy.ChangeMajor
	}
	return f.change, nil
}

type fakeExtractor struct{}

func (fakeExtractor) PlainText(filename string, data []byte) (string, error) {
	if !strings.HasSuffix(filename, ".txt") {
		return "", &compliance.ExtractionError{Kind: "file", Reason: "unsupported format"}
	}
	return string(data), nil
}

func newService(index *fakeChunkIndex, snaps *fakeSnapshotStore) *Service {
	return &Service{
		Chunker:   chunker.New(600, 100),
		Embedder:  &fakeEmbedder{},
		Chunks:    index,
		Snapshots: snaps,
		Extract:   fakeExtractor{},
		Clock:     fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
}

func policyText() string {
	return "Section 1 Thresholds\n" + strings.Repeat("transactions above threshold require enhanced review ", 20)
}

func TestIngestDocumentIndexesAndSnapshots(t *testing.T) {
	index := &fakeChunkIndex{}
	snaps := &fakeSnapshotStore{}
	svc := newService(index, snaps)

	doc := policy.Document{
		DocID:   "AML_V1",
		Title:   "AML Policy",
		Content: policyText(),
		Source:  policy.SourceInternal,
		Topic:   policy.TopicAML,
		Version: "1.0",
	}
	result, err := svc.IngestDocument(context.Background(), doc)
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if result.ChunksStored == 0 || len(index.inserted) != result.ChunksStored {
		t.Fatalf("chunks stored = %d, inserted = %d", result.ChunksStored, len(index.inserted))
	}
	for _, c := range index.inserted {
		if c.Embedding == nil {
			t.Fatalf("chunk %s has no embedding", c.ChunkID)
		}
		if !c.IsActive {
			t.Fatalf("chunk %s not active", c.ChunkID)
		}
	}
	if len(snaps.saved) != 1 || snaps.saved[0].Content != doc.Content {
		t.Fatal("raw text snapshot not saved")
	}
}

func TestIngestDocumentRejectsEmptyContent(t *testing.T) {
	svc := newService(&fakeChunkIndex{}, &fakeSnapshotStore{})

	_, err := svc.IngestDocument(context.Background(), policy.Document{DocID: "d1", Content: "   "})
	var eerr *compliance.ExtractionError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestIngestDocumentEmbeddingFailureWritesNothing(t *testing.T) {
	index := &fakeChunkIndex{}
	snaps := &fakeSnapshotStore{}
	svc := newService(index, snaps)
	svc.Embedder = &fakeEmbedder{err: errors.New("embedding service down")}

	_, err := svc.IngestDocument(context.Background(), policy.Document{DocID: "d1", Content: policyText()})
	var rerr *compliance.RetrievalError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}
	if len(index.inserted) != 0 || len(snaps.saved) != 0 {
		t.Fatal("nothing must be written when embedding fails")
	}
}

func TestUpdateDocumentDeactivatesAndDiffs(t *testing.T) {
	index := &fakeChunkIndex{}
	snaps := &fakeSnapshotStore{}
	svc := newService(index, snaps)
	detector := &fakeDetector{}
	svc.Detector = detector

	v1 := policy.Document{DocID: "AML_V1", Content: policyText(), Version: "1.0"}
	if _, err := svc.IngestDocument(context.Background(), v1); err != nil {
		t.Fatalf("ingest v1: %v", err)
	}

	v2 := policy.Document{DocID: "AML_V2", Content: policyText() + "\nSection 2 Reporting\nnew obligations apply to all institutions", Version: "2.0"}
	result, err := svc.UpdateDocument(context.Background(), "AML_V1", v2)
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if len(index.deactivated) != 1 || index.deactivated[0] != "AML_V1" {
		t.Errorf("deactivated = %v, want [AML_V1]", index.deactivated)
	}
	if result.Change == nil || result.Change.OldDocID != "AML_V1" || result.Change.NewDocID != "AML_V2" {
		t.Errorf("change = %+v", result.Change)
	}
	if result.Change.Class != policy.ChangeMajor {
		t.Errorf("class = %s, want MAJOR", result.Change.Class)
	}
}

func TestUpdateDocumentMissingSnapshotIsFatal(t *testing.T) {
	index := &fakeChunkIndex{}
	svc := newService(index, &fakeSnapshotStore{getErr: errors.New("not found")})

	_, err := svc.UpdateDocument(context.Background(), "ghost", policy.Document{DocID: "d2", Content: policyText()})
	var perr *compliance.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if len(index.deactivated) != 0 {
		t.Fatal("must not deactivate when the previous snapshot is unreadable")
	}
}

func TestIngestFileExtractsText(t *testing.T) {
	index := &fakeChunkIndex{}
	svc := newService(index, &fakeSnapshotStore{})

	doc := policy.Document{DocID: "d1", Version: "1.0"}
	result, err := svc.IngestFile(context.Background(), doc, "policy.txt", []byte(policyText()))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if result.ChunksStored == 0 {
		t.Fatal("expected chunks from extracted text")
	}

	if _, err := svc.IngestFile(context.Background(), doc, "policy.pdf", []byte("x")); err == nil {
		t.Fatal("expected extraction error for unsupported format")
	}
}
