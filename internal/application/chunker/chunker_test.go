package chunker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

func testDoc(content string) policy.Document {
	return policy.Document{
		DocID:    "doc-1",
		Title:    "AML Guidelines",
		Content:  content,
		Source:   policy.SourceInternal,
		Topic:    policy.TopicAML,
		Version:  "1.0",
		IsActive: true,
	}
}

func TestChunkSectionDetection(t *testing.T) {
	content := strings.Join([]string{
		"Section 1 Transaction Thresholds",
		strings.Repeat("threshold reporting rules apply here ", 20),
		"Article 5 Sanctions Screening",
		strings.Repeat("sanctioned jurisdictions are prohibited ", 20),
	}, "\n")

	chunks, err := New(600, 100).Chunk(testDoc(content))
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Section != "Section 1 Transaction Thresholds" {
		t.Errorf("chunk 0 section = %q", chunks[0].Section)
	}
	if chunks[1].Section != "Article 5 Sanctions Screening" {
		t.Errorf("chunk 1 section = %q", chunks[1].Section)
	}
	if chunks[0].ChunkID != "doc-1_chunk_0" || chunks[1].ChunkID != "doc-1_chunk_1" {
		t.Errorf("unexpected chunk ids %q, %q", chunks[0].ChunkID, chunks[1].ChunkID)
	}
}

func TestChunkNoSections(t *testing.T) {
	content := strings.Repeat("plain policy text without any headers ", 15)
	chunks, err := New(600, 100).Chunk(testDoc(content))
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Section != "" {
		t.Errorf("expected empty section, got %q", chunks[0].Section)
	}
}

// Concatenating a document's chunks, minus the configured overlap,
// reproduces the original token sequence.
func TestChunkOverlapRoundTrip(t *testing.T) {
	words := make([]string, 1400)
	for i := range words {
		words[i] = fmt.Sprintf("tok%04d", i)
	}
	c := New(600, 100)
	chunks, err := c.Chunk(testDoc(strings.Join(words, " ")))
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	var rebuilt []string
	for i, ch := range chunks {
		toks := strings.Fields(ch.Text)
		if i > 0 {
			toks = toks[c.ChunkOverlap:]
		}
		rebuilt = append(rebuilt, toks...)
	}
	if !reflect.DeepEqual(rebuilt, words) {
		t.Fatalf("round trip lost or reordered tokens: got %d tokens, want %d", len(rebuilt), len(words))
	}
}

func TestChunkDiscardsShortTrailingFragment(t *testing.T) {
	// Second window would hold only a handful of characters.
	words := make([]string, 510)
	for i := range words {
		words[i] = "aa"
	}
	c := New(600, 100)
	chunks, err := c.Chunk(testDoc(strings.Join(words, " ")))
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected trailing fragment to be dropped, got %d chunks", len(chunks))
	}
}

func TestChunkInvalidEncoding(t *testing.T) {
	doc := testDoc(string([]byte{0xff, 0xfe, 0xfd}))
	_, err := New(600, 100).Chunk(doc)
	var extractionErr *compliance.ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestExtractHeadings(t *testing.T) {
	text := "Section 1 Thresholds: details\nbody text\nArticle 7 Screening\nmore body"
	got := ExtractHeadings(text)
	want := []string{"1 Thresholds", "7 Screening"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractHeadings = %v, want %v", got, want)
	}
}
