package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestEmbedBatchRetriesTransientFailure(t *testing.T) {
	calls := 0
	e := &Embedder{
		Model: "text-embedding-3-small",
		create: func(_ context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			calls++
			if calls == 1 {
				return openai.EmbeddingResponse{}, errors.New("connection reset")
			}
			texts := req.Input.([]string)
			data := make([]openai.Embedding, len(texts))
			for i := range texts {
				data[i] = openai.Embedding{Embedding: []float32{0.1, 0.2}}
			}
			return openai.EmbeddingResponse{Data: data}, nil
		},
	}

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls)
	}
	if len(vectors) != 2 {
		t.Errorf("vectors = %d, want 2", len(vectors))
	}
}

func TestEmbedBatchStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	e := &Embedder{
		Model: "text-embedding-3-small",
		create: func(context.Context, openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			calls++
			cancel()
			return openai.EmbeddingResponse{}, errors.New("gateway down")
		},
	}

	if _, err := e.EmbedBatch(ctx, []string{"a"}); err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancel)", calls)
	}
}

func TestEmbedBatchRejectsShortResponse(t *testing.T) {
	e := &Embedder{
		Model: "text-embedding-3-small",
		create: func(context.Context, openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			return openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{0.1}}}}, nil
		},
	}

	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for mismatched vector count")
	}
}
