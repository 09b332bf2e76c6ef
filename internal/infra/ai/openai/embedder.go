package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Embedder wraps the embeddings endpoint of the same gateway. Calls run
// through the same retry policy as the reasoning endpoint.
type Embedder struct {
	Model string

	create func(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error)
}

func NewEmbedder(apiKey, baseURL, model string) *Embedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	client := openai.NewClientWithConfig(cfg)
	return &Embedder{
		Model: model,
		create: func(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
			return client.CreateEmbeddings(ctx, req)
		},
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.Model),
	}

	var resp openai.EmbeddingResponse
	operation := func() error {
		r, err := e.create(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	if err := retryWithBackoff(ctx, operation); err != nil {
		return nil, fmt.Errorf("create embeddings failed after %d attempts: %w", maxAttempts, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
