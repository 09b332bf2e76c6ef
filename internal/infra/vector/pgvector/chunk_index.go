package pgvector

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"

	"github.com/policylens/policylens/internal/domain/policy"
)

// ChunkIndex stores policy chunks with their embeddings and serves
// cosine-similarity retrieval.
type ChunkIndex struct {
	pool *pgxpool.Pool
}

func NewChunkIndex(pool *pgxpool.Pool) *ChunkIndex {
	return &ChunkIndex{pool: pool}
}

func (r *ChunkIndex) Insert(ctx context.Context, chunks []policy.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO policy_chunks
				(chunk_id, doc_id, doc_title, section, source, topic, version,
				 valid_from, valid_to, is_active, chunk_text, embedding)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (chunk_id) DO UPDATE SET
				chunk_text = EXCLUDED.chunk_text,
				embedding  = EXCLUDED.embedding,
				is_active  = EXCLUDED.is_active`,
			c.ChunkID, c.DocID, c.DocTitle, c.Section, string(c.Source), string(c.Topic),
			c.Version, c.ValidFrom, c.ValidTo, c.IsActive, c.Text, pgvec.NewVector(c.Embedding),
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert policy chunk: %w", err)
		}
	}
	return nil
}

func (r *ChunkIndex) Search(ctx context.Context, embedding []float32, topK int, topic policy.Topic, activeOnly bool) ([]policy.ChunkMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	rows, err := r.pool.Query(ctx, `
		SELECT chunk_id, doc_id, doc_title, section, source, topic, version,
		       valid_from, valid_to, is_active, chunk_text,
		       1 - (embedding <=> $1) AS relevance
		FROM policy_chunks
		WHERE ($2 = '' OR topic = $2)
		  AND (NOT $3::boolean OR is_active)
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvec.NewVector(embedding), string(topic), activeOnly, topK)
	if err != nil {
		return nil, fmt.Errorf("search policy chunks: %w", err)
	}
	defer rows.Close()

	var matches []policy.ChunkMatch
	for rows.Next() {
		var m policy.ChunkMatch
		var source, topic string
		var validTo *time.Time
		if err := rows.Scan(&m.ChunkID, &m.DocID, &m.DocTitle, &m.Section, &source, &topic,
			&m.Version, &m.ValidFrom, &validTo, &m.IsActive, &m.Text, &m.RelevanceScore); err != nil {
			return nil, fmt.Errorf("scan policy chunk: %w", err)
		}
		m.Source = policy.Source(source)
		m.Topic = policy.Topic(topic)
		m.ValidTo = validTo
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *ChunkIndex) Deactivate(ctx context.Context, docID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE policy_chunks SET is_active = FALSE, valid_to = now()
		WHERE doc_id = $1 AND is_active`, docID)
	if err != nil {
		return fmt.Errorf("deactivate policy chunks: %w", err)
	}
	return nil
}

func (r *ChunkIndex) ListDocuments(ctx context.Context) ([]policy.DocumentSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doc_id, max(doc_title), max(source), max(topic), max(version), count(*)
		FROM policy_chunks
		WHERE is_active
		GROUP BY doc_id
		ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("list policy documents: %w", err)
	}
	defer rows.Close()

	var docs []policy.DocumentSummary
	for rows.Next() {
		var d policy.DocumentSummary
		var source, topic string
		if err := rows.Scan(&d.DocID, &d.Title, &source, &topic, &d.Version, &d.Chunks); err != nil {
			return nil, fmt.Errorf("scan document summary: %w", err)
		}
		d.Source = policy.Source(source)
		d.Topic = policy.Topic(topic)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
