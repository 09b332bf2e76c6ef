package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"

	"github.com/policylens/policylens/internal/domain/compliance"
)

// CaseIndex stores evaluated transactions as retrievable precedent.
type CaseIndex struct {
	pool *pgxpool.Pool
}

func NewCaseIndex(pool *pgxpool.Pool) *CaseIndex {
	return &CaseIndex{pool: pool}
}

func (r *CaseIndex) Insert(ctx context.Context, c *compliance.Case) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO compliance_cases
			(case_id, transaction_id, verdict, reasoning, risk_score, created_at, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (case_id) DO NOTHING`,
		c.CaseID, c.TransactionID, string(c.Verdict), c.Reasoning, c.RiskScore,
		c.Timestamp, pgvec.NewVector(c.Embedding))
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (r *CaseIndex) Search(ctx context.Context, embedding []float32, topK int) ([]compliance.SimilarCase, error) {
	return r.search(ctx, embedding, topK, false)
}

func (r *CaseIndex) SearchFlagged(ctx context.Context, embedding []float32, topK int) ([]compliance.SimilarCase, error) {
	return r.search(ctx, embedding, topK, true)
}

func (r *CaseIndex) search(ctx context.Context, embedding []float32, topK int, flaggedOnly bool) ([]compliance.SimilarCase, error) {
	if topK <= 0 {
		topK = 5
	}
	rows, err := r.pool.Query(ctx, `
		SELECT case_id, transaction_id, verdict, risk_score, reasoning, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM compliance_cases
		WHERE (NOT $2::boolean OR verdict IN ('flag', 'needs_review'))
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgvec.NewVector(embedding), flaggedOnly, topK)
	if err != nil {
		return nil, fmt.Errorf("search cases: %w", err)
	}
	defer rows.Close()

	var cases []compliance.SimilarCase
	for rows.Next() {
		var c compliance.SimilarCase
		var verdict string
		if err := rows.Scan(&c.CaseID, &c.TransactionID, &verdict, &c.RiskScore,
			&c.Reasoning, &c.Timestamp, &c.SimilarityScore); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.Verdict = compliance.Verdict(verdict)
		cases = append(cases, c)
	}
	return cases, rows.Err()
}
