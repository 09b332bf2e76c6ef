package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Connect opens a pgx pool with vector types registered on every
// connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the vector extension, tables and ANN indexes.
// dim must match the embedding model's output dimension.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	if dim <= 0 {
		dim = 1536
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS policy_chunks (
			chunk_id   TEXT PRIMARY KEY,
			doc_id     TEXT NOT NULL,
			doc_title  TEXT NOT NULL DEFAULT '',
			section    TEXT NOT NULL DEFAULT '',
			source     TEXT NOT NULL DEFAULT '',
			topic      TEXT NOT NULL DEFAULT '',
			version    TEXT NOT NULL DEFAULT '',
			valid_from TIMESTAMPTZ NOT NULL DEFAULT now(),
			valid_to   TIMESTAMPTZ,
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			chunk_text TEXT NOT NULL,
			embedding  vector(%d) NOT NULL
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_policy_chunks_doc ON policy_chunks (doc_id)`,
		`CREATE INDEX IF NOT EXISTS idx_policy_chunks_embedding ON policy_chunks
			USING hnsw (embedding vector_cosine_ops)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS compliance_cases (
			case_id        TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			verdict        TEXT NOT NULL,
			reasoning      TEXT NOT NULL DEFAULT '',
			risk_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			embedding      vector(%d) NOT NULL
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_compliance_cases_verdict ON compliance_cases (verdict)`,
		`CREATE INDEX IF NOT EXISTS idx_compliance_cases_embedding ON compliance_cases
			USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}
