package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/policylens/policylens/internal/domain/policy"
)

type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save keeps the raw text of a document version. Idempotent per doc id:
// a re-ingest of the same id overwrites its snapshot.
func (r *SnapshotRepository) Save(ctx context.Context, s *domain.Snapshot) error {
	const q = `
INSERT INTO policy_snapshots
(doc_id, version, content, created_at)
VALUES (?,?,?,?)
ON DUPLICATE KEY UPDATE
 version=VALUES(version), content=VALUES(content), created_at=VALUES(created_at);
`
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, s.DocID, stringOrDash(s.Version), s.Content, created)
	return err
}

// Get by doc id
func (r *SnapshotRepository) Get(ctx context.Context, docID string) (*domain.Snapshot, error) {
	const q = `
SELECT doc_id, version, content, created_at
FROM policy_snapshots
WHERE doc_id=? LIMIT 1;
`
	var s domain.Snapshot
	err := r.db.QueryRowContext(ctx, q, docID).Scan(&s.DocID, &s.Version, &s.Content, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
