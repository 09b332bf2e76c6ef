package policy

import "context"

// ChunkIndex port (vector search over policy chunks)
type ChunkIndex interface {
	Insert(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, embedding []float32, topK int, topic Topic, activeOnly bool) ([]ChunkMatch, error)
	// Deactivate marks every chunk of a document inactive. One-way: a
	// deactivated document is never reactivated.
	Deactivate(ctx context.Context, docID string) error
	ListDocuments(ctx context.Context) ([]DocumentSummary, error)
}

// ChangeLog port: durable audit trail for change records, impact reports
// and queue tokens. These artifacts are audit evidence and are never held
// only in memory.
type ChangeLog interface {
	SaveChange(ctx context.Context, rec *ChangeRecord) error
	SaveReport(ctx context.Context, rep *ImpactReport) error
	SaveToken(ctx context.Context, tok *QueueToken) error
	RecentChanges(ctx context.Context, limit int) ([]*ChangeRecord, error)
	RecentReports(ctx context.Context, limit int) ([]*ImpactReport, error)
}

// SnapshotStore port for versioned raw-text snapshots
type SnapshotStore interface {
	Save(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, docID string) (*Snapshot, error)
}

// ReevalQueue port. Enqueue only; replay is owned by the batch service.
type ReevalQueue interface {
	Enqueue(ctx context.Context, token string, decisionIDs []string) error
}
