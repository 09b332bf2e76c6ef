package compliance

import (
	"context"
	"time"
)

// ListFilter narrows a decision listing. Zero values mean "no filter".
type ListFilter struct {
	Verdict  Verdict
	TraceIDs []string
	DateFrom time.Time
	DateTo   time.Time
	Offset   int
	Limit    int
}

// DecisionStore port (append/overwrite-by-id persistence for decisions)
type DecisionStore interface {
	Put(ctx context.Context, rec *DecisionRecord) error
	Get(ctx context.Context, traceID string) (*DecisionRecord, error)
	List(ctx context.Context, f ListFilter) ([]*DecisionRecord, error)
	Count(ctx context.Context) (int, error)
}

// CaseIndex port (vector search over historical cases)
type CaseIndex interface {
	Insert(ctx context.Context, c *Case) error
	Search(ctx context.Context, embedding []float32, topK int) ([]SimilarCase, error)
	// SearchFlagged restricts matches to flagged/review precedent.
	SearchFlagged(ctx context.Context, embedding []float32, topK int) ([]SimilarCase, error)
}

// FeedbackStore port for reviewer corrections
type FeedbackStore interface {
	Save(ctx context.Context, fb *Feedback) error
	ListByTransaction(ctx context.Context, transactionID string, limit int) ([]*Feedback, error)
}
