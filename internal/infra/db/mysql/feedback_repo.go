package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/policylens/policylens/internal/domain/compliance"
)

type FeedbackRepository struct {
	db *sql.DB
}

func NewFeedbackRepository(db *sql.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Save stores a reviewer correction and fills in the generated id.
func (r *FeedbackRepository) Save(ctx context.Context, fb *domain.Feedback) error {
	const q = `
INSERT INTO compliance_feedback
(transaction_id, decision_id, corrected_verdict, reviewer_notes, reviewer_id, submitted_at)
VALUES (?,?,?,?,?,?);
`
	submitted := fb.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q,
		stringOrDash(fb.TransactionID),
		stringOrDash(fb.DecisionID),
		stringOrDash(string(fb.CorrectedVerdict)),
		fb.ReviewerNotes,
		stringOrDash(fb.ReviewerID),
		submitted,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		fb.ID = id
	}
	return nil
}

// ListByTransaction returns corrections for one transaction, newest first
func (r *FeedbackRepository) ListByTransaction(ctx context.Context, transactionID string, limit int) ([]*domain.Feedback, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, transaction_id, decision_id, corrected_verdict, reviewer_notes, reviewer_id, submitted_at
FROM compliance_feedback
WHERE transaction_id=? ORDER BY submitted_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, transactionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Feedback
	for rows.Next() {
		var fb domain.Feedback
		var verdict string
		if err := rows.Scan(&fb.ID, &fb.TransactionID, &fb.DecisionID, &verdict,
			&fb.ReviewerNotes, &fb.ReviewerID, &fb.SubmittedAt); err != nil {
			return nil, err
		}
		fb.CorrectedVerdict = domain.Verdict(verdict)
		out = append(out, &fb)
	}
	return out, rows.Err()
}
