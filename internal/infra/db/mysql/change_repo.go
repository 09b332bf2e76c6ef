package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/policylens/policylens/internal/domain/policy"
)

type ChangeRepository struct {
	db *sql.DB
}

func NewChangeRepository(db *sql.DB) *ChangeRepository {
	return &ChangeRepository{db: db}
}

// SaveChange stores one detected policy delta
func (r *ChangeRepository) SaveChange(ctx context.Context, rec *domain.ChangeRecord) error {
	const q = `
INSERT INTO policy_changes
(old_doc_id, new_doc_id, similarity_ratio, change_magnitude, change_type, sections_affected, detected_at)
VALUES (?,?,?,?,?,?,?);
`
	sections, err := json.Marshal(rec.SectionsAffected)
	if err != nil {
		return fmt.Errorf("encoding affected sections: %w", err)
	}
	detected := rec.Timestamp
	if detected.IsZero() {
		detected = time.Now()
	}
	_, err = r.db.ExecContext(ctx, q,
		stringOrDash(rec.OldDocID), stringOrDash(rec.NewDocID),
		rec.SimilarityRatio, rec.ChangeMagnitude, stringOrDash(string(rec.Class)),
		sections, detected,
	)
	return err
}

// SaveReport stores a generated impact report
func (r *ChangeRepository) SaveReport(ctx context.Context, rep *domain.ImpactReport) error {
	const q = `
INSERT INTO impact_reports
(report_id, generated_at, decisions_affected, requires_reevaluation, report_json)
VALUES (?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 decisions_affected=VALUES(decisions_affected),
 requires_reevaluation=VALUES(requires_reevaluation),
 report_json=VALUES(report_json);
`
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encoding impact report: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q,
		rep.ReportID, rep.GeneratedAt, rep.DecisionsAffected, rep.RequiresReevaluation, payload)
	return err
}

// SaveToken stores the durable receipt for a queued re-evaluation batch
func (r *ChangeRepository) SaveToken(ctx context.Context, tok *domain.QueueToken) error {
	const q = `
INSERT INTO reeval_queue_tokens
(token, total_decisions, status, queued_at, decision_ids)
VALUES (?,?,?,?,?)
ON DUPLICATE KEY UPDATE status=VALUES(status);
`
	ids, err := json.Marshal(tok.DecisionIDs)
	if err != nil {
		return fmt.Errorf("encoding decision ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q,
		tok.Token, tok.TotalDecisions, stringOrDash(tok.Status), tok.QueuedAt, ids)
	return err
}

// RecentChanges returns the latest policy deltas, newest first
func (r *ChangeRepository) RecentChanges(ctx context.Context, limit int) ([]*domain.ChangeRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT old_doc_id, new_doc_id, similarity_ratio, change_magnitude, change_type, sections_affected, detected_at
FROM policy_changes
ORDER BY detected_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ChangeRecord
	for rows.Next() {
		var rec domain.ChangeRecord
		var class string
		var sections []byte
		if err := rows.Scan(&rec.OldDocID, &rec.NewDocID, &rec.SimilarityRatio,
			&rec.ChangeMagnitude, &class, &sections, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Class = domain.ChangeClass(class)
		if err := json.Unmarshal(sections, &rec.SectionsAffected); err != nil {
			return nil, fmt.Errorf("decoding affected sections: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// RecentReports returns the latest impact reports, newest first
func (r *ChangeRepository) RecentReports(ctx context.Context, limit int) ([]*domain.ImpactReport, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT report_json
FROM impact_reports
ORDER BY generated_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ImpactReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rep domain.ImpactReport
		if err := json.Unmarshal(payload, &rep); err != nil {
			return nil, fmt.Errorf("decoding impact report: %w", err)
		}
		out = append(out, &rep)
	}
	return out, rows.Err()
}
