package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	domain "github.com/policylens/policylens/internal/domain/compliance"
)

type DecisionRepository struct {
	db *sql.DB
}

func NewDecisionRepository(db *sql.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Put insert/update decision record
func (r *DecisionRepository) Put(ctx context.Context, rec *domain.DecisionRecord) error {
	const q = `
INSERT INTO compliance_decisions
(trace_id, transaction_id, verdict, risk_score, source, stored_at, transaction_json, decision_json)
VALUES (?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 verdict=VALUES(verdict), risk_score=VALUES(risk_score), source=VALUES(source),
 transaction_json=VALUES(transaction_json), decision_json=VALUES(decision_json);
`
	decisionJSON, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("encoding decision: %w", err)
	}
	storedAt := rec.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, q,
		rec.TraceID,
		stringOrDash(rec.Decision.TransactionID),
		stringOrDash(string(rec.Decision.Verdict)),
		rec.Decision.RiskScore,
		stringOrDash(rec.Decision.Source),
		storedAt,
		[]byte(rec.Transaction),
		decisionJSON,
	)
	return err
}

// Get by trace id. A record whose decision payload no longer parses comes
// back as a typed error so callers can distinguish it from absence.
func (r *DecisionRepository) Get(ctx context.Context, traceID string) (*domain.DecisionRecord, error) {
	const q = `
SELECT trace_id, stored_at, transaction_json, decision_json
FROM compliance_decisions
WHERE trace_id=? LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, traceID)

	rec, err := scanRecord(row.Scan)
	if err != nil {
		return nil, err
	}
	if rec.Decision == nil {
		return nil, &domain.MalformedRecordError{TraceID: traceID, Err: fmt.Errorf("decision payload unreadable")}
	}
	return rec, nil
}

// List with dynamic filters. Malformed decision payloads are returned with
// a nil Decision rather than aborting the listing.
func (r *DecisionRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.DecisionRecord, error) {
	query := `
SELECT trace_id, stored_at, transaction_json, decision_json
FROM compliance_decisions
WHERE 1=1`
	var args []interface{}

	if f.Verdict != "" {
		query += " AND verdict = ?"
		args = append(args, string(f.Verdict))
	}
	if len(f.TraceIDs) > 0 {
		query += " AND trace_id IN (?" + strings.Repeat(",?", len(f.TraceIDs)-1) + ")"
		for _, id := range f.TraceIDs {
			args = append(args, id)
		}
	}
	if !f.DateFrom.IsZero() {
		query += " AND stored_at >= ?"
		args = append(args, f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		query += " AND stored_at <= ?"
		args = append(args, f.DateTo)
	}

	query += "\n ORDER BY stored_at ASC, trace_id ASC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var out []*domain.DecisionRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the total number of stored decisions
func (r *DecisionRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM compliance_decisions").Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func scanRecord(scan func(dest ...interface{}) error) (*domain.DecisionRecord, error) {
	var rec domain.DecisionRecord
	var txJSON, decisionJSON []byte
	if err := scan(&rec.TraceID, &rec.StoredAt, &txJSON, &decisionJSON); err != nil {
		return nil, err
	}
	rec.Transaction = json.RawMessage(txJSON)

	var d domain.Decision
	if err := json.Unmarshal(decisionJSON, &d); err != nil {
		log.Printf("decision %s has unreadable payload: %v", rec.TraceID, err)
		return &rec, nil
	}
	rec.Decision = &d
	return &rec, nil
}
