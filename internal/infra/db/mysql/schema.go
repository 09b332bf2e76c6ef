package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the relational tables on startup. Vector data lives
// in postgres; everything here is audit/bookkeeping state.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS compliance_decisions (
			trace_id         VARCHAR(64)  NOT NULL PRIMARY KEY,
			transaction_id   VARCHAR(128) NOT NULL,
			verdict          VARCHAR(32)  NOT NULL,
			risk_score       DOUBLE       NOT NULL DEFAULT 0,
			source           VARCHAR(128) NOT NULL DEFAULT '-',
			stored_at        DATETIME     NOT NULL,
			transaction_json JSON         NOT NULL,
			decision_json    JSON         NOT NULL,
			INDEX idx_decisions_verdict (verdict),
			INDEX idx_decisions_stored_at (stored_at),
			INDEX idx_decisions_transaction (transaction_id)
		)`,
		`CREATE TABLE IF NOT EXISTS compliance_feedback (
			id                BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
			transaction_id    VARCHAR(128) NOT NULL,
			decision_id       VARCHAR(64)  NOT NULL,
			corrected_verdict VARCHAR(32)  NOT NULL,
			reviewer_notes    TEXT,
			reviewer_id       VARCHAR(128) NOT NULL,
			submitted_at      DATETIME     NOT NULL,
			INDEX idx_feedback_transaction (transaction_id)
		)`,
		`CREATE TABLE IF NOT EXISTS policy_changes (
			id                BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
			old_doc_id        VARCHAR(128) NOT NULL,
			new_doc_id        VARCHAR(128) NOT NULL,
			similarity_ratio  DOUBLE       NOT NULL,
			change_magnitude  DOUBLE       NOT NULL,
			change_type       VARCHAR(16)  NOT NULL,
			sections_affected JSON         NOT NULL,
			detected_at       DATETIME     NOT NULL,
			INDEX idx_changes_detected_at (detected_at)
		)`,
		`CREATE TABLE IF NOT EXISTS impact_reports (
			report_id             VARCHAR(64) NOT NULL PRIMARY KEY,
			generated_at          DATETIME    NOT NULL,
			decisions_affected    INT         NOT NULL DEFAULT 0,
			requires_reevaluation BOOLEAN     NOT NULL DEFAULT FALSE,
			report_json           JSON        NOT NULL,
			INDEX idx_reports_generated_at (generated_at)
		)`,
		`CREATE TABLE IF NOT EXISTS reeval_queue_tokens (
			token           VARCHAR(64) NOT NULL PRIMARY KEY,
			total_decisions INT         NOT NULL DEFAULT 0,
			status          VARCHAR(32) NOT NULL,
			queued_at       DATETIME    NOT NULL,
			decision_ids    JSON        NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS policy_snapshots (
			doc_id     VARCHAR(128) NOT NULL PRIMARY KEY,
			version    VARCHAR(32)  NOT NULL,
			content    MEDIUMTEXT   NOT NULL,
			created_at DATETIME     NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
