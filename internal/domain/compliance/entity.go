package compliance

import (
	"encoding/json"
	"time"
)

// TraceID identifies one evaluation run and the decision record it produced
type TraceID string

// Verdict enum
type Verdict string

const (
	VerdictFlag        Verdict = "flag"
	VerdictNeedsReview Verdict = "needs_review"
	VerdictAcceptable  Verdict = "acceptable"
)

// RiskLevel enum
type RiskLevel string

const (
	RiskHigh       RiskLevel = "high"
	RiskMedium     RiskLevel = "medium"
	RiskLow        RiskLevel = "low"
	RiskAcceptable RiskLevel = "acceptable"
)

// Transaction is immutable once submitted for evaluation.
type Transaction struct {
	TransactionID   string    `json:"transaction_id"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	Sender          string    `json:"sender"`
	Receiver        string    `json:"receiver"`
	SenderCountry   string    `json:"sender_country,omitempty"`
	ReceiverCountry string    `json:"receiver_country,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Description     string    `json:"description,omitempty"`
}

// PolicyCitation is a snapshot of a retrieved chunk at decision time,
// decoupled from later chunk state.
type PolicyCitation struct {
	DocID          string  `json:"doc_id"`
	DocTitle       string  `json:"doc_title"`
	Section        string  `json:"section,omitempty"`
	Text           string  `json:"text"`
	RelevanceScore float64 `json:"relevance_score"`
	Version        string  `json:"version"`
}

// SimilarCase is a historical precedent retrieved by embedding similarity.
type SimilarCase struct {
	CaseID          string    `json:"case_id"`
	TransactionID   string    `json:"transaction_id"`
	SimilarityScore float64   `json:"similarity_score"`
	Verdict         Verdict   `json:"verdict"`
	RiskScore       float64   `json:"risk_score"`
	Reasoning       string    `json:"reasoning"`
	Timestamp       time.Time `json:"timestamp"`
}

// Case is the append-only precedent written once per evaluated transaction.
type Case struct {
	CaseID        string    `json:"case_id"`
	TransactionID string    `json:"transaction_id"`
	Embedding     []float32 `json:"-"`
	Verdict       Verdict   `json:"verdict"`
	Reasoning     string    `json:"reasoning"`
	RiskScore     float64   `json:"risk_score"`
	Timestamp     time.Time `json:"timestamp"`
}

// Decision is the outcome of one evaluation. Immutable once stored;
// re-evaluation writes a new record.
type Decision struct {
	TransactionID   string           `json:"transaction_id"`
	Verdict         Verdict          `json:"verdict"`
	RiskLevel       RiskLevel        `json:"risk_level"`
	RiskScore       float64          `json:"risk_score"`
	Reasoning       string           `json:"reasoning"`
	PolicyCitations []PolicyCitation `json:"policy_citations"`
	SimilarCases    []SimilarCase    `json:"similar_cases"`
	Confidence      float64          `json:"confidence"`
	// Source names the reasoning model, or "fallback" when the
	// deterministic heuristic produced the decision.
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// DecisionRecord is the stored envelope: the decision plus the raw
// transaction snapshot it was computed from. Transaction is kept as raw
// JSON so replay can detect (and skip) payloads that no longer parse.
type DecisionRecord struct {
	TraceID     string          `json:"trace_id"`
	Transaction json.RawMessage `json:"transaction"`
	Decision    *Decision       `json:"decision"`
	StoredAt    time.Time       `json:"stored_at"`
}

// Feedback is a reviewer correction attached to a past decision.
type Feedback struct {
	ID               int64     `json:"id"`
	TransactionID    string    `json:"transaction_id"`
	DecisionID       string    `json:"decision_id"`
	CorrectedVerdict Verdict   `json:"corrected_verdict"`
	ReviewerNotes    string    `json:"reviewer_notes,omitempty"`
	ReviewerID       string    `json:"reviewer_id"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// ReevaluationChange records verdict drift for one replayed transaction.
type ReevaluationChange struct {
	TransactionID string    `json:"transaction_id"`
	DecisionID    string    `json:"decision_id"`
	OldVerdict    Verdict   `json:"old_verdict"`
	NewVerdict    Verdict   `json:"new_verdict"`
	OldRiskScore  float64   `json:"old_risk_score"`
	NewRiskScore  float64   `json:"new_risk_score"`
	ReevaluatedAt time.Time `json:"re_evaluation_date"`
	Reason        string    `json:"reason_for_change"`
}

// ReevaluationSummary aggregates one batch replay run.
type ReevaluationSummary struct {
	Status            string               `json:"status"`
	TotalDecisions    int                  `json:"total_decisions"`
	FilteredDecisions int                  `json:"filtered_decisions"`
	Reevaluated       int                  `json:"re_evaluated"`
	Skipped           int                  `json:"skipped"`
	Failed            int                  `json:"failed"`
	VerdictsChanged   int                  `json:"verdicts_changed"`
	Changes           []ReevaluationChange `json:"changes"`
	Timestamp         time.Time            `json:"timestamp"`
}

// ClampScore bounds risk/similarity/confidence values to [0,1].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseVerdict normalizes gateway output to a known verdict, coercing
// unknown values to needs_review rather than propagating garbage.
func ParseVerdict(s string) Verdict {
	switch Verdict(normalize(s)) {
	case VerdictFlag:
		return VerdictFlag
	case VerdictAcceptable, "clear":
		return VerdictAcceptable
	default:
		return VerdictNeedsReview
	}
}

// ParseRiskLevel normalizes gateway output to a known risk level.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(normalize(s)) {
	case RiskHigh:
		return RiskHigh
	case RiskLow:
		return RiskLow
	case RiskAcceptable:
		return RiskAcceptable
	default:
		return RiskMedium
	}
}

func normalize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' {
			c = '_'
		}
		out = append(out, c)
	}
	return string(out)
}
