package policy

import "time"

// Source enum
type Source string

const (
	SourceInternal Source = "internal"
	SourceOFAC     Source = "ofac"
	SourceFATF     Source = "fatf"
	SourceRBI      Source = "rbi"
	SourceEUAML    Source = "eu_aml"
)

// Topic enum
type Topic string

const (
	TopicAML       Topic = "aml"
	TopicKYC       Topic = "kyc"
	TopicSanctions Topic = "sanctions"
	TopicFraud     Topic = "fraud"
	TopicGeneral   Topic = "general"
)

// Document is one version of a policy text. An update produces a new
// document id and chunk set; the old set is deactivated, never deleted.
type Document struct {
	DocID     string     `json:"doc_id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Source    Source     `json:"source"`
	Topic     Topic      `json:"topic"`
	Version   string     `json:"version"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// Chunk is the unit of retrieval. Never mutated in place.
type Chunk struct {
	ChunkID   string     `json:"chunk_id"`
	DocID     string     `json:"doc_id"`
	Text      string     `json:"text"`
	Embedding []float32  `json:"-"`
	DocTitle  string     `json:"doc_title"`
	Section   string     `json:"section,omitempty"`
	Source    Source     `json:"source"`
	Topic     Topic      `json:"topic"`
	Version   string     `json:"version"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// ChunkMatch is a chunk plus its retrieval relevance, higher = more similar.
type ChunkMatch struct {
	Chunk
	RelevanceScore float64 `json:"relevance_score"`
}

// ChangeClass enum
type ChangeClass string

const (
	ChangeMinor    ChangeClass = "MINOR"
	ChangeModerate ChangeClass = "MODERATE"
	ChangeMajor    ChangeClass = "MAJOR"
)

// ChangeRecord describes the delta between two policy versions.
type ChangeRecord struct {
	OldDocID         string      `json:"old_doc_id"`
	NewDocID         string      `json:"new_doc_id"`
	SimilarityRatio  float64     `json:"similarity_ratio"`
	ChangeMagnitude  float64     `json:"change_magnitude"`
	Class            ChangeClass `json:"change_type"`
	SectionsAffected []string    `json:"sections_affected"`
	Timestamp        time.Time   `json:"timestamp"`
}

// ImpactReport ties a policy change to the decisions it may invalidate.
type ImpactReport struct {
	ReportID             string       `json:"report_id"`
	GeneratedAt          time.Time    `json:"generated_at"`
	Change               ChangeRecord `json:"policy_change"`
	DecisionsAffected    int          `json:"decisions_affected"`
	RequiresReevaluation bool         `json:"requires_re_evaluation"`
	AffectedDecisionIDs  []string     `json:"affected_decision_ids"`
	Recommendations      []string     `json:"recommendations"`
}

// QueueToken is the durable receipt for an enqueued re-evaluation batch.
type QueueToken struct {
	Token          string    `json:"token"`
	TotalDecisions int       `json:"total_decisions"`
	DecisionIDs    []string  `json:"decision_ids"`
	Status         string    `json:"status"`
	QueuedAt       time.Time `json:"queued_at"`
}

// Snapshot keeps the raw text of a document version so the next update is
// diffed against an immutable copy, not against mutable shared state.
type Snapshot struct {
	DocID     string    `json:"doc_id"`
	Version   string    `json:"version"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentSummary aggregates the indexed chunks of one document.
type DocumentSummary struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Source  Source `json:"source"`
	Topic   Topic  `json:"topic"`
	Version string `json:"version"`
	Chunks  int    `json:"chunks"`
}
