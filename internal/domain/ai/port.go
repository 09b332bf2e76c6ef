package ai

import (
	"context"

	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

// Evaluation is the schema-validated result of one reasoning call. Raw
// preserves the gateway's original text for audit even when values were
// coerced to safe defaults.
type Evaluation struct {
	Verdict    compliance.Verdict   `json:"verdict"`
	RiskLevel  compliance.RiskLevel `json:"risk_level"`
	RiskScore  float64              `json:"risk_score"`
	Reasoning  string               `json:"reasoning"`
	Confidence float64              `json:"confidence"`
	Model      string               `json:"model,omitempty"`
	Raw        string               `json:"-"`
}

// Answer is the result of a compliance query.
type Answer struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Raw        string  `json:"-"`
}

// Embedder port: text to fixed-dimension vector. Deterministic for
// identical input within a model version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Reasoner port: structured prompt to verdict/risk/confidence, or a typed
// failure wrapping ErrUnavailable.
type Reasoner interface {
	EvaluateTransaction(ctx context.Context, tx compliance.Transaction, chunks []policy.ChunkMatch, cases []compliance.SimilarCase) (*Evaluation, error)
	AnswerQuery(ctx context.Context, query string, chunks []policy.ChunkMatch) (*Answer, error)
}
