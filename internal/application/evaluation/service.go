package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/policylens/policylens/internal/application"
	"github.com/policylens/policylens/internal/domain/ai"
	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

// Config holds the engine's tunables. The risk thresholds here are the
// rule-based gate; the riskscore package carries its own, independent pair.
type Config struct {
	TopKPolicies        int
	TopKCases           int
	HighRiskThreshold   float64
	MediumRiskThreshold float64
	HighRiskCountries   []string
	ExcerptLen          int
	FallbackConfidence  float64
}

func DefaultConfig() Config {
	return Config{
		TopKPolicies:        5,
		TopKCases:           3,
		HighRiskThreshold:   0.75,
		MediumRiskThreshold: 0.45,
		HighRiskCountries:   []string{"North Korea", "Iran", "Syria"},
		ExcerptLen:          500,
		FallbackConfidence:  0.6,
	}
}

// Service implements the transaction evaluation pipeline: retrieval,
// reasoning, decision assembly, case write, decision write.
// Safe for concurrent use.
type Service struct {
	Embedder  ai.Embedder
	Chunks    policy.ChunkIndex
	Cases     compliance.CaseIndex
	Reasoner  ai.Reasoner // nil means fallback-only operation
	Decisions compliance.DecisionStore
	Clock     application.Clock
	Metrics   application.MetricsRecorder
	Config    Config
}

// Result of one evaluation.
type Result struct {
	Decision     *compliance.Decision `json:"decision"`
	TraceID      string               `json:"trace_id"`
	ProcessingMS float64              `json:"processing_time_ms"`
}

// Evaluate runs the full pipeline for one transaction. Retrieval and
// persistence failures are fatal (typed errors, no case write); a
// reasoning failure falls back to the deterministic heuristic.
func (s *Service) Evaluate(ctx context.Context, tx compliance.Transaction) (*Result, error) {
	start := s.Clock.Now()
	traceID := uuid.New().String()

	log.Printf("[%s] evaluating transaction %s", traceID, tx.TransactionID)

	embedding, err := s.Embedder.Embed(ctx, TransactionText(tx))
	if err != nil {
		s.Metrics.IncEvaluationFailures()
		return nil, &compliance.RetrievalError{Op: "embed transaction", Err: err}
	}

	chunks, err := s.Chunks.Search(ctx, embedding, s.Config.TopKPolicies, "", true)
	if err != nil {
		s.Metrics.IncEvaluationFailures()
		return nil, &compliance.RetrievalError{Op: "search policies", Err: err}
	}
	cases, err := s.Cases.Search(ctx, embedding, s.Config.TopKCases)
	if err != nil {
		s.Metrics.IncEvaluationFailures()
		return nil, &compliance.RetrievalError{Op: "search cases", Err: err}
	}
	log.Printf("[%s] retrieved %d policy chunks, %d similar cases", traceID, len(chunks), len(cases))

	eval := s.reason(ctx, traceID, tx, chunks, cases)

	decision := s.assemble(tx, eval, chunks, cases)

	// Close the feedback loop only after the decision is finalized.
	c := &compliance.Case{
		CaseID:        uuid.New().String(),
		TransactionID: tx.TransactionID,
		Embedding:     embedding,
		Verdict:       decision.Verdict,
		Reasoning:     decision.Reasoning,
		RiskScore:     decision.RiskScore,
		Timestamp:     s.Clock.Now(),
	}
	if err := s.Cases.Insert(ctx, c); err != nil {
		s.Metrics.IncEvaluationFailures()
		return nil, &compliance.PersistenceError{Op: "insert case", Err: err}
	}

	txJSON, err := json.Marshal(tx)
	if err != nil {
		return nil, &compliance.PersistenceError{Op: "encode transaction", Err: err}
	}
	rec := &compliance.DecisionRecord{
		TraceID:     traceID,
		Transaction: txJSON,
		Decision:    decision,
		StoredAt:    s.Clock.Now(),
	}
	if err := s.Decisions.Put(ctx, rec); err != nil {
		s.Metrics.IncEvaluationFailures()
		return nil, &compliance.PersistenceError{Op: "store decision", Err: err}
	}

	elapsed := float64(s.Clock.Now().Sub(start).Microseconds()) / 1000.0
	s.Metrics.IncEvaluations(decision.Source)
	s.Metrics.ObserveEvaluationLatency(elapsed)
	log.Printf("[%s] decision: %s (risk %.2f) in %.0fms", traceID, decision.Verdict, decision.RiskScore, elapsed)

	return &Result{Decision: decision, TraceID: traceID, ProcessingMS: elapsed}, nil
}

func (s *Service) reason(ctx context.Context, traceID string, tx compliance.Transaction, chunks []policy.ChunkMatch, cases []compliance.SimilarCase) *ai.Evaluation {
	if s.Reasoner == nil {
		return Fallback(tx, chunks, s.Config)
	}
	eval, err := s.Reasoner.EvaluateTransaction(ctx, tx, chunks, cases)
	if err != nil {
		log.Printf("[%s] reasoning gateway failed, using fallback: %v", traceID, err)
		return Fallback(tx, chunks, s.Config)
	}
	return eval
}

func (s *Service) assemble(tx compliance.Transaction, eval *ai.Evaluation, chunks []policy.ChunkMatch, cases []compliance.SimilarCase) *compliance.Decision {
	citations := make([]compliance.PolicyCitation, 0, len(chunks))
	for _, m := range chunks {
		citations = append(citations, compliance.PolicyCitation{
			DocID:          m.DocID,
			DocTitle:       m.DocTitle,
			Section:        m.Section,
			Text:           truncate(m.Text, s.Config.ExcerptLen),
			RelevanceScore: compliance.ClampScore(m.RelevanceScore),
			Version:        m.Version,
		})
	}
	source := eval.Model
	if source == "" {
		source = "fallback"
	}
	return &compliance.Decision{
		TransactionID:   tx.TransactionID,
		Verdict:         eval.Verdict,
		RiskLevel:       eval.RiskLevel,
		RiskScore:       compliance.ClampScore(eval.RiskScore),
		Reasoning:       eval.Reasoning,
		PolicyCitations: citations,
		SimilarCases:    cases,
		Confidence:      compliance.ClampScore(eval.Confidence),
		Source:          source,
		Timestamp:       s.Clock.Now(),
	}
}

// Fallback is the deterministic rule-based evaluation used when the
// reasoning gateway fails or is not configured. Pure function of the
// transaction, the top retrieved relevance and the configured thresholds.
func Fallback(tx compliance.Transaction, chunks []policy.ChunkMatch, cfg Config) *ai.Evaluation {
	score := 0.0
	if tx.Amount > 10000 {
		score += 0.3
	}
	if tx.Amount > 50000 {
		score += 0.2
	}
	if containsCountry(cfg.HighRiskCountries, tx.SenderCountry) {
		score += 0.4
	}
	if containsCountry(cfg.HighRiskCountries, tx.ReceiverCountry) {
		score += 0.4
	}
	if len(chunks) > 0 && chunks[0].RelevanceScore > 0.8 {
		score += 0.2
	}
	score = compliance.ClampScore(score)

	var verdict compliance.Verdict
	var level compliance.RiskLevel
	switch {
	case score >= cfg.HighRiskThreshold:
		verdict, level = compliance.VerdictFlag, compliance.RiskHigh
	case score >= cfg.MediumRiskThreshold:
		verdict, level = compliance.VerdictNeedsReview, compliance.RiskMedium
	default:
		verdict, level = compliance.VerdictAcceptable, compliance.RiskLow
	}

	return &ai.Evaluation{
		Verdict:   verdict,
		RiskLevel: level,
		RiskScore: score,
		Reasoning: fmt.Sprintf("Rule-based evaluation: Amount=%v, Countries=%s->%s",
			tx.Amount, tx.SenderCountry, tx.ReceiverCountry),
		Confidence: cfg.FallbackConfidence,
	}
}

// QueryResult is the answer to a compliance query with its citations.
type QueryResult struct {
	Query      string                      `json:"query"`
	Answer     string                      `json:"answer"`
	Citations  []compliance.PolicyCitation `json:"citations"`
	Confidence float64                     `json:"confidence"`
}

// AnswerQuery retrieves relevant policy chunks and asks the reasoner for
// an answer; without a reasoner it assembles an excerpt-based answer.
func (s *Service) AnswerQuery(ctx context.Context, query string, topic policy.Topic) (*QueryResult, error) {
	embedding, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, &compliance.RetrievalError{Op: "embed query", Err: err}
	}
	chunks, err := s.Chunks.Search(ctx, embedding, s.Config.TopKPolicies, topic, true)
	if err != nil {
		return nil, &compliance.RetrievalError{Op: "search policies", Err: err}
	}

	var answer *ai.Answer
	if s.Reasoner != nil {
		answer, err = s.Reasoner.AnswerQuery(ctx, query, chunks)
		if err != nil {
			log.Printf("query reasoning failed, using fallback answer: %v", err)
			answer = nil
		}
	}
	if answer == nil {
		answer = fallbackAnswer(query, chunks)
	}

	citations := make([]compliance.PolicyCitation, 0, len(chunks))
	for _, m := range chunks {
		citations = append(citations, compliance.PolicyCitation{
			DocID:          m.DocID,
			DocTitle:       m.DocTitle,
			Section:        m.Section,
			Text:           truncate(m.Text, s.Config.ExcerptLen),
			RelevanceScore: compliance.ClampScore(m.RelevanceScore),
			Version:        m.Version,
		})
	}
	return &QueryResult{
		Query:      query,
		Answer:     answer.Answer,
		Citations:  citations,
		Confidence: compliance.ClampScore(answer.Confidence),
	}, nil
}

func fallbackAnswer(query string, chunks []policy.ChunkMatch) *ai.Answer {
	if len(chunks) == 0 {
		return &ai.Answer{
			Answer:     fmt.Sprintf("No policy context available to answer: %q. Upload policies first.", query),
			Confidence: 0,
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Answer assembled from policy search results for: %q\n", query)
	limit := len(chunks)
	if limit > 3 {
		limit = 3
	}
	for i := 0; i < limit; i++ {
		m := chunks[i]
		fmt.Fprintf(&b, "\n%d. %s (v%s)", i+1, m.DocTitle, m.Version)
		if m.Section != "" {
			fmt.Fprintf(&b, ", %s", m.Section)
		}
		fmt.Fprintf(&b, ":\n%s\n", truncate(m.Text, 400))
	}
	conf := chunks[0].RelevanceScore
	if conf > 0.7 {
		conf = 0.7
	}
	return &ai.Answer{Answer: b.String(), Confidence: compliance.ClampScore(conf)}
}

// TransactionText builds the canonical descriptor that gets embedded.
// Keeping the format fixed keeps retrieval independent of struct layout.
func TransactionText(tx compliance.Transaction) string {
	sender := orUnknown(tx.SenderCountry)
	receiver := orUnknown(tx.ReceiverCountry)
	desc := tx.Description
	if desc == "" {
		desc = "N/A"
	}
	return fmt.Sprintf("Transaction %s: %s %v from %s (%s) to %s (%s). Description: %s",
		tx.TransactionID, tx.Currency, tx.Amount, tx.Sender, sender, tx.Receiver, receiver, desc)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func truncate(s string, n int) string {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

func containsCountry(set []string, country string) bool {
	for _, c := range set {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}
