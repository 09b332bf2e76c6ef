package riskscore

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/policylens/policylens/internal/application"
	"github.com/policylens/policylens/internal/domain/ai"
	"github.com/policylens/policylens/internal/domain/compliance"
)

// Verdict strings of the precedent-aware gate. Deliberately a separate
// vocabulary from the engine's decision verdicts: the two layers are
// independent and both are exposed to callers.
const (
	VerdictFlag   = "FLAG"
	VerdictReview = "REVIEW"
	VerdictClear  = "CLEAR"
)

// Thresholds for the composite verdict, configured independently from the
// evaluation engine's pair.
type Thresholds struct {
	Flag   float64
	Review float64
}

func DefaultThresholds() Thresholds { return Thresholds{Flag: 0.75, Review: 0.45} }

// RiskFactor is a named signal with a severity tag, used for downstream
// prioritization.
type RiskFactor struct {
	Factor   string `json:"factor"`
	Value    string `json:"value"`
	Severity string `json:"severity"`
}

// Assessment is the composite risk result.
type Assessment struct {
	CompositeRiskScore float64                  `json:"composite_risk_score"`
	PolicyRiskScore    float64                  `json:"policy_risk_score"`
	CaseSimilarityRisk float64                  `json:"case_similarity_risk"`
	Verdict            string                   `json:"verdict"`
	SimilarCasesFound  int                      `json:"similar_cases_found"`
	RiskFactors        []RiskFactor             `json:"risk_factors"`
	SimilarCases       []compliance.SimilarCase `json:"similar_cases"`
	Confidence         string                   `json:"confidence"`
	Timestamp          time.Time                `json:"timestamp"`
}

// Scorer blends policy-derived risk with similarity to past flagged cases.
// It degrades to policy-only risk on any retrieval failure and never
// returns an error to the caller.
type Scorer struct {
	Embedder          ai.Embedder
	Cases             compliance.CaseIndex
	Decisions         compliance.DecisionStore
	Clock             application.Clock
	Thresholds        Thresholds
	HighRiskCountries []string
	TopK              int
}

// Score computes the composite assessment. citationCount is the number of
// policy citations the engine attached to its decision; weight is the case
// similarity weight in [0,1] (0.3 by default at the call sites).
func (s *Scorer) Score(ctx context.Context, tx compliance.Transaction, policyRisk float64, citationCount int, weight float64) *Assessment {
	policyRisk = compliance.ClampScore(policyRisk)
	weight = compliance.ClampScore(weight)

	similar := s.findSimilarCases(ctx, tx)

	caseRisk := caseRisk(similar)
	composite := compliance.ClampScore((1-weight)*policyRisk + weight*caseRisk)

	caseContext := similar
	if len(caseContext) > 3 {
		caseContext = caseContext[:3]
	}

	return &Assessment{
		CompositeRiskScore: round3(composite),
		PolicyRiskScore:    round3(policyRisk),
		CaseSimilarityRisk: round3(caseRisk),
		Verdict:            s.verdictFor(composite),
		SimilarCasesFound:  len(similar),
		RiskFactors:        s.riskFactors(tx, citationCount, similar),
		SimilarCases:       caseContext,
		Confidence:         confidenceLabel(similar),
		Timestamp:          s.Clock.Now(),
	}
}

func (s *Scorer) findSimilarCases(ctx context.Context, tx compliance.Transaction) []compliance.SimilarCase {
	topK := s.TopK
	if topK <= 0 {
		topK = 5
	}
	embedding, err := s.Embedder.Embed(ctx, transactionText(tx))
	if err != nil {
		log.Printf("case similarity search degraded, embedding failed: %v", err)
		return nil
	}
	similar, err := s.Cases.SearchFlagged(ctx, embedding, topK)
	if err != nil {
		log.Printf("case similarity search degraded, index failed: %v", err)
		return nil
	}
	return similar
}

// caseRisk is the similarity²-weighted average of stored case risk. With
// no precedent it returns a neutral 0.5: absence of precedent is not
// evidence of safety.
func caseRisk(similar []compliance.SimilarCase) float64 {
	if len(similar) == 0 {
		return 0.5
	}
	var weighted, total float64
	for _, c := range similar {
		w := c.SimilarityScore * c.SimilarityScore
		weighted += w * c.RiskScore
		total += w
	}
	if total == 0 {
		return 0.5
	}
	return weighted / total
}

func (s *Scorer) verdictFor(score float64) string {
	t := s.Thresholds
	if t.Flag == 0 && t.Review == 0 {
		t = DefaultThresholds()
	}
	switch {
	case score >= t.Flag:
		return VerdictFlag
	case score >= t.Review:
		return VerdictReview
	default:
		return VerdictClear
	}
}

func (s *Scorer) riskFactors(tx compliance.Transaction, citationCount int, similar []compliance.SimilarCase) []RiskFactor {
	factors := []RiskFactor{}

	if tx.Amount > 50000 {
		severity := "medium"
		if tx.Amount > 100000 {
			severity = "high"
		}
		factors = append(factors, RiskFactor{
			Factor:   "High Transaction Amount",
			Value:    fmt.Sprintf("%s %.2f", tx.Currency, tx.Amount),
			Severity: severity,
		})
	}

	if citationCount > 0 {
		factors = append(factors, RiskFactor{
			Factor:   "Policy Violations Detected",
			Value:    fmt.Sprintf("%d policies cited", citationCount),
			Severity: "high",
		})
	}

	var flagged []compliance.SimilarCase
	for _, c := range similar {
		if c.Verdict == compliance.VerdictFlag {
			flagged = append(flagged, c)
		}
	}
	if len(flagged) > 0 {
		avg := avgSimilarity(flagged)
		severity := "medium"
		if avg > 0.8 {
			severity = "high"
		}
		factors = append(factors, RiskFactor{
			Factor:   "Similar Flagged Transactions",
			Value:    fmt.Sprintf("%d cases (avg similarity: %.0f%%)", len(flagged), avg*100),
			Severity: severity,
		})
	}

	for _, country := range []string{tx.SenderCountry, tx.ReceiverCountry} {
		if country != "" && contains(s.HighRiskCountries, country) {
			factors = append(factors, RiskFactor{
				Factor:   "High-Risk Country",
				Value:    country,
				Severity: "high",
			})
		}
	}

	return factors
}

func confidenceLabel(similar []compliance.SimilarCase) string {
	if len(similar) == 0 {
		return "low"
	}
	avg := avgSimilarity(similar)
	switch {
	case avg > 0.7 && len(similar) >= 3:
		return "high"
	case avg > 0.5:
		return "medium"
	default:
		return "low"
	}
}

// StoreCaseForLearning persists a decision as retrievable precedent. Only
// flagged or review outcomes are stored through this path.
func (s *Scorer) StoreCaseForLearning(ctx context.Context, decisionID string, tx compliance.Transaction, verdict compliance.Verdict, riskScore float64, reasoning string) error {
	if verdict != compliance.VerdictFlag && verdict != compliance.VerdictNeedsReview {
		return nil
	}
	embedding, err := s.Embedder.Embed(ctx, transactionText(tx))
	if err != nil {
		return &compliance.RetrievalError{Op: "embed case", Err: err}
	}
	if len(reasoning) > 500 {
		reasoning = reasoning[:500]
	}
	c := &compliance.Case{
		CaseID:        decisionID,
		TransactionID: tx.TransactionID,
		Embedding:     embedding,
		Verdict:       verdict,
		Reasoning:     reasoning,
		RiskScore:     compliance.ClampScore(riskScore),
		Timestamp:     s.Clock.Now(),
	}
	if err := s.Cases.Insert(ctx, c); err != nil {
		return &compliance.PersistenceError{Op: "insert case", Err: err}
	}
	log.Printf("stored case %s for future learning", decisionID)
	return nil
}

// Statistics aggregates the stored decision history.
type Statistics struct {
	TotalCases          int            `json:"total_cases"`
	AverageRiskScore    float64        `json:"average_risk_score"`
	VerdictDistribution map[string]int `json:"verdict_distribution"`
}

func (s *Scorer) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{VerdictDistribution: map[string]int{}}
	offset := 0
	const page = 500
	var sum float64
	for {
		records, err := s.Decisions.List(ctx, compliance.ListFilter{Offset: offset, Limit: page})
		if err != nil {
			return nil, &compliance.PersistenceError{Op: "list decisions", Err: err}
		}
		for _, rec := range records {
			if rec.Decision == nil {
				continue
			}
			stats.TotalCases++
			stats.VerdictDistribution[string(rec.Decision.Verdict)]++
			sum += rec.Decision.RiskScore
		}
		if len(records) < page {
			break
		}
		offset += page
	}
	if stats.TotalCases > 0 {
		stats.AverageRiskScore = round3(sum / float64(stats.TotalCases))
	}
	return stats, nil
}

func transactionText(tx compliance.Transaction) string {
	text := fmt.Sprintf("transaction of %s %.2f from %s to %s", tx.Currency, tx.Amount, tx.Sender, tx.Receiver)
	if tx.ReceiverCountry != "" {
		text += fmt.Sprintf(" in %s", tx.ReceiverCountry)
	}
	if tx.Description != "" {
		text += fmt.Sprintf(" described as: %s", tx.Description)
	}
	return text
}

func avgSimilarity(cases []compliance.SimilarCase) float64 {
	var sum float64
	for _, c := range cases {
		sum += c.SimilarityScore
	}
	return sum / float64(len(cases))
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
