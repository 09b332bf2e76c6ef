package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/policylens/policylens/internal/application"
	"github.com/policylens/policylens/internal/application/evaluation"
	"github.com/policylens/policylens/internal/domain/compliance"
)

// Evaluator replays a transaction through the evaluation pipeline.
// Satisfied by evaluation.Service.
type Evaluator interface {
	Evaluate(ctx context.Context, tx compliance.Transaction) (*evaluation.Result, error)
}

// ImpactFinder resolves which stored decisions cite a policy document.
// Satisfied by sentinel.Service.
type ImpactFinder interface {
	FindImpacted(ctx context.Context, docID string) ([]string, error)
}

// Filter narrows which stored decisions a batch run replays.
// Zero values mean "no filter".
type Filter struct {
	Verdict  compliance.Verdict
	TraceIDs []string
	DateFrom time.Time
	DateTo   time.Time
}

// Service replays stored decisions against the current policy corpus and
// reports verdict drift. Replay never mutates the original records: each
// re-evaluation stores a fresh decision under a new trace id.
type Service struct {
	Decisions compliance.DecisionStore
	Engine    Evaluator
	Impact    ImpactFinder
	Artifacts application.ArtifactStore
	Clock     application.Clock
	Metrics   application.MetricsRecorder
	// Workers caps concurrent replays. Defaults to 5.
	Workers int
	// PageSize for streaming the decision history. Defaults to 200.
	PageSize int
}

// ReevaluateAll replays every stored decision matching the filter.
// Records whose transaction snapshot no longer parses are counted as
// skipped, never aborting the batch.
func (s *Service) ReevaluateAll(ctx context.Context, filter Filter) (*compliance.ReevaluationSummary, error) {
	total, err := s.Decisions.Count(ctx)
	if err != nil {
		return nil, &compliance.PersistenceError{Op: "count decisions", Err: err}
	}

	records, err := s.listAll(ctx, filter)
	if err != nil {
		return nil, err
	}

	summary := &compliance.ReevaluationSummary{
		Status:            "COMPLETED",
		TotalDecisions:    total,
		FilteredDecisions: len(records),
		Timestamp:         s.Clock.Now(),
	}
	if len(records) == 0 {
		summary.Status = "NO_DECISIONS"
		return summary, nil
	}

	log.Printf("re-evaluating %d of %d stored decisions", len(records), total)

	workers := s.Workers
	if workers <= 0 {
		workers = 5
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, rec := range records {
		if ctx.Err() != nil {
			mu.Lock()
			summary.Status = "CANCELLED"
			mu.Unlock()
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(rec *compliance.DecisionRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			change, outcome := s.replayOne(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case replaySkipped:
				summary.Skipped++
			case replayFailed:
				summary.Failed++
			default:
				summary.Reevaluated++
				if change != nil {
					summary.Changes = append(summary.Changes, *change)
					if change.OldVerdict != change.NewVerdict {
						summary.VerdictsChanged++
						s.Metrics.IncVerdictChanges()
					}
				}
			}
		}(rec)
	}
	wg.Wait()

	s.Metrics.IncReevaluations()
	log.Printf("batch re-evaluation done: %d replayed, %d skipped, %d failed, %d verdicts changed",
		summary.Reevaluated, summary.Skipped, summary.Failed, summary.VerdictsChanged)
	return summary, nil
}

type replayOutcome int

const (
	replayOK replayOutcome = iota
	replaySkipped
	replayFailed
)

func (s *Service) replayOne(ctx context.Context, rec *compliance.DecisionRecord) (*compliance.ReevaluationChange, replayOutcome) {
	if rec.Decision == nil || len(rec.Transaction) == 0 {
		log.Printf("skipping malformed decision record %s", rec.TraceID)
		return nil, replaySkipped
	}
	var tx compliance.Transaction
	if err := json.Unmarshal(rec.Transaction, &tx); err != nil {
		log.Printf("skipping decision %s, transaction snapshot unreadable: %v", rec.TraceID, err)
		return nil, replaySkipped
	}

	result, err := s.Engine.Evaluate(ctx, tx)
	if err != nil {
		log.Printf("re-evaluation of %s failed: %v", rec.TraceID, err)
		return nil, replayFailed
	}

	old, updated := rec.Decision, result.Decision
	if !materiallyDifferent(old, updated) {
		return nil, replayOK
	}
	return &compliance.ReevaluationChange{
		TransactionID: tx.TransactionID,
		DecisionID:    rec.TraceID,
		OldVerdict:    old.Verdict,
		NewVerdict:    updated.Verdict,
		OldRiskScore:  old.RiskScore,
		NewRiskScore:  updated.RiskScore,
		ReevaluatedAt: s.Clock.Now(),
		Reason:        changeReason(old, updated),
	}, replayOK
}

func materiallyDifferent(old, updated *compliance.Decision) bool {
	if old.Verdict != updated.Verdict {
		return true
	}
	if math.Abs(old.RiskScore-updated.RiskScore) > 0.1 {
		return true
	}
	return len(old.PolicyCitations) != len(updated.PolicyCitations)
}

func changeReason(old, updated *compliance.Decision) string {
	var reasons []string
	switch {
	case updated.RiskScore > old.RiskScore+0.1:
		reasons = append(reasons, fmt.Sprintf("Risk score increased from %.2f to %.2f", old.RiskScore, updated.RiskScore))
	case updated.RiskScore < old.RiskScore-0.1:
		reasons = append(reasons, fmt.Sprintf("Risk score decreased from %.2f to %.2f", old.RiskScore, updated.RiskScore))
	}
	if len(old.PolicyCitations) != len(updated.PolicyCitations) {
		reasons = append(reasons, fmt.Sprintf("Policy citations changed from %d to %d",
			len(old.PolicyCitations), len(updated.PolicyCitations)))
	}
	if old.Verdict != updated.Verdict && old.Reasoning != updated.Reasoning {
		reasons = append(reasons, "Policy reasoning updated")
	}
	if len(reasons) == 0 {
		return "Policy updates affected decision criteria"
	}
	return strings.Join(reasons, " | ")
}

func (s *Service) listAll(ctx context.Context, filter Filter) ([]*compliance.DecisionRecord, error) {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	var out []*compliance.DecisionRecord
	offset := 0
	for {
		page, err := s.Decisions.List(ctx, compliance.ListFilter{
			Verdict:  filter.Verdict,
			TraceIDs: filter.TraceIDs,
			DateFrom: filter.DateFrom,
			DateTo:   filter.DateTo,
			Offset:   offset,
			Limit:    pageSize,
		})
		if err != nil {
			return nil, &compliance.PersistenceError{Op: "list decisions", Err: err}
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		offset += pageSize
	}
}

// Candidate is a stored decision old enough to merit replay.
type Candidate struct {
	TraceID       string             `json:"trace_id"`
	TransactionID string             `json:"transaction_id"`
	Verdict       compliance.Verdict `json:"verdict"`
	RiskScore     float64            `json:"risk_score"`
	StoredAt      time.Time          `json:"stored_at"`
	AgeDays       int                `json:"age_days"`
}

// Candidates lists decisions at least daysOld days old, optionally
// restricted to one verdict.
func (s *Service) Candidates(ctx context.Context, daysOld int, verdict compliance.Verdict) ([]Candidate, error) {
	if daysOld < 0 {
		daysOld = 0
	}
	now := s.Clock.Now()
	cutoff := now.AddDate(0, 0, -daysOld)

	records, err := s.listAll(ctx, Filter{Verdict: verdict, DateTo: cutoff})
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(records))
	for _, rec := range records {
		if rec.Decision == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			TraceID:       rec.TraceID,
			TransactionID: rec.Decision.TransactionID,
			Verdict:       rec.Decision.Verdict,
			RiskScore:     rec.Decision.RiskScore,
			StoredAt:      rec.StoredAt,
			AgeDays:       int(now.Sub(rec.StoredAt).Hours() / 24),
		})
	}
	return candidates, nil
}

// ReevaluateByPolicy replays only the decisions that cite the given
// policy document.
func (s *Service) ReevaluateByPolicy(ctx context.Context, docID string) (*compliance.ReevaluationSummary, error) {
	impacted, err := s.Impact.FindImpacted(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(impacted) == 0 {
		return &compliance.ReevaluationSummary{
			Status:    "NO_DECISIONS",
			Timestamp: s.Clock.Now(),
		}, nil
	}
	return s.ReevaluateAll(ctx, Filter{TraceIDs: impacted})
}

// RenderReport formats a summary as a plain-text report and uploads an
// artifact copy. The upload is best-effort; the text is always returned.
func (s *Service) RenderReport(ctx context.Context, summary *compliance.ReevaluationSummary) string {
	var b strings.Builder
	b.WriteString("BATCH RE-EVALUATION REPORT\n")
	b.WriteString("==========================\n\n")
	fmt.Fprintf(&b, "Generated:          %s\n", summary.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Status:             %s\n", summary.Status)
	fmt.Fprintf(&b, "Total decisions:    %d\n", summary.TotalDecisions)
	fmt.Fprintf(&b, "Matched filter:     %d\n", summary.FilteredDecisions)
	fmt.Fprintf(&b, "Re-evaluated:       %d\n", summary.Reevaluated)
	fmt.Fprintf(&b, "Skipped:            %d\n", summary.Skipped)
	fmt.Fprintf(&b, "Failed:             %d\n", summary.Failed)
	fmt.Fprintf(&b, "Verdicts changed:   %d\n", summary.VerdictsChanged)

	if len(summary.Changes) > 0 {
		b.WriteString("\nCHANGES\n-------\n")
		for _, c := range summary.Changes {
			fmt.Fprintf(&b, "- %s: %s -> %s (risk %.2f -> %.2f)\n  %s\n",
				c.TransactionID, c.OldVerdict, c.NewVerdict, c.OldRiskScore, c.NewRiskScore, c.Reason)
		}
	}

	report := b.String()
	if s.Artifacts != nil {
		key := fmt.Sprintf("reevaluation_reports/%s.txt", summary.Timestamp.Format("20060102_150405"))
		if _, err := s.Artifacts.PutText(ctx, key, report); err != nil {
			log.Printf("re-evaluation report artifact upload failed: %v", err)
		}
	}
	return report
}
