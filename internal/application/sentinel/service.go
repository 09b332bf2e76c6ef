package sentinel

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/policylens/policylens/internal/application"
	"github.com/policylens/policylens/internal/application/chunker"
	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

// Classification boundaries on change magnitude.
const (
	minorBound    = 0.05
	moderateBound = 0.20
	// Above this magnitude an impact report demands re-evaluation.
	reevalBound = 0.10
)

// Service watches policy edits, scopes their impact on past decisions and
// queues re-evaluation. Every artifact it produces is durably recorded:
// change records, impact reports and queue tokens are audit evidence.
type Service struct {
	Decisions compliance.DecisionStore
	Changes   policy.ChangeLog
	Queue     policy.ReevalQueue
	Artifacts application.ArtifactStore
	Clock     application.Clock
	Metrics   application.MetricsRecorder
	// ScanPageSize caps how many decisions are held in memory at once
	// while scanning history for citations.
	ScanPageSize int
}

// DetectChange compares two policy versions. Similarity is a
// longest-matching-blocks ratio over word tokens, so reordering and
// paraphrase degrade it gradually rather than flipping it to zero.
func (s *Service) DetectChange(ctx context.Context, oldDocID, newDocID, oldText, newText string) (*policy.ChangeRecord, error) {
	ratio := SimilarityRatio(oldText, newText)
	magnitude := round4(1.0 - ratio)

	rec := &policy.ChangeRecord{
		OldDocID:         oldDocID,
		NewDocID:         newDocID,
		SimilarityRatio:  round4(ratio),
		ChangeMagnitude:  magnitude,
		Class:            classify(magnitude),
		SectionsAffected: affectedSections(oldText, newText),
		Timestamp:        s.Clock.Now(),
	}

	if err := s.Changes.SaveChange(ctx, rec); err != nil {
		return nil, &compliance.PersistenceError{Op: "save change record", Err: err}
	}
	s.Metrics.IncPolicyChanges(string(rec.Class))
	log.Printf("policy change %s -> %s: %.2f%% difference (%s)", oldDocID, newDocID, magnitude*100, rec.Class)
	return rec, nil
}

// SimilarityRatio is a sequence-alignment similarity in [0,1] over word
// tokens of the two texts.
func SimilarityRatio(oldText, newText string) float64 {
	oldWords := strings.Fields(oldText)
	newWords := strings.Fields(newText)
	if len(oldWords) == 0 && len(newWords) == 0 {
		return 1.0
	}
	return difflib.NewMatcher(oldWords, newWords).Ratio()
}

func classify(magnitude float64) policy.ChangeClass {
	switch {
	case magnitude < minorBound:
		return policy.ChangeMinor
	case magnitude < moderateBound:
		return policy.ChangeModerate
	default:
		return policy.ChangeMajor
	}
}

// affectedSections set-differences the heading labels of the two versions,
// using the same structural pattern the chunker splits on.
func affectedSections(oldText, newText string) []string {
	oldSet := headingSet(oldText)
	newSet := headingSet(newText)

	var affected []string
	for h := range oldSet {
		if !newSet[h] {
			affected = append(affected, "Removed: "+h)
		}
	}
	for h := range newSet {
		if !oldSet[h] {
			affected = append(affected, "Added: "+h)
		}
	}
	if len(affected) == 0 {
		return []string{"Content-level changes detected"}
	}
	sort.Strings(affected)
	return affected
}

func headingSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, h := range chunker.ExtractHeadings(text) {
		set[h] = true
	}
	return set
}

// FindImpacted scans the decision history in pages and collects the trace
// ids of decisions whose citations reference the document.
func (s *Service) FindImpacted(ctx context.Context, docID string) ([]string, error) {
	pageSize := s.ScanPageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	var impacted []string
	offset := 0
	for {
		records, err := s.Decisions.List(ctx, compliance.ListFilter{Offset: offset, Limit: pageSize})
		if err != nil {
			return nil, &compliance.PersistenceError{Op: "scan decisions", Err: err}
		}
		for _, rec := range records {
			if rec.Decision == nil {
				continue
			}
			for _, c := range rec.Decision.PolicyCitations {
				if c.DocID == docID {
					impacted = append(impacted, rec.TraceID)
					break
				}
			}
		}
		if len(records) < pageSize {
			break
		}
		offset += pageSize
	}
	log.Printf("found %d decisions impacted by policy %s", len(impacted), docID)
	return impacted, nil
}

// BuildImpactReport derives the report from a change record plus the
// impacted decision set, stores it and uploads a JSON artifact copy.
func (s *Service) BuildImpactReport(ctx context.Context, change *policy.ChangeRecord, impacted []string) (*policy.ImpactReport, error) {
	now := s.Clock.Now()

	listed := impacted
	if len(listed) > 50 {
		listed = listed[:50]
	}
	report := &policy.ImpactReport{
		ReportID:             "IMPACT_" + now.Format("20060102_150405"),
		GeneratedAt:          now,
		Change:               *change,
		DecisionsAffected:    len(impacted),
		RequiresReevaluation: change.ChangeMagnitude > reevalBound,
		AffectedDecisionIDs:  listed,
		Recommendations:      recommendations(change.Class, len(impacted)),
	}

	if err := s.Changes.SaveReport(ctx, report); err != nil {
		return nil, &compliance.PersistenceError{Op: "save impact report", Err: err}
	}
	if s.Artifacts != nil {
		key := fmt.Sprintf("impact_reports/%s.json", report.ReportID)
		if _, err := s.Artifacts.PutJSON(ctx, key, report); err != nil {
			log.Printf("impact report artifact upload failed: %v", err)
		}
	}
	log.Printf("generated change impact report %s (%d decisions affected)", report.ReportID, len(impacted))
	return report, nil
}

func recommendations(class policy.ChangeClass, impacted int) []string {
	var recs []string
	switch class {
	case policy.ChangeMajor:
		recs = append(recs,
			"CRITICAL: Major policy change detected - immediate review required",
			fmt.Sprintf("Re-evaluate all %d affected decisions", impacted),
			"Consider notifying compliance team of significant policy update",
		)
	case policy.ChangeModerate:
		recs = append(recs,
			"IMPORTANT: Moderate policy change - review recommended",
			fmt.Sprintf("Consider re-evaluating %d affected decisions", impacted),
		)
	default:
		recs = append(recs, "Minor policy update - monitoring suggested")
	}
	if impacted > 100 {
		recs = append(recs, "High impact: Large number of decisions affected - prioritize review")
	}
	return recs
}

// TriggerReevaluation enqueues decision ids for replay and returns the
// durable queue token. Replay itself belongs to the batch service.
func (s *Service) TriggerReevaluation(ctx context.Context, decisionIDs []string) (*policy.QueueToken, error) {
	token := &policy.QueueToken{
		Token:          uuid.New().String(),
		TotalDecisions: len(decisionIDs),
		DecisionIDs:    decisionIDs,
		Status:         "QUEUED",
		QueuedAt:       s.Clock.Now(),
	}
	if err := s.Queue.Enqueue(ctx, token.Token, decisionIDs); err != nil {
		return nil, fmt.Errorf("enqueue re-evaluation: %w", err)
	}
	if err := s.Changes.SaveToken(ctx, token); err != nil {
		return nil, &compliance.PersistenceError{Op: "save queue token", Err: err}
	}
	log.Printf("queued %d decisions for re-evaluation (token %s)", len(decisionIDs), token.Token)
	return token, nil
}

// RecentChanges lists the latest stored change records.
func (s *Service) RecentChanges(ctx context.Context, limit int) ([]*policy.ChangeRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.Changes.RecentChanges(ctx, limit)
}

// RecentReports lists the latest stored impact reports.
func (s *Service) RecentReports(ctx context.Context, limit int) ([]*policy.ImpactReport, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.Changes.RecentReports(ctx, limit)
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
