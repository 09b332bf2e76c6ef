package batch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/policylens/policylens/internal/application"
	"github.com/policylens/policylens/internal/application/evaluation"
	"github.com/policylens/policylens/internal/domain/compliance"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeDecisionStore struct {
	records []*compliance.DecisionRecord
	listErr error
}

func (f *fakeDecisionStore) Put(_ context.Context, rec *compliance.DecisionRecord) error {
	f.records = append(f.records, rec)
	return nil
}
func (f *fakeDecisionStore) Get(_ context.Context, traceID string) (*compliance.DecisionRecord, error) {
	for _, r := range f.records {
		if r.TraceID == traceID {
			return r, nil
		}
	}
	return nil, errors.New("not found")
}
func (f *fakeDecisionStore) List(_ context.Context, filter compliance.ListFilter) ([]*compliance.DecisionRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var matched []*compliance.DecisionRecord
	for _, r := range f.records {
		if filter.Verdict != "" && (r.Decision == nil || r.Decision.Verdict != filter.Verdict) {
			continue
		}
		if len(filter.TraceIDs) > 0 && !containsStr(filter.TraceIDs, r.TraceID) {
			continue
		}
		if !filter.DateTo.IsZero() && r.StoredAt.After(filter.DateTo) {
			continue
		}
		if !filter.DateFrom.IsZero() && r.StoredAt.Before(filter.DateFrom) {
			continue
		}
		matched = append(matched, r)
	}
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}
func (f *fakeDecisionStore) Count(_ context.Context) (int, error) {
	return len(f.records), nil
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// fakeEvaluator returns a canned decision per transaction id.
// Goroutine-safe: replay calls it from worker goroutines.
type fakeEvaluator struct {
	mu         sync.Mutex
	decisions  map[string]*compliance.Decision
	errFor     map[string]error
	calls      int
	onEvaluate func()
}

func (f *fakeEvaluator) Evaluate(_ context.Context, tx compliance.Transaction) (*evaluation.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.onEvaluate != nil {
		f.onEvaluate()
	}
	if err := f.errFor[tx.TransactionID]; err != nil {
		return nil, err
	}
	d, ok := f.decisions[tx.TransactionID]
	if !ok {
		d = &compliance.Decision{TransactionID: tx.TransactionID, Verdict: compliance.VerdictAcceptable, RiskScore: 0.1}
	}
	return &evaluation.Result{Decision: d, TraceID: "replay-" + tx.TransactionID}, nil
}

type fakeImpactFinder struct {
	impacted []string
	err      error
}

func (f *fakeImpactFinder) FindImpacted(context.Context, string) ([]string, error) {
	return f.impacted, f.err
}

func record(traceID, txID string, verdict compliance.Verdict, risk float64, storedAt time.Time) *compliance.DecisionRecord {
	tx, _ := json.Marshal(compliance.Transaction{TransactionID: txID, Amount: 100, Currency: "USD"})
	return &compliance.DecisionRecord{
		TraceID:     traceID,
		Transaction: tx,
		Decision: &compliance.Decision{
			TransactionID: txID,
			Verdict:       verdict,
			RiskScore:     risk,
			Reasoning:     "original reasoning",
		},
		StoredAt: storedAt,
	}
}

func newBatch(store *fakeDecisionStore, eval *fakeEvaluator) *Service {
	return &Service{
		Decisions: store,
		Engine:    eval,
		Clock:     fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		Metrics:   application.NopMetrics{},
		Workers:   3,
		PageSize:  4,
	}
}

func TestReevaluateAllSkipsMalformedRecords(t *testing.T) {
	store := &fakeDecisionStore{}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		store.records = append(store.records, record("t-"+id, "tx-"+id, compliance.VerdictAcceptable, 0.1, now))
	}
	// Two malformed: unreadable transaction snapshot and missing decision.
	store.records = append(store.records,
		&compliance.DecisionRecord{TraceID: "bad-json", Transaction: json.RawMessage(`{"amount":`), Decision: &compliance.Decision{}},
		&compliance.DecisionRecord{TraceID: "no-decision", Transaction: json.RawMessage(`{}`)},
	)

	svc := newBatch(store, &fakeEvaluator{})
	summary, err := svc.ReevaluateAll(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ReevaluateAll: %v", err)
	}
	if summary.TotalDecisions != 10 {
		t.Errorf("total = %d, want 10", summary.TotalDecisions)
	}
	if summary.Reevaluated != 8 {
		t.Errorf("reevaluated = %d, want 8", summary.Reevaluated)
	}
	if summary.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", summary.Skipped)
	}
	if summary.Failed != 0 {
		t.Errorf("failed = %d, want 0", summary.Failed)
	}
	if summary.Status != "COMPLETED" {
		t.Errorf("status = %s, want COMPLETED", summary.Status)
	}
}

func TestReevaluateAllRecordsVerdictDrift(t *testing.T) {
	store := &fakeDecisionStore{}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store.records = append(store.records,
		record("t1", "tx1", compliance.VerdictFlag, 0.90, now),
		record("t2", "tx2", compliance.VerdictAcceptable, 0.10, now),
	)
	eval := &fakeEvaluator{decisions: map[string]*compliance.Decision{
		"tx1": {TransactionID: "tx1", Verdict: compliance.VerdictAcceptable, RiskScore: 0.20, Reasoning: "policies relaxed"},
		"tx2": {TransactionID: "tx2", Verdict: compliance.VerdictAcceptable, RiskScore: 0.10, Reasoning: "original reasoning"},
	}}

	svc := newBatch(store, eval)
	summary, err := svc.ReevaluateAll(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ReevaluateAll: %v", err)
	}
	if summary.VerdictsChanged != 1 {
		t.Fatalf("verdicts changed = %d, want 1", summary.VerdictsChanged)
	}
	if len(summary.Changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(summary.Changes))
	}
	c := summary.Changes[0]
	if c.TransactionID != "tx1" || c.OldVerdict != compliance.VerdictFlag || c.NewVerdict != compliance.VerdictAcceptable {
		t.Errorf("unexpected change: %+v", c)
	}
	if !strings.Contains(c.Reason, "Risk score decreased from 0.90 to 0.20") {
		t.Errorf("reason = %q", c.Reason)
	}
	if !strings.Contains(c.Reason, "Policy reasoning updated") {
		t.Errorf("reason missing reasoning note: %q", c.Reason)
	}
}

func TestReevaluateAllCountsFailures(t *testing.T) {
	store := &fakeDecisionStore{}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store.records = append(store.records,
		record("t1", "tx1", compliance.VerdictFlag, 0.9, now),
		record("t2", "tx2", compliance.VerdictAcceptable, 0.1, now),
	)
	eval := &fakeEvaluator{errFor: map[string]error{"tx1": errors.New("gateway down")}}

	svc := newBatch(store, eval)
	summary, err := svc.ReevaluateAll(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ReevaluateAll: %v", err)
	}
	if summary.Failed != 1 || summary.Reevaluated != 1 {
		t.Errorf("failed = %d, reevaluated = %d", summary.Failed, summary.Reevaluated)
	}
}

func TestReevaluateAllStopsWhenCancelled(t *testing.T) {
	store := &fakeDecisionStore{}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		id := string(rune('a' + i))
		store.records = append(store.records, record("t-"+id, "tx-"+id, compliance.VerdictAcceptable, 0.1, now))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eval := &fakeEvaluator{onEvaluate: cancel}

	svc := newBatch(store, eval)
	svc.Workers = 1

	summary, err := svc.ReevaluateAll(ctx, Filter{})
	if err != nil {
		t.Fatalf("ReevaluateAll: %v", err)
	}
	if summary.Status != "CANCELLED" {
		t.Errorf("status = %s, want CANCELLED", summary.Status)
	}
	// With one worker the cancel lands during the first replay; at most one
	// more item can already be past the check.
	if eval.calls > 2 {
		t.Errorf("evaluator calls = %d, want at most 2 after cancel", eval.calls)
	}
	if summary.FilteredDecisions != 6 {
		t.Errorf("filtered = %d, want 6", summary.FilteredDecisions)
	}
}

func TestReevaluateAllEmptyHistory(t *testing.T) {
	svc := newBatch(&fakeDecisionStore{}, &fakeEvaluator{})
	summary, err := svc.ReevaluateAll(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ReevaluateAll: %v", err)
	}
	if summary.Status != "NO_DECISIONS" {
		t.Errorf("status = %s, want NO_DECISIONS", summary.Status)
	}
}

func TestChangeReason(t *testing.T) {
	tests := []struct {
		name string
		old  *compliance.Decision
		new  *compliance.Decision
		want string
	}{
		{
			"risk increase",
			&compliance.Decision{RiskScore: 0.20},
			&compliance.Decision{RiskScore: 0.80},
			"Risk score increased from 0.20 to 0.80",
		},
		{
			"citation count",
			&compliance.Decision{RiskScore: 0.5, PolicyCitations: make([]compliance.PolicyCitation, 2)},
			&compliance.Decision{RiskScore: 0.5, PolicyCitations: make([]compliance.PolicyCitation, 5)},
			"Policy citations changed from 2 to 5",
		},
		{
			"nothing specific",
			&compliance.Decision{Verdict: compliance.VerdictFlag, RiskScore: 0.5},
			&compliance.Decision{Verdict: compliance.VerdictNeedsReview, RiskScore: 0.5},
			"Policy updates affected decision criteria",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := changeReason(tt.old, tt.new); got != tt.want {
				t.Errorf("changeReason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCandidatesFiltersByAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeDecisionStore{records: []*compliance.DecisionRecord{
		record("old", "tx-old", compliance.VerdictFlag, 0.9, now.AddDate(0, 0, -45)),
		record("fresh", "tx-fresh", compliance.VerdictFlag, 0.8, now.AddDate(0, 0, -5)),
	}}
	svc := newBatch(store, &fakeEvaluator{})

	candidates, err := svc.Candidates(context.Background(), 30, compliance.VerdictFlag)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}
	if candidates[0].TraceID != "old" || candidates[0].AgeDays != 45 {
		t.Errorf("unexpected candidate: %+v", candidates[0])
	}
}

func TestReevaluateByPolicyRestrictsToImpacted(t *testing.T) {
	store := &fakeDecisionStore{}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store.records = append(store.records,
		record("t1", "tx1", compliance.VerdictFlag, 0.9, now),
		record("t2", "tx2", compliance.VerdictFlag, 0.9, now),
		record("t3", "tx3", compliance.VerdictFlag, 0.9, now),
	)
	eval := &fakeEvaluator{}
	svc := newBatch(store, eval)
	svc.Impact = &fakeImpactFinder{impacted: []string{"t1", "t3"}}

	summary, err := svc.ReevaluateByPolicy(context.Background(), "AML_V1")
	if err != nil {
		t.Fatalf("ReevaluateByPolicy: %v", err)
	}
	if summary.FilteredDecisions != 2 {
		t.Errorf("filtered = %d, want 2", summary.FilteredDecisions)
	}
	if eval.calls != 2 {
		t.Errorf("evaluator calls = %d, want 2", eval.calls)
	}
}

func TestReevaluateByPolicyNoImpact(t *testing.T) {
	svc := newBatch(&fakeDecisionStore{}, &fakeEvaluator{})
	svc.Impact = &fakeImpactFinder{}

	summary, err := svc.ReevaluateByPolicy(context.Background(), "AML_V1")
	if err != nil {
		t.Fatalf("ReevaluateByPolicy: %v", err)
	}
	if summary.Status != "NO_DECISIONS" {
		t.Errorf("status = %s, want NO_DECISIONS", summary.Status)
	}
}

func TestRenderReport(t *testing.T) {
	svc := newBatch(&fakeDecisionStore{}, &fakeEvaluator{})
	summary := &compliance.ReevaluationSummary{
		Status:          "COMPLETED",
		TotalDecisions:  4,
		Reevaluated:     3,
		Skipped:         1,
		VerdictsChanged: 1,
		Changes: []compliance.ReevaluationChange{{
			TransactionID: "tx1",
			OldVerdict:    compliance.VerdictFlag,
			NewVerdict:    compliance.VerdictAcceptable,
			OldRiskScore:  0.9,
			NewRiskScore:  0.2,
			Reason:        "Risk score decreased from 0.90 to 0.20",
		}},
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	report := svc.RenderReport(context.Background(), summary)
	for _, want := range []string{
		"BATCH RE-EVALUATION REPORT",
		"Re-evaluated:       3",
		"Verdicts changed:   1",
		"tx1: flag -> acceptable",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q", want)
		}
	}
}
