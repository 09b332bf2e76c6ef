package sentinel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/policylens/policylens/internal/application"
	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeChangeLog struct {
	changes []*policy.ChangeRecord
	reports []*policy.ImpactReport
	tokens  []*policy.QueueToken
	saveErr error
}

func (f *fakeChangeLog) SaveChange(_ context.Context, rec *policy.ChangeRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.changes = append(f.changes, rec)
	return nil
}
func (f *fakeChangeLog) SaveReport(_ context.Context, rep *policy.ImpactReport) error {
	f.reports = append(f.reports, rep)
	return nil
}
func (f *fakeChangeLog) SaveToken(_ context.Context, tok *policy.QueueToken) error {
	f.tokens = append(f.tokens, tok)
	return nil
}
func (f *fakeChangeLog) RecentChanges(_ context.Context, limit int) ([]*policy.ChangeRecord, error) {
	if limit > len(f.changes) {
		limit = len(f.changes)
	}
	return f.changes[:limit], nil
}
func (f *fakeChangeLog) RecentReports(_ context.Context, limit int) ([]*policy.ImpactReport, error) {
	if limit > len(f.reports) {
		limit = len(f.reports)
	}
	return f.reports[:limit], nil
}

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
	if filter.Offset >= len(f.records) {
		return nil, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(f.records) {
		end = len(f.records)
	}
	return f.records[filter.Offset:end], nil
}
func (f *fakeDecisionStore) Count(_ context.Context) (int, error) {
	return len(f.records), nil
}

type fakeQueue struct {
	token string
	ids   []string
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, token string, ids []string) error {
	if f.err != nil {
		return f.err
	}
	f.token = token
	f.ids = ids
	return nil
}

func newService(log *fakeChangeLog, store *fakeDecisionStore, q *fakeQueue) *Service {
	return &Service{
		Decisions:    store,
		Changes:      log,
		Queue:        q,
		Clock:        fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		Metrics:      application.NopMetrics{},
		ScanPageSize: 3,
	}
}

func decisionCiting(traceID, docID string) *compliance.DecisionRecord {
	return &compliance.DecisionRecord{
		TraceID: traceID,
		Decision: &compliance.Decision{
			TransactionID:   "tx-" + traceID,
			Verdict:         compliance.VerdictFlag,
			PolicyCitations: []compliance.PolicyCitation{{DocID: docID}},
		},
	}
}

func TestDetectChangeIdenticalText(t *testing.T) {
	log := &fakeChangeLog{}
	svc := newService(log, &fakeDecisionStore{}, &fakeQueue{})
	text := "Section 1 Thresholds\nTransactions above 10000 USD require review."

	rec, err := svc.DetectChange(context.Background(), "d1", "d2", text, text)
	if err != nil {
		t.Fatalf("DetectChange: %v", err)
	}
	if rec.SimilarityRatio != 1.0 {
		t.Errorf("similarity = %v, want 1.0", rec.SimilarityRatio)
	}
	if rec.ChangeMagnitude != 0 {
		t.Errorf("magnitude = %v, want 0", rec.ChangeMagnitude)
	}
	if rec.Class != policy.ChangeMinor {
		t.Errorf("class = %s, want MINOR", rec.Class)
	}
	if len(log.changes) != 1 {
		t.Fatalf("expected 1 saved change, got %d", len(log.changes))
	}
}

func TestDetectChangeDisjointText(t *testing.T) {
	svc := newService(&fakeChangeLog{}, &fakeDecisionStore{}, &fakeQueue{})

	rec, err := svc.DetectChange(context.Background(), "d1", "d2",
		"alpha beta gamma delta epsilon",
		"one two three four five")
	if err != nil {
		t.Fatalf("DetectChange: %v", err)
	}
	if rec.Class != policy.ChangeMajor {
		t.Errorf("class = %s, want MAJOR", rec.Class)
	}
	if rec.ChangeMagnitude < 0.9 {
		t.Errorf("magnitude = %v, want near 1.0", rec.ChangeMagnitude)
	}
}

func TestDetectChangeSectionDiff(t *testing.T) {
	svc := newService(&fakeChangeLog{}, &fakeDecisionStore{}, &fakeQueue{})
	oldText := "Section 1 Thresholds\nbody text here\nSection 2 Screening\nmore body text"
	newText := "Section 1 Thresholds\nbody text here\nSection 3 Reporting\nentirely new obligations apply"

	rec, err := svc.DetectChange(context.Background(), "d1", "d2", oldText, newText)
	if err != nil {
		t.Fatalf("DetectChange: %v", err)
	}
	want := []string{"Added: 3 Reporting", "Removed: 2 Screening"}
	if !reflect.DeepEqual(rec.SectionsAffected, want) {
		t.Errorf("sections = %v, want %v", rec.SectionsAffected, want)
	}
}

func TestDetectChangeNoSectionsFallsBackToGenericLabel(t *testing.T) {
	svc := newService(&fakeChangeLog{}, &fakeDecisionStore{}, &fakeQueue{})

	rec, err := svc.DetectChange(context.Background(), "d1", "d2",
		"plain prose without any headings at all",
		"plain prose without many headings at all, slightly edited")
	if err != nil {
		t.Fatalf("DetectChange: %v", err)
	}
	want := []string{"Content-level changes detected"}
	if !reflect.DeepEqual(rec.SectionsAffected, want) {
		t.Errorf("sections = %v, want %v", rec.SectionsAffected, want)
	}
}

func TestDetectChangeSaveFailureIsFatal(t *testing.T) {
	log := &fakeChangeLog{saveErr: errors.New("db down")}
	svc := newService(log, &fakeDecisionStore{}, &fakeQueue{})

	_, err := svc.DetectChange(context.Background(), "d1", "d2", "a b c", "a b d")
	var perr *compliance.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestClassifyBands(t *testing.T) {
	tests := []struct {
		magnitude float64
		want      policy.ChangeClass
	}{
		{0.0, policy.ChangeMinor},
		{0.049, policy.ChangeMinor},
		{0.05, policy.ChangeModerate},
		{0.15, policy.ChangeModerate},
		{0.20, policy.ChangeMajor},
		{0.80, policy.ChangeMajor},
	}
	for _, tt := range tests {
		if got := classify(tt.magnitude); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.magnitude, got, tt.want)
		}
	}
}

func TestFindImpactedScansAllPages(t *testing.T) {
	store := &fakeDecisionStore{}
	for i := 0; i < 7; i++ {
		docID := "other"
		if i%2 == 0 {
			docID = "AML_V1"
		}
		store.records = append(store.records, decisionCiting(fmt.Sprintf("t%d", i), docID))
	}
	// Malformed record: no decision payload, must be skipped.
	store.records = append(store.records, &compliance.DecisionRecord{TraceID: "broken"})

	svc := newService(&fakeChangeLog{}, store, &fakeQueue{})
	impacted, err := svc.FindImpacted(context.Background(), "AML_V1")
	if err != nil {
		t.Fatalf("FindImpacted: %v", err)
	}
	want := []string{"t0", "t2", "t4", "t6"}
	if !reflect.DeepEqual(impacted, want) {
		t.Errorf("impacted = %v, want %v", impacted, want)
	}
}

func TestBuildImpactReport(t *testing.T) {
	log := &fakeChangeLog{}
	svc := newService(log, &fakeDecisionStore{}, &fakeQueue{})
	change := &policy.ChangeRecord{
		OldDocID:        "d1",
		NewDocID:        "d2",
		ChangeMagnitude: 0.15,
		Class:           policy.ChangeModerate,
	}

	report, err := svc.BuildImpactReport(context.Background(), change, []string{"t1", "t2", "t3"})
	if err != nil {
		t.Fatalf("BuildImpactReport: %v", err)
	}
	if report.ReportID != "IMPACT_20260301_090000" {
		t.Errorf("report id = %s", report.ReportID)
	}
	if !report.RequiresReevaluation {
		t.Error("magnitude 0.15 must require re-evaluation")
	}
	if report.DecisionsAffected != 3 {
		t.Errorf("decisions affected = %d, want 3", report.DecisionsAffected)
	}
	if len(report.Recommendations) == 0 || !strings.HasPrefix(report.Recommendations[0], "IMPORTANT") {
		t.Errorf("unexpected recommendations: %v", report.Recommendations)
	}
	if len(log.reports) != 1 {
		t.Fatalf("expected 1 saved report, got %d", len(log.reports))
	}
}

func TestBuildImpactReportBelowReevalBound(t *testing.T) {
	svc := newService(&fakeChangeLog{}, &fakeDecisionStore{}, &fakeQueue{})
	change := &policy.ChangeRecord{ChangeMagnitude: 0.03, Class: policy.ChangeMinor}

	report, err := svc.BuildImpactReport(context.Background(), change, nil)
	if err != nil {
		t.Fatalf("BuildImpactReport: %v", err)
	}
	if report.RequiresReevaluation {
		t.Error("magnitude 0.03 must not require re-evaluation")
	}
}

func TestBuildImpactReportTruncatesIDListAndFlagsHighImpact(t *testing.T) {
	svc := newService(&fakeChangeLog{}, &fakeDecisionStore{}, &fakeQueue{})
	change := &policy.ChangeRecord{ChangeMagnitude: 0.5, Class: policy.ChangeMajor}
	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%d", i)
	}

	report, err := svc.BuildImpactReport(context.Background(), change, ids)
	if err != nil {
		t.Fatalf("BuildImpactReport: %v", err)
	}
	if len(report.AffectedDecisionIDs) != 50 {
		t.Errorf("listed ids = %d, want 50", len(report.AffectedDecisionIDs))
	}
	if report.DecisionsAffected != 120 {
		t.Errorf("decisions affected = %d, want 120", report.DecisionsAffected)
	}
	found := false
	for _, r := range report.Recommendations {
		if strings.HasPrefix(r, "High impact") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing high impact recommendation: %v", report.Recommendations)
	}
}

func TestTriggerReevaluation(t *testing.T) {
	log := &fakeChangeLog{}
	q := &fakeQueue{}
	svc := newService(log, &fakeDecisionStore{}, q)

	tok, err := svc.TriggerReevaluation(context.Background(), []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("TriggerReevaluation: %v", err)
	}
	if tok.Status != "QUEUED" || tok.TotalDecisions != 2 {
		t.Errorf("token = %+v", tok)
	}
	if q.token != tok.Token {
		t.Errorf("queued token %s, want %s", q.token, tok.Token)
	}
	if !reflect.DeepEqual(q.ids, []string{"t1", "t2"}) {
		t.Errorf("queued ids = %v", q.ids)
	}
	if len(log.tokens) != 1 {
		t.Fatalf("expected 1 saved token, got %d", len(log.tokens))
	}
}

func TestTriggerReevaluationEnqueueFailure(t *testing.T) {
	log := &fakeChangeLog{}
	q := &fakeQueue{err: errors.New("redis down")}
	svc := newService(log, &fakeDecisionStore{}, q)

	if _, err := svc.TriggerReevaluation(context.Background(), []string{"t1"}); err == nil {
		t.Fatal("expected error when enqueue fails")
	}
	if len(log.tokens) != 0 {
		t.Fatal("token must not be saved when enqueue fails")
	}
}
