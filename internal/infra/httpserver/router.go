package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5"

	"github.com/policylens/policylens/internal/application/batch"
	"github.com/policylens/policylens/internal/application/evaluation"
	"github.com/policylens/policylens/internal/application/ingest"
	"github.com/policylens/policylens/internal/application/riskscore"
	"github.com/policylens/policylens/internal/application/sentinel"
	"github.com/policylens/policylens/internal/domain/compliance"
	"github.com/policylens/policylens/internal/domain/policy"
	"github.com/policylens/policylens/internal/middleware"
)

type Router struct {
	evalSvc     *evaluation.Service
	scorer      *riskscore.Scorer
	sentinelSvc *sentinel.Service
	batchSvc    *batch.Service
	ingestSvc   *ingest.Service
	decisions   compliance.DecisionStore
	feedback    compliance.FeedbackStore
	// CaseWeight is the similarity weight in the composite assessment.
	caseWeight float64
}

type Deps struct {
	Evaluation *evaluation.Service
	Scorer     *riskscore.Scorer
	Sentinel   *sentinel.Service
	Batch      *batch.Service
	Ingest     *ingest.Service
	Decisions  compliance.DecisionStore
	Feedback   compliance.FeedbackStore
	CaseWeight float64

	Health  http.HandlerFunc
	Metrics http.Handler
}

func NewRouter(d Deps) http.Handler {
	weight := d.CaseWeight
	if weight <= 0 || weight > 1 {
		weight = 0.3
	}
	r := &Router{
		evalSvc:     d.Evaluation,
		scorer:      d.Scorer,
		sentinelSvc: d.Sentinel,
		batchSvc:    d.Batch,
		ingestSvc:   d.Ingest,
		decisions:   d.Decisions,
		feedback:    d.Feedback,
		caseWeight:  weight,
	}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	mux.Use(middleware.LoggingMiddleware)

	if d.Health != nil {
		mux.Get("/health", d.Health)
	}
	if d.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/transactions/evaluate", r.wrap(r.handleEvaluate))
		rt.Post("/query", r.wrap(r.handleQuery))

		rt.Post("/policies", r.wrap(r.handleIngestPolicy))
		rt.Put("/policies/{docID}", r.wrap(r.handleUpdatePolicy))
		rt.Get("/policies", r.wrap(r.handleListPolicies))

		rt.Get("/decisions", r.wrap(r.handleListDecisions))
		rt.Get("/decisions/{traceID}", r.wrap(r.handleGetDecision))

		rt.Post("/feedback", r.wrap(r.handleSubmitFeedback))
		rt.Get("/feedback/{transactionID}", r.wrap(r.handleListFeedback))

		rt.Get("/changes", r.wrap(r.handleRecentChanges))
		rt.Get("/impact-reports", r.wrap(r.handleRecentReports))

		rt.Post("/reevaluate", r.wrap(r.handleReevaluate))
		rt.Post("/reevaluate/policy/{docID}", r.wrap(r.handleReevaluateByPolicy))
		rt.Get("/reevaluate/candidates", r.wrap(r.handleCandidates))

		rt.Get("/stats", r.wrap(r.handleStats))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var extractionErr *compliance.ExtractionError
			var malformedErr *compliance.MalformedRecordError
			var retrievalErr *compliance.RetrievalError
			var persistErr *compliance.PersistenceError
			switch {
			case errors.Is(err, sql.ErrNoRows), errors.Is(err, pgx.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.As(err, &extractionErr):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.As(err, &malformedErr):
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			case errors.As(err, &retrievalErr):
				http.Error(w, err.Error(), http.StatusBadGateway)
			case errors.As(err, &persistErr):
				http.Error(w, err.Error(), http.StatusInternalServerError)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) error {
	http.Error(w, msg, http.StatusBadRequest)
	return nil
}

// POST /v1/transactions/evaluate
// Runs the evaluation pipeline and the composite risk assessment; both
// verdicts come back side by side.
func (r *Router) handleEvaluate(w http.ResponseWriter, req *http.Request) error {
	var tx compliance.Transaction
	if err := json.NewDecoder(req.Body).Decode(&tx); err != nil {
		return badRequest(w, "invalid JSON body: "+err.Error())
	}
	if err := middleware.ValidateTransaction(&tx); err != nil {
		return badRequest(w, err.Error())
	}

	result, err := r.evalSvc.Evaluate(req.Context(), tx)
	if err != nil {
		return err
	}

	assessment := r.scorer.Score(req.Context(), tx,
		result.Decision.RiskScore, len(result.Decision.PolicyCitations), r.caseWeight)

	return writeJSON(w, http.StatusOK, map[string]any{
		"decision":           result.Decision,
		"trace_id":           result.TraceID,
		"processing_time_ms": result.ProcessingMS,
		"assessment":         assessment,
	})
}

// POST /v1/query
// Body: {"query": "...", "topic": "aml"}
func (r *Router) handleQuery(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Query string       `json:"query"`
		Topic policy.Topic `json:"topic"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(w, "invalid JSON body: "+err.Error())
	}
	if err := middleware.ValidateQuery(body.Query); err != nil {
		return badRequest(w, err.Error())
	}
	if body.Topic != "" && !middleware.ValidTopic(body.Topic) {
		return badRequest(w, "invalid topic")
	}

	result, err := r.evalSvc.AnswerQuery(req.Context(), body.Query, body.Topic)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

type policyPayload struct {
	DocID   string        `json:"doc_id"`
	Title   string        `json:"title"`
	Content string        `json:"content"`
	Source  policy.Source `json:"source"`
	Topic   policy.Topic  `json:"topic"`
	Version string        `json:"version"`
}

func (p policyPayload) document() policy.Document {
	return policy.Document{
		DocID:   p.DocID,
		Title:   p.Title,
		Content: p.Content,
		Source:  p.Source,
		Topic:   p.Topic,
		Version: p.Version,
	}
}

// POST /v1/policies
func (r *Router) handleIngestPolicy(w http.ResponseWriter, req *http.Request) error {
	var body policyPayload
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(w, "invalid JSON body: "+err.Error())
	}
	doc := body.document()
	if err := middleware.ValidateDocument(&doc); err != nil {
		return badRequest(w, err.Error())
	}

	result, err := r.ingestSvc.IngestDocument(req.Context(), doc)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, result)
}

// PUT /v1/policies/{docID}
// Replaces a policy version: deactivates the old chunks, ingests the new
// text, diffs it against the stored snapshot and, when the change is large
// enough, queues the impacted decisions for re-evaluation.
func (r *Router) handleUpdatePolicy(w http.ResponseWriter, req *http.Request) error {
	oldDocID := chi.URLParam(req, "docID")

	var body policyPayload
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(w, "invalid JSON body: "+err.Error())
	}
	doc := body.document()
	if err := middleware.ValidateDocument(&doc); err != nil {
		return badRequest(w, err.Error())
	}

	result, err := r.ingestSvc.UpdateDocument(req.Context(), oldDocID, doc)
	if err != nil {
		return err
	}

	resp := map[string]any{
		"doc_id":        result.DocID,
		"chunks_stored": result.ChunksStored,
		"change":        result.Change,
	}

	if result.Change != nil {
		impacted, err := r.sentinelSvc.FindImpacted(req.Context(), oldDocID)
		if err != nil {
			return err
		}
		report, err := r.sentinelSvc.BuildImpactReport(req.Context(), result.Change, impacted)
		if err != nil {
			return err
		}
		resp["impact_report"] = report

		if report.RequiresReevaluation && len(impacted) > 0 {
			token, err := r.sentinelSvc.TriggerReevaluation(req.Context(), impacted)
			if err != nil {
				return err
			}
			resp["reevaluation"] = token
		}
	}

	return writeJSON(w, http.StatusOK, resp)
}

// GET /v1/policies
func (r *Router) handleListPolicies(w http.ResponseWriter, req *http.Request) error {
	docs, err := r.ingestSvc.ListDocuments(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /v1/decisions?verdict=&from=&to=&offset=&limit=
func (r *Router) handleListDecisions(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	filter := compliance.ListFilter{
		Offset: atoiOrZero(q.Get("offset")),
		Limit:  middleware.ValidateLimit(atoiOrZero(q.Get("limit"))),
	}
	if v := q.Get("verdict"); v != "" {
		filter.Verdict = compliance.ParseVerdict(v)
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return badRequest(w, "invalid from timestamp, want RFC3339")
		}
		filter.DateFrom = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return badRequest(w, "invalid to timestamp, want RFC3339")
		}
		filter.DateTo = t
	}

	records, err := r.decisions.List(req.Context(), filter)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"decisions": records})
}

// GET /v1/decisions/{traceID}
func (r *Router) handleGetDecision(w http.ResponseWriter, req *http.Request) error {
	rec, err := r.decisions.Get(req.Context(), chi.URLParam(req, "traceID"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

// POST /v1/feedback
func (r *Router) handleSubmitFeedback(w http.ResponseWriter, req *http.Request) error {
	var fb compliance.Feedback
	if err := json.NewDecoder(req.Body).Decode(&fb); err != nil {
		return badRequest(w, "invalid JSON body: "+err.Error())
	}
	if fb.TransactionID == "" || fb.DecisionID == "" || fb.ReviewerID == "" {
		return badRequest(w, "transaction_id, decision_id and reviewer_id are required")
	}
	fb.CorrectedVerdict = compliance.ParseVerdict(string(fb.CorrectedVerdict))
	fb.ReviewerNotes = middleware.SanitizeString(fb.ReviewerNotes)
	fb.SubmittedAt = time.Now()

	if err := r.feedback.Save(req.Context(), &fb); err != nil {
		return err
	}

	// A correction is precedent too: store it so future retrieval sees the
	// reviewer's verdict, not just the model's.
	if rec, err := r.decisions.Get(req.Context(), fb.DecisionID); err == nil && rec.Decision != nil {
		var tx compliance.Transaction
		if err := json.Unmarshal(rec.Transaction, &tx); err == nil {
			notes := fb.ReviewerNotes
			if notes == "" {
				notes = "Reviewer correction without notes"
			}
			if err := r.scorer.StoreCaseForLearning(req.Context(), fb.DecisionID+"-corrected",
				tx, fb.CorrectedVerdict, rec.Decision.RiskScore, notes); err != nil {
				log.Printf("failed to store corrected case for %s: %v", fb.DecisionID, err)
			}
		}
	}

	return writeJSON(w, http.StatusCreated, fb)
}

// GET /v1/feedback/{transactionID}?limit=
func (r *Router) handleListFeedback(w http.ResponseWriter, req *http.Request) error {
	limit := middleware.ValidateLimit(atoiOrZero(req.URL.Query().Get("limit")))
	list, err := r.feedback.ListByTransaction(req.Context(), chi.URLParam(req, "transactionID"), limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"feedback": list})
}

// GET /v1/changes?limit=
func (r *Router) handleRecentChanges(w http.ResponseWriter, req *http.Request) error {
	limit := middleware.ValidateLimit(atoiOrZero(req.URL.Query().Get("limit")))
	changes, err := r.sentinelSvc.RecentChanges(req.Context(), limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

// GET /v1/impact-reports?limit=
func (r *Router) handleRecentReports(w http.ResponseWriter, req *http.Request) error {
	limit := middleware.ValidateLimit(atoiOrZero(req.URL.Query().Get("limit")))
	reports, err := r.sentinelSvc.RecentReports(req.Context(), limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// POST /v1/reevaluate
// Body (all optional): {"verdict": "flag", "trace_ids": [...],
// "from": "2026-01-01T00:00:00Z", "to": "...", "render_report": true}
func (r *Router) handleReevaluate(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Verdict      string   `json:"verdict"`
		TraceIDs     []string `json:"trace_ids"`
		From         string   `json:"from"`
		To           string   `json:"to"`
		RenderReport bool     `json:"render_report"`
	}
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return badRequest(w, "invalid JSON body: "+err.Error())
		}
	}
	filter := batch.Filter{TraceIDs: body.TraceIDs}
	if body.Verdict != "" {
		filter.Verdict = compliance.ParseVerdict(body.Verdict)
	}
	if body.From != "" {
		t, err := time.Parse(time.RFC3339, body.From)
		if err != nil {
			return badRequest(w, "invalid from timestamp, want RFC3339")
		}
		filter.DateFrom = t
	}
	if body.To != "" {
		t, err := time.Parse(time.RFC3339, body.To)
		if err != nil {
			return badRequest(w, "invalid to timestamp, want RFC3339")
		}
		filter.DateTo = t
	}

	summary, err := r.batchSvc.ReevaluateAll(req.Context(), filter)
	if err != nil {
		return err
	}
	resp := map[string]any{"summary": summary}
	if body.RenderReport {
		resp["report"] = r.batchSvc.RenderReport(req.Context(), summary)
	}
	return writeJSON(w, http.StatusOK, resp)
}

// POST /v1/reevaluate/policy/{docID}
func (r *Router) handleReevaluateByPolicy(w http.ResponseWriter, req *http.Request) error {
	summary, err := r.batchSvc.ReevaluateByPolicy(req.Context(), chi.URLParam(req, "docID"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

// GET /v1/reevaluate/candidates?days=30&verdict=flag
func (r *Router) handleCandidates(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	days := middleware.ValidateDays(atoiOrZero(q.Get("days")))
	var verdict compliance.Verdict
	if v := q.Get("verdict"); v != "" {
		verdict = compliance.ParseVerdict(v)
	}

	candidates, err := r.batchSvc.Candidates(req.Context(), days, verdict)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// GET /v1/stats
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) error {
	stats, err := r.scorer.GetStatistics(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, stats)
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
