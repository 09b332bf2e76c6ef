package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements application.MetricsRecorder on a private registry,
// so tests can spin up isolated recorders without collector collisions.
type Recorder struct {
	registry *prometheus.Registry

	evaluations    *prometheus.CounterVec
	evalFailures   prometheus.Counter
	evalLatency    prometheus.Histogram
	policyChanges  *prometheus.CounterVec
	reevaluations  prometheus.Counter
	verdictChanges prometheus.Counter
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policylens_evaluations_total",
			Help: "Transaction evaluations by decision source.",
		}, []string{"source"}),
		evalFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "policylens_evaluation_failures_total",
			Help: "Evaluations aborted by retrieval or persistence failures.",
		}),
		evalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policylens_evaluation_duration_ms",
			Help:    "End-to-end evaluation latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		policyChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policylens_policy_changes_total",
			Help: "Detected policy changes by classification.",
		}, []string{"class"}),
		reevaluations: factory.NewCounter(prometheus.CounterOpts{
			Name: "policylens_reevaluation_batches_total",
			Help: "Completed batch re-evaluation runs.",
		}),
		verdictChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "policylens_verdict_changes_total",
			Help: "Verdicts that flipped during re-evaluation.",
		}),
	}
}

func (r *Recorder) IncEvaluations(source string) { r.evaluations.WithLabelValues(source).Inc() }
func (r *Recorder) IncEvaluationFailures()       { r.evalFailures.Inc() }
func (r *Recorder) ObserveEvaluationLatency(ms float64) {
	r.evalLatency.Observe(ms)
}
func (r *Recorder) IncPolicyChanges(class string) { r.policyChanges.WithLabelValues(class).Inc() }
func (r *Recorder) IncReevaluations()             { r.reevaluations.Inc() }
func (r *Recorder) IncVerdictChanges()            { r.verdictChanges.Inc() }

// Handler serves the registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
