package application

// MetricsRecorder is injected into each service. No process-wide counter
// state: the implementation owns registration, the services only record.
type MetricsRecorder interface {
	IncEvaluations(source string)
	IncEvaluationFailures()
	ObserveEvaluationLatency(ms float64)
	IncPolicyChanges(class string)
	IncReevaluations()
	IncVerdictChanges()
}

// NopMetrics discards everything. Default for tests.
type NopMetrics struct{}

func (NopMetrics) IncEvaluations(string)            {}
func (NopMetrics) IncEvaluationFailures()           {}
func (NopMetrics) ObserveEvaluationLatency(float64) {}
func (NopMetrics) IncPolicyChanges(string)          {}
func (NopMetrics) IncReevaluations()                {}
func (NopMetrics) IncVerdictChanges()               {}
