// Package metrics exposes Prometheus collectors for the call service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordercall_turns_total",
		Help: "Dialogue turns processed, by checkpoint reached and outcome",
	}, []string{"checkpoint", "outcome"}) // outcome=ok|rejected

	classifierCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordercall_classifier_calls_total",
		Help: "Classifier calls by task and the source that produced the label",
	}, []string{"task", "source"}) // source=oracle|fallback

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ordercall_circuit_breaker_state",
		Help: "Circuit breaker state by component (1 for the active state)",
	}, []string{"component", "state"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordercall_sessions_active",
		Help: "Live call sessions held by the registry",
	})

	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordercall_sessions_started_total",
		Help: "Call sessions started",
	})

	sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordercall_sessions_ended_total",
		Help: "Call sessions ended, by reason",
	}, []string{"reason"}) // reason=caller|timeout|shutdown

	persistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordercall_persistence_failures_total",
		Help: "Persistence side-effects that failed and were dropped",
	}, []string{"operation"})

	speechRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordercall_speech_requests_total",
		Help: "Speech synthesis and transcription requests by outcome",
	}, []string{"kind", "outcome"}) // kind=synthesize|transcribe
)

var breakerStates = []string{"closed", "half-open", "open"}

// RecordTurn counts a processed or rejected turn
func RecordTurn(checkpoint, outcome string) {
	turnsTotal.WithLabelValues(checkpoint, outcome).Inc()
}

// RecordClassifierCall counts which source answered a classification task
func RecordClassifierCall(task, source string) {
	classifierCalls.WithLabelValues(task, source).Inc()
}

// SetCircuitBreakerState records the active circuit breaker state for a component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range breakerStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		breakerState.WithLabelValues(component, s).Set(value)
	}
}

// SetActiveSessions sets the live session gauge
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}

// RecordSessionStarted counts a new session
func RecordSessionStarted() {
	sessionsStarted.Inc()
}

// RecordSessionEnded counts an ended session
func RecordSessionEnded(reason string) {
	sessionsEnded.WithLabelValues(reason).Inc()
}

// RecordPersistenceFailure counts a dropped persistence side-effect
func RecordPersistenceFailure(operation string) {
	persistenceFailures.WithLabelValues(operation).Inc()
}

// RecordSpeech counts a speech request
func RecordSpeech(kind, outcome string) {
	speechRequests.WithLabelValues(kind, outcome).Inc()
}
