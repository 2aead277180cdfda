// Package metrics exposes the platform's Prometheus instrumentation:
// case state transitions, agent fan-out latency and failures, policy
// rule matches, and ensemble vote outcomes. Collectors register on the
// default registry so every package can record without plumbing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "decisiond"

var (
	caseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "case_transitions_total",
			Help:      "Case state transitions by from/to state",
		},
		[]string{"from", "to"},
	)

	agentRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent executions by agent and outcome",
		},
		[]string{"agent", "outcome"},
	)

	agentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_duration_seconds",
			Help:      "Agent analysis duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"agent"},
	)

	ruleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_rule_matches_total",
			Help:      "Policy rule matches by policy version and rule",
		},
		[]string{"policy_version", "rule"},
	)

	ruleEvalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_rule_eval_errors_total",
			Help:      "Rule conditions that failed to evaluate",
		},
		[]string{"policy_version", "rule"},
	)

	ensembleDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ensemble_decisions_total",
			Help:      "Ensemble decisions by voting strategy and final action",
		},
		[]string{"strategy", "action"},
	)

	processingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "case_processing_duration_seconds",
			Help:      "End-to-end case processing duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Unclaimed queue assignments by queue",
		},
		[]string{"queue"},
	)
)

// CaseTransitioned records a committed case state transition.
func CaseTransitioned(from, to string) {
	caseTransitions.WithLabelValues(from, to).Inc()
}

// AgentRunObserved records one agent execution and its latency.
func AgentRunObserved(agent string, elapsed time.Duration, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	agentRuns.WithLabelValues(agent, outcome).Inc()
	agentDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
}

// RuleMatched records a rule whose condition evaluated true.
func RuleMatched(policyVersion, rule string) {
	ruleMatches.WithLabelValues(policyVersion, rule).Inc()
}

// RuleEvalFailed records a condition that could not be evaluated.
func RuleEvalFailed(policyVersion, rule string) {
	ruleEvalErrors.WithLabelValues(policyVersion, rule).Inc()
}

// EnsembleDecided records an ensemble vote outcome.
func EnsembleDecided(strategy, action string) {
	ensembleDecisions.WithLabelValues(strategy, action).Inc()
}

// ProcessingObserved records end-to-end case processing latency.
func ProcessingObserved(elapsed time.Duration) {
	processingDuration.Observe(elapsed.Seconds())
}

// QueueDepthSet updates the unclaimed-assignment gauge for a queue.
func QueueDepthSet(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
