// Package metrics exposes the ambient Prometheus surface, relabeled for the
// review-job domain: job lifecycle transitions, tool-call volume,
// agent-provider requests, and paper-search effectiveness, in place of
// per-page AI-provider-dispatch counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTransitioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepreview",
			Name:      "job_status_transitions_total",
			Help:      "Total job status transitions, labeled by destination status",
		},
		[]string{"status"},
	)

	toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepreview",
			Name:      "tool_calls_total",
			Help:      "Total tool invocations, labeled by tool name and outcome status",
		},
		[]string{"tool", "status"},
	)

	agentRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepreview",
			Name:      "agent_requests_total",
			Help:      "Total agent-provider requests, labeled by result",
		},
		[]string{"result"},
	)

	agentRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deepreview",
			Name:      "agent_request_duration_seconds",
			Help:      "Duration of agent-provider requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	agentAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deepreview",
			Name:      "agent_loop_attempts_total",
			Help:      "Total agent-loop attempts across all jobs (hard-capped at 2 per job)",
		},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepreview",
			Name:      "agent_breaker_events_total",
			Help:      "Agent-provider circuit breaker events by action",
		},
		[]string{"action"},
	)

	paperSearchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepreview",
			Name:      "paper_search_calls_total",
			Help:      "Paper-search adapter calls by outcome (successful, effective, failed)",
		},
		[]string{"outcome"},
	)

	parseAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepreview",
			Name:      "parse_attempts_total",
			Help:      "Parse-adapter attempts by provider (mineru, local_fitz) and outcome",
		},
		[]string{"provider", "outcome"},
	)
)

// Init registers every collector. Safe to call once per process.
func Init() {
	prometheus.MustRegister(jobsTransitioned, toolCalls, agentRequests, agentRequestLatency, agentAttempts, breakerEvents, paperSearchCalls, parseAttempts)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }

// JobTransition records a job reaching a new status.
func JobTransition(status string) { jobsTransitioned.WithLabelValues(status).Inc() }

// ToolCall records one tool invocation and its outcome status.
func ToolCall(tool, status string) { toolCalls.WithLabelValues(tool, status).Inc() }

// AgentRequest records one agent-provider HTTP round trip.
func AgentRequest(result string, dur time.Duration) {
	agentRequests.WithLabelValues(result).Inc()
	agentRequestLatency.WithLabelValues(result).Observe(dur.Seconds())
}

// AgentLoopAttempt records the start of one agent-loop attempt.
func AgentLoopAttempt() { agentAttempts.Inc() }

// BreakerOpened records the agent-provider breaker tripping open.
func BreakerOpened() { breakerEvents.WithLabelValues("opened").Inc() }

// BreakerClosed records the agent-provider breaker resetting closed.
func BreakerClosed() { breakerEvents.WithLabelValues("closed").Inc() }

// PaperSearchCall records one paper-search adapter call by outcome.
func PaperSearchCall(outcome string) { paperSearchCalls.WithLabelValues(outcome).Inc() }

// ParseAttempt records one parse-adapter attempt by provider and outcome.
func ParseAttempt(provider, outcome string) { parseAttempts.WithLabelValues(provider, outcome).Inc() }
