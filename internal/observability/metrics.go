package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration prometheus.Histogram

	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec

	classifierSoftFailures prometheus.Counter
	transitionsTotal       *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	openConversations       prometheus.Gauge
	conversationsClosed     prometheus.Counter
	conversationAnomalies   prometheus.Counter
	conversationsSweptTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total processed turns by status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "End-to-end turn duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "completion_calls_total",
					Help: "Total completion calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "completion_call_duration_seconds",
					Help:    "Completion call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			classifierSoftFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "intent_classifier_soft_failures_total",
					Help: "Intent classifications that fell back to no-transition.",
				},
			),
			transitionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "state_transitions_total",
					Help: "Transition resolutions by outcome (explicit, default, none).",
				},
				[]string{"outcome"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_executions_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			openConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "open_conversations",
					Help: "Current open conversation count.",
				},
			),
			conversationsClosed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "conversations_closed_total",
					Help: "Conversations closed by turns or operators.",
				},
			),
			conversationAnomalies: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "conversation_open_anomalies_total",
					Help: "Detected duplicate-open conversation anomalies.",
				},
			),
			conversationsSweptTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "conversations_swept_total",
					Help: "Idle conversations closed by the sweeper.",
				},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.completionTotal,
			m.completionDuration,
			m.classifierSoftFailures,
			m.transitionsTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.openConversations,
			m.conversationsClosed,
			m.conversationAnomalies,
			m.conversationsSweptTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(status string, duration time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(status).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

func RecordCompletionCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.completionTotal.WithLabelValues(provider, status).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordClassifierSoftFailure() {
	getMetrics().classifierSoftFailures.Inc()
}

func RecordTransition(outcome string) {
	getMetrics().transitionsTotal.WithLabelValues(outcome).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func SetOpenConversations(count int) {
	getMetrics().openConversations.Set(float64(count))
}

func RecordConversationClosed() {
	getMetrics().conversationsClosed.Inc()
}

func RecordConversationAnomaly() {
	getMetrics().conversationAnomalies.Inc()
}

func RecordConversationsSwept(count int) {
	getMetrics().conversationsSweptTotal.Add(float64(count))
}
