package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentTurnsTotal  prometheus.Histogram

	planCallTotal *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	retrievalDuration prometheus.Histogram
	retrievalMatches  prometheus.Histogram
	knowledgeDocs     *prometheus.GaugeVec

	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	sessionWriteTotal   *prometheus.CounterVec

	playbookIngestTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent loop runs by outcome.",
				},
				[]string{"outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "End-to-end agent loop duration in seconds by outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			agentTurnsTotal: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_turns_executed",
					Help:    "Turns executed per agent run.",
					Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
				},
			),
			planCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "plan_source_calls_total",
					Help: "Total plan-source calls by status.",
				},
				[]string{"status"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
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
			retrievalDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "retrieval_query_duration_seconds",
					Help:    "Knowledge retrieval fan-out duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			retrievalMatches: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "retrieval_matches",
					Help:    "Matches returned per retrieval query.",
					Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
				},
			),
			knowledgeDocs: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "knowledge_documents",
					Help: "Documents stored per knowledge base.",
				},
				[]string{"base"},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session history load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session history save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionWriteTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_write_total",
					Help: "Total session writes by status.",
				},
				[]string{"status"},
			),
			playbookIngestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "playbook_ingest_total",
					Help: "Total playbook ingestions by status (stored/duplicate/error).",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentTurnsTotal,
			m.planCallTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.retrievalDuration,
			m.retrievalMatches,
			m.knowledgeDocs,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.sessionWriteTotal,
			m.playbookIngestTotal,
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

func RecordAgentRun(duration time.Duration, turns int, success bool) {
	m := getMetrics()
	outcome := "error"
	if success {
		outcome = "success"
	}
	m.agentRunTotal.WithLabelValues(outcome).Inc()
	m.agentRunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.agentTurnsTotal.Observe(float64(turns))
}

func RecordPlanCall(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().planCallTotal.WithLabelValues(status).Inc()
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

func RecordRetrieval(duration time.Duration, matches int) {
	m := getMetrics()
	m.retrievalDuration.Observe(duration.Seconds())
	m.retrievalMatches.Observe(float64(matches))
}

func SetKnowledgeDocuments(base string, count int) {
	getMetrics().knowledgeDocs.WithLabelValues(base).Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.sessionSaveDuration.Observe(duration.Seconds())
	m.sessionWriteTotal.WithLabelValues(status).Inc()
}

func RecordPlaybookIngest(status string) {
	getMetrics().playbookIngestTotal.WithLabelValues(status).Inc()
}
