// Package metrics provides Prometheus metrics export for the ingestion and
// retrieval pipeline.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports pipeline metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Ingest metrics
	ingested   *prometheus.CounterVec
	demotions  *prometheus.CounterVec
	repairs    *prometheus.CounterVec
	unresolved *prometheus.GaugeVec
	syncRuns   *prometheus.CounterVec
	syncLag    *prometheus.HistogramVec

	// Index metrics
	embedded      *prometheus.CounterVec
	embedFailures *prometheus.CounterVec
	embedLatency  *prometheus.HistogramVec

	// Retrieval metrics
	searches      *prometheus.CounterVec
	searchLatency *prometheus.HistogramVec
	answers       *prometheus.CounterVec
	answerLatency *prometheus.HistogramVec
	llmTokens     *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guildsage",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Messages processed by the normalizer, by result",
		},
		[]string{"channel_id", "result"},
	)

	e.demotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guildsage",
			Subsystem: "ingest",
			Name:      "demotions_total",
			Help:      "Messages demoted to top-level because their parent reference closed a cycle",
		},
		[]string{"channel_id"},
	)

	e.repairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guildsage",
			Subsystem: "ingest",
			Name:      "repaired_edges_total",
			Help:      "Reply edges that became traversable when their parent arrived",
		},
		[]string{"channel_id"},
	)

	e.unresolved = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "guildsage",
			Subsystem: "ingest",
			Name:      "unresolved_edges",
			Help:      "Reply edges still waiting for their parent message",
		},
		[]string{"channel_id"},
	)

	e.syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guildsage",
			Subsystem: "ingest",
			Name:      "sync_runs_total",
			Help:      "Channel sync runs, by status",
		},
		[]string{"status"},
	)

	e.syncLag = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guildsage",
			Subsystem: "ingest",
			Name:      "sync_duration_seconds",
			Help:      "Duration of a full channel sync",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	e.embedded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guildsage",
			Subsystem: "index",
			Name:      "embedded_messages_total",
			Help:      "Messages embedded and indexed",
		},
		[]string{"model"},
	)

	e.embedFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guildsage",
			Subsystem: "index",
			Name:      "embed_failures_total",
			Help:      "Embedding batches that failed",
		},
		[]string{"model", "reason"},
	)

	e.embedLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guildsage",
			Subsystem: "index",
			Name:      "embed_latency_seconds",
			Help:      "Embedding batch latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	e.searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guildsage",
			Subsystem: "rag",
			Name:      "searches_total",
			Help:      "Vector searches, by status",
		},
		[]string{"status"},
	)

	e.searchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guildsage",
			Subsystem: "rag",
			Name:      "search_latency_seconds",
			Help:      "Vector search latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	e.answers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guildsage",
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Question answering runs, by outcome",
		},
		[]string{"outcome"},
	)

	e.answerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guildsage",
			Subsystem: "rag",
			Name:      "answer_latency_seconds",
			Help:      "End to end answer latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"outcome"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guildsage",
			Subsystem: "rag",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	registry.MustRegister(
		e.ingested,
		e.demotions,
		e.repairs,
		e.unresolved,
		e.syncRuns,
		e.syncLag,
		e.embedded,
		e.embedFailures,
		e.embedLatency,
		e.searches,
		e.searchLatency,
		e.answers,
		e.answerLatency,
		e.llmTokens,
	)

	return e
}

// RecordIngest records the outcome of normalizing and upserting one message.
// Result is one of new, updated, unchanged, malformed, dropped.
func (e *PrometheusExporter) RecordIngest(channelID, result string) {
	e.ingested.WithLabelValues(channelID, result).Inc()
}

// RecordDemotion records a message demoted to top-level.
func (e *PrometheusExporter) RecordDemotion(channelID string) {
	e.demotions.WithLabelValues(channelID).Inc()
}

// RecordRepairs records reply edges repaired by an arriving parent.
func (e *PrometheusExporter) RecordRepairs(channelID string, count int) {
	if count > 0 {
		e.repairs.WithLabelValues(channelID).Add(float64(count))
	}
}

// SetUnresolved sets the number of reply edges still waiting for a parent.
func (e *PrometheusExporter) SetUnresolved(channelID string, count int) {
	e.unresolved.WithLabelValues(channelID).Set(float64(count))
}

// RecordSync records a completed channel sync.
func (e *PrometheusExporter) RecordSync(latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.syncRuns.WithLabelValues(status).Inc()
	e.syncLag.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordEmbedBatch records one embedding batch.
func (e *PrometheusExporter) RecordEmbedBatch(model string, size int, latency time.Duration, err error) {
	if err != nil {
		e.embedFailures.WithLabelValues(model, errorReason(err)).Inc()
	} else {
		e.embedded.WithLabelValues(model).Add(float64(size))
	}
	e.embedLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordSearch records a vector search.
func (e *PrometheusExporter) RecordSearch(latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.searches.WithLabelValues(status).Inc()
	e.searchLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordAnswer records a question answering run. Outcome is one of answered,
// no_context, error.
func (e *PrometheusExporter) RecordAnswer(outcome string, latency time.Duration) {
	e.answers.WithLabelValues(outcome).Inc()
	e.answerLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordLLMTokens records LLM token usage.
func (e *PrometheusExporter) RecordLLMTokens(model, tokenType string, count int) {
	if count > 0 {
		e.llmTokens.WithLabelValues(model, tokenType).Add(float64(count))
	}
}

// GetHandler returns the HTTP handler for Prometheus metrics.
func (e *PrometheusExporter) GetHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.GetHandler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}

// errorReason buckets an error into a bounded label value. The full error
// goes to the log, never into a label.
func errorReason(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return "rate_limited"
	default:
		return "error"
	}
}
