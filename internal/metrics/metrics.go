package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shoebox",
	Subsystem: "ingest",
	Name:      "files_total",
	Help:      "Per-file terminal outcomes (success, skipped, failed).",
}, []string{"outcome"})

var sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shoebox",
	Subsystem: "ingest",
	Name:      "sessions_total",
	Help:      "Finished ingestion sessions by terminal status.",
}, []string{"status"})

var analyzerRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "shoebox",
	Subsystem: "ingest",
	Name:      "analyzer_retries_total",
	Help:      "Analyzer calls that were retried after a transient failure.",
})

// FileProcessed records one per-file terminal outcome.
func FileProcessed(outcome string) {
	filesTotal.WithLabelValues(outcome).Inc()
}

// SessionFinished records one session reaching a terminal status.
func SessionFinished(status string) {
	sessionsTotal.WithLabelValues(status).Inc()
}

// AnalyzerRetry records one retried analyzer attempt.
func AnalyzerRetry() {
	analyzerRetries.Inc()
}

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
