package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// IngestionMetrics observes per-file ingestion in the worker and the CLI.
type IngestionMetrics struct {
	registry *prometheus.Registry

	filesTotal      *prometheus.CounterVec
	chunksTotal     prometheus.Counter
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
}

func NewIngestionMetrics(service string) *IngestionMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	filesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ingestion",
			Name:        "files_total",
			Help:        "Total ingested source files by status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	chunksTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ingestion",
			Name:        "chunks_total",
			Help:        "Total chunks written to the vector store.",
			ConstLabels: constLabels,
		},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "ingestion",
			Name:        "file_duration_seconds",
			Help:        "Per-file ingestion duration in seconds by status.",
			Buckets:     []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "ingestion",
			Name:        "in_flight",
			Help:        "Number of source files being ingested.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(filesTotal, chunksTotal, processDuration, processInFlight)

	return &IngestionMetrics{
		registry:        registry,
		filesTotal:      filesTotal,
		chunksTotal:     chunksTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
	}
}

func (m *IngestionMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IngestionMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *IngestionMetrics) FinishDocument(duration time.Duration, chunks int, err error) {
	m.processInFlight.Dec()

	status := "ingested"
	if err != nil {
		status = "failed"
	}
	m.filesTotal.WithLabelValues(status).Inc()
	m.processDuration.WithLabelValues(status).Observe(duration.Seconds())
	if err == nil && chunks > 0 {
		m.chunksTotal.Add(float64(chunks))
	}
}
