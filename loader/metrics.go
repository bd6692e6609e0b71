package loader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a load run.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	FetchDuration    prometheus.Histogram
	DocumentsTotal   prometheus.Counter
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	EntitiesRetained *prometheus.GaugeVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablegen_requests_total",
			Help: "Total source fetches issued by the loader.",
		},
		[]string{"scheme"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablegen_fetch_duration_seconds",
			Help:    "Time to fetch one source document.",
			Buckets: prometheus.DefBuckets,
		},
	)
	documents := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablegen_documents_total",
			Help: "Total number of source documents handed to the pipeline.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablegen_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablegen_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	entities := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablegen_entities_retained",
			Help: "Deduplicated entities retained per output table.",
		},
		[]string{"table"},
	)

	registry.MustRegister(requests, fetchDuration, documents, retries, errorsTotal, entities)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		FetchDuration:    fetchDuration,
		DocumentsTotal:   documents,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		EntitiesRetained: entities,
	}
}

// IncRequest increments the requests counter for a URL scheme.
func (m *Metrics) IncRequest(scheme string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(scheme).Inc()
}

// ObserveDuration records a fetch duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncDocuments increments the documents counter.
func (m *Metrics) IncDocuments() {
	if m == nil {
		return
	}
	m.DocumentsTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetEntities records the retained row count of a table.
func (m *Metrics) SetEntities(table string, n int) {
	if m == nil {
		return
	}
	m.EntitiesRetained.WithLabelValues(table).Set(float64(n))
}
