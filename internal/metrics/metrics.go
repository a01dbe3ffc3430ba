// Package metrics provides Prometheus instrumentation for ingestion,
// matching and screening. Every method is safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Metrics bundles the engine's collectors.
type Metrics struct {
	// Fetch attempts by source and outcome (ok, retry, failed, throttled)
	FetchOutcome *prometheus.CounterVec

	// Ingestion runs by source and success
	IngestionRuns *prometheus.CounterVec

	// Ingested records by source and result (new, updated, skipped, error, deactivated)
	IngestedRecords *prometheus.CounterVec

	// Ingestion run duration by source
	IngestionLatency *prometheus.HistogramVec

	// Single-customer match latency
	MatchLatency prometheus.Histogram

	// Screenings by resulting risk level and status
	ScreeningOutcome *prometheus.CounterVec

	// Alerts created by priority
	AlertsCreated *prometheus.CounterVec

	// Batch jobs by terminal status
	BatchJobs *prometheus.CounterVec
}

// New registers the engine metrics on reg. Pass prometheus.DefaultRegisterer
// in production and prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_fetch_attempts_total",
			Help: "Provider document fetches by source and outcome",
		}, []string{"source", "outcome"}),

		IngestionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_ingestion_runs_total",
			Help: "Ingestion runs by source and success",
		}, []string{"source", "success"}),

		IngestedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_ingested_records_total",
			Help: "Reconciled watchlist records by source and result",
		}, []string{"source", "result"}),

		IngestionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_ingestion_duration_seconds",
			Help:    "Duration of ingestion runs by source",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"source"}),

		MatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_match_duration_seconds",
			Help:    "Duration of matching one customer against the corpus",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		ScreeningOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_screenings_total",
			Help: "Customer screenings by risk level and status",
		}, []string{"risk_level", "status"}),

		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_alerts_created_total",
			Help: "Alerts created by priority",
		}, []string{"priority"}),

		BatchJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_batch_jobs_total",
			Help: "Batch screening jobs by terminal status",
		}, []string{"status"}),
	}
}

// ObserveFetch records one fetch outcome.
func (m *Metrics) ObserveFetch(source, outcome string) {
	if m != nil {
		m.FetchOutcome.WithLabelValues(source, outcome).Inc()
	}
}

// ObserveIngestion records a finished ingestion run.
func (m *Metrics) ObserveIngestion(r *domain.RunResult) {
	if m == nil || r == nil {
		return
	}
	success := "false"
	if r.Success {
		success = "true"
	}
	m.IngestionRuns.WithLabelValues(r.Source, success).Inc()
	m.IngestionLatency.WithLabelValues(r.Source).Observe(r.Duration.Seconds())
	m.IngestedRecords.WithLabelValues(r.Source, "new").Add(float64(r.New))
	m.IngestedRecords.WithLabelValues(r.Source, "updated").Add(float64(r.Updated))
	m.IngestedRecords.WithLabelValues(r.Source, "skipped").Add(float64(r.Skipped))
	m.IngestedRecords.WithLabelValues(r.Source, "error").Add(float64(r.Errors))
	m.IngestedRecords.WithLabelValues(r.Source, "deactivated").Add(float64(r.Deactivated))
}

// ObserveMatch records the latency of one customer match.
func (m *Metrics) ObserveMatch(d time.Duration) {
	if m != nil {
		m.MatchLatency.Observe(d.Seconds())
	}
}

// ObserveScreening records a screening outcome.
func (m *Metrics) ObserveScreening(r *domain.ScreeningResult) {
	if m != nil && r != nil {
		m.ScreeningOutcome.WithLabelValues(string(r.RiskLevel), string(r.Status)).Inc()
	}
}

// IncrementAlert records a newly created alert.
func (m *Metrics) IncrementAlert(priority domain.Priority) {
	if m != nil {
		m.AlertsCreated.WithLabelValues(string(priority)).Inc()
	}
}

// IncrementBatch records a batch job reaching status.
func (m *Metrics) IncrementBatch(status domain.JobStatus) {
	if m != nil {
		m.BatchJobs.WithLabelValues(string(status)).Inc()
	}
}
