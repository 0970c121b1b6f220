package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec // labels: span={hourly,daily,metar,stations}, outcome={succeeded,failed,skipped}
	RowsStaged       *prometheus.CounterVec // labels: span
	RowsInserted     *prometheus.CounterVec // labels: span
	RowsSkipped      *prometheus.CounterVec // labels: span, reason
	FieldIssues      *prometheus.CounterVec // labels: span
	ArchiveDownloads *prometheus.CounterVec // labels: outcome={cached,mirror,upstream,error}
	RunDuration      prometheus.Histogram
	PipelineRunning  prometheus.Gauge

	ScheduledJobs     *prometheus.CounterVec // labels: job, outcome={succeeded,failed,cancelled}
	RequestsConsumed  prometheus.Counter
	RequestsCompleted prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed span loads by span and outcome.",
		}, []string{"span", "outcome"}),
		RowsStaged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_staged_total",
			Help:      "Rows copied into staging tables.",
		}, []string{"span"}),
		RowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "New rows merged into target tables.",
		}, []string{"span"}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Source rows dropped before staging, by reason.",
		}, []string{"span", "reason"}),
		FieldIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_issues_total",
			Help:      "Field values that failed coercion and were stored as null.",
		}, []string{"span"}),
		ArchiveDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_downloads_total",
			Help:      "Archive fetches by where the archive came from.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete window run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a window run is in progress.",
		}),
		ScheduledJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_jobs_total",
			Help:      "Scheduled job executions by job and outcome.",
		}, []string{"job", "outcome"}),
		RequestsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_consumed_total",
			Help:      "Run requests read from the request topic.",
		}),
		RequestsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_completed_total",
			Help:      "Run results published to the result topic.",
		}),
	}
}

// NewMetrics creates and registers all ETL metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.RowsStaged,
		m.RowsInserted,
		m.RowsSkipped,
		m.FieldIssues,
		m.ArchiveDownloads,
		m.RunDuration,
		m.PipelineRunning,
		m.ScheduledJobs,
		m.RequestsConsumed,
		m.RequestsCompleted,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
