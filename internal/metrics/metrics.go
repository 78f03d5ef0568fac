package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jgoulah/trackusage/pkg/models"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackusage_runs_total",
			Help: "Aggregation runs by final status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackusage_run_duration_seconds",
			Help:    "Aggregation run duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackusage_records_total",
			Help: "Visit records seen by aggregation runs, by outcome",
		},
		[]string{"outcome"},
	)

	LastSuccessTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackusage_last_success_timestamp_seconds",
			Help: "Unix time of the last successful aggregation run",
		},
	)

	registerOnce sync.Once
)

// Init registers the collectors with the default registry
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RunsTotal)
		prometheus.MustRegister(RunDuration)
		prometheus.MustRegister(RecordsTotal)
		prometheus.MustRegister(LastSuccessTimestamp)
	})
}

// ObserveRun records the counters of a finished run
func ObserveRun(summary models.RunSummary, elapsed time.Duration) {
	RunsTotal.WithLabelValues(summary.Status).Inc()
	RunDuration.Observe(elapsed.Seconds())

	RecordsTotal.WithLabelValues("inserted").Add(float64(summary.RecordsInserted))
	RecordsTotal.WithLabelValues("duplicate").Add(float64(summary.DuplicatesIgnored))
	RecordsTotal.WithLabelValues("skipped").Add(float64(summary.Skipped))
	RecordsTotal.WithLabelValues("malformed").Add(float64(summary.Malformed))
	RecordsTotal.WithLabelValues("unresolved").Add(float64(summary.Unresolved))

	if summary.Status == models.StatusSuccess || summary.Status == models.StatusEmpty {
		LastSuccessTimestamp.SetToCurrentTime()
	}
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
