package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "pressreel"

	stageDuration   = "stage_duration_seconds"
	jobsTotal       = "jobs_total"
	stageRetries    = "stage_retries_total"
	tempFilesActive = "temp_files_tracked"

	// Labels
	stageLabel   = "stage"
	outcomeLabel = "outcome"
	statusLabel  = "status"
)

var stageDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      stageDuration,
		Help:      "duration of pipeline stages",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	},
	[]string{stageLabel, outcomeLabel},
)

var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      jobsTotal,
		Help:      "number of jobs that reached a terminal status",
	},
	[]string{statusLabel},
)

var stageRetriesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      stageRetries,
		Help:      "number of retried collaborator calls per stage",
	},
	[]string{stageLabel},
)

var tempFilesMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      tempFilesActive,
		Help:      "number of transient files currently tracked",
	},
)

func ObserveStage(stage, outcome string, d time.Duration) {
	stageDurationMetric.With(prometheus.Labels{
		stageLabel:   stage,
		outcomeLabel: outcome,
	}).Observe(d.Seconds())
}

func IncreaseJobsTotal(status string) {
	jobsTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreaseStageRetries(stage string) {
	stageRetriesMetric.With(prometheus.Labels{stageLabel: stage}).Inc()
}

func SetTempFilesTracked(n int) {
	tempFilesMetric.Set(float64(n))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(stageDurationMetric)
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(stageRetriesMetric)
	prometheus.MustRegister(tempFilesMetric)
}
