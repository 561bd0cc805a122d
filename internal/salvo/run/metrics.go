package run

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/salvoproject/salvo/internal/salvo/metrics"
)

var runsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: metrics.MetricPrefix + "runs_started_total",
	Help: "Number of test runs accepted for execution.",
})

var runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: metrics.MetricPrefix + "runs_finished_total",
	Help: "Number of test runs that reached a terminal status, by status.",
}, []string{"status"})

var cancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: metrics.MetricPrefix + "run_cancellations_total",
	Help: "Number of cancellation passes executed, by reason.",
}, []string{"reason"})

var statusPollFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: metrics.MetricPrefix + "status_poll_failures_total",
	Help: "Number of failed worker status polls.",
})

var pollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    metrics.MetricPrefix + "poll_cycle_duration_seconds",
	Help:    "Duration of supervisor polling cycles in seconds.",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
})
