package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/salvoproject/salvo/internal/salvo/metrics"
)

var samplesRelayed = promauto.NewCounter(prometheus.CounterOpts{
	Name: metrics.MetricPrefix + "progress_samples_relayed_total",
	Help: "Number of worker progress samples relayed to per-test subjects.",
})

var samplesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
	Name: metrics.MetricPrefix + "progress_samples_discarded_total",
	Help: "Number of progress samples dropped for being malformed or unroutable.",
})
