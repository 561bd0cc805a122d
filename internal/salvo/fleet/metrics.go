package fleet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/salvoproject/salvo/internal/salvo/metrics"
)

var workersLaunched = promauto.NewCounter(prometheus.CounterOpts{
	Name: metrics.MetricPrefix + "worker_tasks_launched_total",
	Help: "Number of worker tasks successfully launched.",
})
