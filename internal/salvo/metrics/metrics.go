package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/salvoproject/salvo/pkg/api"
)

const MetricPrefix = "salvo_"

// RunStateProvider exposes a snapshot of the runs currently held in memory.
type RunStateProvider interface {
	Snapshot() []*api.TestRun
}

func ExposeRunStateMetrics(provider RunStateProvider) *RunStateCollector {
	collector := &RunStateCollector{provider: provider}
	prometheus.MustRegister(collector)
	return collector
}

type RunStateCollector struct {
	provider RunStateProvider
}

var runCountDesc = prometheus.NewDesc(
	MetricPrefix+"runs",
	"Number of test runs tracked in memory, by status",
	[]string{"status"},
	nil,
)

var workerTaskCountDesc = prometheus.NewDesc(
	MetricPrefix+"worker_tasks",
	"Number of worker tasks across tracked runs, by status",
	[]string{"status"},
	nil,
)

func (c *RunStateCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- runCountDesc
	desc <- workerTaskCountDesc
}

func (c *RunStateCollector) Collect(metrics chan<- prometheus.Metric) {
	runCounts := map[api.RunStatus]int{}
	taskCounts := map[api.TaskStatus]int{}
	for _, run := range c.provider.Snapshot() {
		runCounts[run.Status]++
		for _, task := range run.Tasks {
			taskCounts[task.Status]++
		}
	}

	for status, count := range runCounts {
		metrics <- prometheus.MustNewConstMetric(runCountDesc, prometheus.GaugeValue, float64(count), string(status))
	}
	for status, count := range taskCounts {
		metrics <- prometheus.MustNewConstMetric(workerTaskCountDesc, prometheus.GaugeValue, float64(count), string(status))
	}
}
