package configuration

import (
	"time"

	"github.com/go-redis/redis"
)

type SalvoConfig struct {
	HttpPort    uint16
	MetricsPort uint16

	Redis redis.UniversalOptions

	Nats       NatsConfig
	Fleet      FleetConfig
	Runs       RunConfig
	Kubernetes KubernetesConfig
	Scenarios  ScenarioConfig
}

type NatsConfig struct {
	Servers   []string
	ClusterID string
	// Subject prefix for progress telemetry, e.g. "salvo" yields
	// salvo.progress.ingest and salvo.progress.test.<testId>.
	SubjectPrefix string
	QueueGroup    string
}

type FleetConfig struct {
	// Hard cap on worker tasks a single run may launch.
	MaxWorkerTasks int
	// Regions tasks are spread over when a scenario does not name any.
	DefaultRegions []string
}

type RunConfig struct {
	// How often active runs are polled for worker status.
	PollInterval time.Duration
	// Consecutive poll failures after which a run is marked failed.
	MaxStatusFailures int
	// Extra time a run may use beyond ramp-up plus duration before it is timed out.
	GraceWindow time.Duration
	// How long cancellation waits for stopped tasks to reach a terminal state
	// before force-marking them.
	CancelGracePeriod time.Duration
	// How long terminal runs are kept in the in-memory registry before being
	// evicted. They remain readable from the run store afterwards.
	RetentionAfterFinish time.Duration
	// How often the registry is swept for runs past their retention.
	ReapInterval time.Duration
}

type KubernetesConfig struct {
	InClusterDeployment bool
	ConfigLocation      string
	Namespace           string
	WorkerImage         string
	// Seconds a deleted worker pod gets to flush its result artifact before
	// the kubelet kills it.
	TerminationGracePeriodSeconds int64
	// Resource requests applied to every worker pod, e.g. cpu: 500m.
	WorkerResources map[string]string
	// Extra environment handed to every worker, e.g. result store endpoints.
	WorkerEnv map[string]string
}

type ScenarioConfig struct {
	// How long scenario reads are served from the in-process cache.
	CacheExpiry time.Duration
}
