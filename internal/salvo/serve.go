package salvo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/salvoproject/salvo/internal/common"
	"github.com/salvoproject/salvo/internal/common/health"
	"github.com/salvoproject/salvo/internal/common/requestid"
	stanUtil "github.com/salvoproject/salvo/internal/common/stan-util"
	"github.com/salvoproject/salvo/internal/common/task"
	"github.com/salvoproject/salvo/internal/common/util"
	"github.com/salvoproject/salvo/internal/execution"
	"github.com/salvoproject/salvo/internal/salvo/aggregation"
	"github.com/salvoproject/salvo/internal/salvo/configuration"
	"github.com/salvoproject/salvo/internal/salvo/fleet"
	"github.com/salvoproject/salvo/internal/salvo/metrics"
	"github.com/salvoproject/salvo/internal/salvo/repository"
	"github.com/salvoproject/salvo/internal/salvo/run"
	"github.com/salvoproject/salvo/internal/salvo/server"
	"github.com/salvoproject/salvo/internal/salvo/telemetry"
)

func Serve(ctx context.Context, config *configuration.SalvoConfig, healthChecks *health.MultiChecker) error {
	log.Info("Salvo server starting")
	defer log.Info("Salvo server shutting down")

	checkConfig(config)

	// We call startupCompleteCheck.MarkComplete() once all services are up.
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks.Add(startupCompleteCheck)

	db := redis.NewUniversalClient(&config.Redis)
	defer util.CloseResource("redis client", db)

	runStore := repository.NewRedisRunRepository(db)
	scenarioStore := repository.NewRedisScenarioRepository(db, config.Scenarios.CacheExpiry)
	artifactStore := repository.NewRedisArtifactRepository(db)

	kubernetesClient, err := execution.CreateKubernetesClient(&config.Kubernetes)
	if err != nil {
		return err
	}
	taskClient := execution.NewKubernetesTaskClient(kubernetesClient, &config.Kubernetes)

	fleetController := fleet.NewController(taskClient, config.Fleet)
	aggregator := aggregation.NewAggregator(artifactStore)

	runManager := run.NewManager(scenarioStore, runStore, fleetController, taskClient, aggregator, config.Runs)
	defer runManager.Stop()
	metrics.ExposeRunStateMetrics(runManager)

	if len(config.Nats.Servers) > 0 {
		serverId := uuid.New()
		connection, err := stanUtil.DurableConnect(
			config.Nats.ClusterID,
			fmt.Sprintf("salvo-server-%s", serverId),
			strings.Join(config.Nats.Servers, ","),
		)
		if err != nil {
			return err
		}
		defer util.CloseResource("nats streaming connection", connection)

		relay := telemetry.NewRelay(connection, config.Nats.SubjectPrefix, config.Nats.QueueGroup)
		if err := relay.Start(); err != nil {
			return err
		}
		healthChecks.Add(relay)
		log.Infof("Relaying worker progress from subject %s", relay.IngestSubject())
	} else {
		log.Info("No NATS servers configured, live progress relay is disabled")
	}

	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix)
	defer taskManager.StopAll(time.Second * 2)
	taskManager.Register(runManager.ReapFinishedRuns, config.Runs.ReapInterval, "reap_finished_runs")

	mux := http.NewServeMux()
	restServer := server.NewRestServer(runManager, runStore, scenarioStore)
	restServer.Register(mux)
	health.SetupHttpMux(mux, healthChecks)

	shutdownHttp := common.ServeHttp(config.HttpPort, requestid.Middleware(mux, false))
	defer shutdownHttp()

	startupCompleteCheck.MarkComplete()

	<-ctx.Done()
	return nil
}

// checkConfig replaces settings that would stall the run loop with safe
// defaults. Zero grace settings are left alone, they are valid and mean the
// respective wait is skipped.
func checkConfig(config *configuration.SalvoConfig) {
	logger := log.WithField("Salvo", "CheckConfig")

	if config.Runs.PollInterval <= 0 {
		defaultPollInterval := 5 * time.Second
		logger.WithFields(log.Fields{
			"default":    defaultPollInterval,
			"configured": config.Runs.PollInterval,
		}).Warn("config.Runs.PollInterval invalid, using default instead")
		config.Runs.PollInterval = defaultPollInterval
	}
	if config.Runs.MaxStatusFailures <= 0 {
		defaultMaxFailures := 5
		logger.WithFields(log.Fields{
			"default":    defaultMaxFailures,
			"configured": config.Runs.MaxStatusFailures,
		}).Warn("config.Runs.MaxStatusFailures invalid, using default instead")
		config.Runs.MaxStatusFailures = defaultMaxFailures
	}
	if config.Runs.RetentionAfterFinish <= 0 {
		defaultRetention := time.Hour
		logger.WithFields(log.Fields{
			"default":    defaultRetention,
			"configured": config.Runs.RetentionAfterFinish,
		}).Warn("config.Runs.RetentionAfterFinish invalid, using default instead")
		config.Runs.RetentionAfterFinish = defaultRetention
	}
	if config.Runs.ReapInterval <= 0 {
		defaultReapInterval := time.Minute
		logger.WithFields(log.Fields{
			"default":    defaultReapInterval,
			"configured": config.Runs.ReapInterval,
		}).Warn("config.Runs.ReapInterval invalid, using default instead")
		config.Runs.ReapInterval = defaultReapInterval
	}
	if config.Kubernetes.TerminationGracePeriodSeconds <= 0 {
		defaultTerminationGrace := int64(30)
		logger.WithFields(log.Fields{
			"default":    defaultTerminationGrace,
			"configured": config.Kubernetes.TerminationGracePeriodSeconds,
		}).Warn("config.Kubernetes.TerminationGracePeriodSeconds invalid, using default instead")
		config.Kubernetes.TerminationGracePeriodSeconds = defaultTerminationGrace
	}
}
