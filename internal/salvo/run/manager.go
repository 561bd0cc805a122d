package run

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/salvoproject/salvo/internal/common"
	"github.com/salvoproject/salvo/internal/common/logging"
	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/internal/common/util"
	"github.com/salvoproject/salvo/internal/execution"
	"github.com/salvoproject/salvo/internal/salvo/configuration"
	"github.com/salvoproject/salvo/internal/salvo/repository"
	"github.com/salvoproject/salvo/pkg/api"
)

// FleetController plans the worker fleet for a scenario and launches it.
// Satisfied by fleet.Controller.
type FleetController interface {
	PlanFleet(testId string, scenario *api.Scenario) ([]execution.TaskSpec, error)
	Launch(ctx context.Context, testId string, specs []execution.TaskSpec) ([]api.WorkerTask, error)
}

// ResultAggregator merges the artifacts of a finished run into a summary.
// Satisfied by aggregation.Aggregator.
type ResultAggregator interface {
	Aggregate(run *api.TestRun) (*api.ResultSummary, []string, error)
}

// Manager owns the supervisors of all runs started by this process. Each run
// executes on its own goroutine; the manager only starts them, routes
// cancellation requests and serves status reads.
type Manager struct {
	scenarios  repository.ScenarioRepository
	runStore   repository.RunRepository
	fleet      FleetController
	taskClient execution.TaskClient
	aggregator ResultAggregator
	config     configuration.RunConfig
	clock      clock.Clock

	mu          sync.Mutex
	supervisors map[string]*supervisor
}

func NewManager(
	scenarios repository.ScenarioRepository,
	runStore repository.RunRepository,
	fleet FleetController,
	taskClient execution.TaskClient,
	aggregator ResultAggregator,
	config configuration.RunConfig,
) *Manager {
	return &Manager{
		scenarios:   scenarios,
		runStore:    runStore,
		fleet:       fleet,
		taskClient:  taskClient,
		aggregator:  aggregator,
		config:      config,
		clock:       clock.RealClock{},
		supervisors: map[string]*supervisor{},
	}
}

// StartRun creates a new run of the given scenario and returns its test id.
// The fleet plan is validated synchronously, so capacity and argument errors
// reject the request before anything is launched; the launch itself happens
// on the run's own goroutine.
func (m *Manager) StartRun(scenarioId string) (string, error) {
	scenario, err := m.scenarios.GetScenario(scenarioId)
	if err != nil {
		return "", err
	}

	testId := util.NewULID()
	specs, err := m.fleet.PlanFleet(testId, scenario)
	if err != nil {
		return "", err
	}

	run := &api.TestRun{
		TestId:     testId,
		ScenarioId: scenario.Id,
		Status:     api.RunPending,
		StartTime:  m.clock.Now(),
	}
	if err := m.runStore.PutRun(run); err != nil {
		return "", errors.WithMessage(err, "failed to create run record")
	}

	s := newSupervisor(run, scenario, specs, m.fleet, m.taskClient, m.aggregator, m.runStore, m.config, m.clock)
	m.mu.Lock()
	m.supervisors[testId] = s
	m.mu.Unlock()
	s.start()

	runsStarted.Inc()
	log.WithField("testId", testId).Infof("started run of scenario %s with %d worker tasks", scenario.Id, len(specs))
	return testId, nil
}

// CancelRun requests cancellation of a run. The request takes effect at the
// run's next polling tick. Cancelling an already terminal run returns
// ErrAlreadyTerminal; repeating a cancel on a live run is a no-op.
func (m *Manager) CancelRun(testId string) error {
	m.mu.Lock()
	s, ok := m.supervisors[testId]
	m.mu.Unlock()
	if ok {
		if !s.requestCancel(api.ReasonUserRequested) {
			return &salvoerrors.ErrAlreadyTerminal{TestId: testId, Status: string(s.snapshot().Status)}
		}
		return nil
	}

	run, err := m.runStore.GetRun(testId)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return &salvoerrors.ErrAlreadyTerminal{TestId: testId, Status: string(run.Status)}
	}
	return m.cancelOrphanedRun(run)
}

// cancelOrphanedRun closes out a non-terminal run no supervisor owns, which
// happens when the process restarted while the run was live. Remaining
// workers get a best-effort stop and the record goes straight to CANCELLED
// without a grace drain, since there is no polling loop left to drive one.
func (m *Manager) cancelOrphanedRun(run *api.TestRun) error {
	logger := log.WithField("testId", run.TestId)
	logger.Warnf("cancelling orphaned run in status %s", run.Status)

	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	for _, handle := range activeHandles(run) {
		if err := m.taskClient.StopTask(ctx, handle); err != nil {
			logging.WithStacktrace(logger, err).Warnf("failed to stop worker task %s", handle.TaskId)
		}
	}

	for i := range run.Tasks {
		if !run.Tasks[i].Status.IsTerminal() {
			run.Tasks[i].Status = api.TaskStoppedFailure
		}
	}
	run.Status = api.RunCancelled
	run.Reason = api.ReasonUserRequested
	end := m.clock.Now()
	run.EndTime = &end
	if err := m.runStore.PutRun(run); err != nil {
		return errors.WithMessage(err, "failed to persist cancelled run")
	}
	cancellationsTotal.WithLabelValues(api.ReasonUserRequested).Inc()
	runsFinished.WithLabelValues(string(api.RunCancelled)).Inc()
	return nil
}

// GetRun returns a snapshot of the run's current state. Live runs are served
// from their supervisor, finished and reaped ones from the run store.
func (m *Manager) GetRun(testId string) (*api.TestRun, error) {
	m.mu.Lock()
	s, ok := m.supervisors[testId]
	m.mu.Unlock()
	if ok {
		return s.snapshot(), nil
	}
	return m.runStore.GetRun(testId)
}

// Snapshot returns the current state of every run the manager still tracks,
// in test id order.
func (m *Manager) Snapshot() []*api.TestRun {
	m.mu.Lock()
	testIds := maps.Keys(m.supervisors)
	slices.Sort(testIds)
	supervisors := make([]*supervisor, 0, len(testIds))
	for _, testId := range testIds {
		supervisors = append(supervisors, m.supervisors[testId])
	}
	m.mu.Unlock()

	runs := make([]*api.TestRun, 0, len(supervisors))
	for _, s := range supervisors {
		runs = append(runs, s.snapshot())
	}
	return runs
}

// ReapFinishedRuns drops supervisors of runs that reached a terminal status
// longer than the retention period ago. Reaped runs stay readable from the
// run store.
func (m *Manager) ReapFinishedRuns() {
	cutoff := m.clock.Now().Add(-m.config.RetentionAfterFinish)
	m.mu.Lock()
	defer m.mu.Unlock()
	for testId, s := range m.supervisors {
		run := s.snapshot()
		if run.Terminal() && run.EndTime != nil && run.EndTime.Before(cutoff) {
			delete(m.supervisors, testId)
			log.WithField("testId", testId).Info("dropped finished run from the registry")
		}
	}
}

// Stop halts all supervisors and waits for their goroutines to exit. Runs
// that were still live keep their last persisted state in the run store.
func (m *Manager) Stop() {
	m.mu.Lock()
	supervisors := maps.Values(m.supervisors)
	m.mu.Unlock()

	for _, s := range supervisors {
		s.halt()
	}
}
