package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/salvoproject/salvo/internal/common/logging"
	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/internal/execution"
	"github.com/salvoproject/salvo/internal/salvo/configuration"
	"github.com/salvoproject/salvo/internal/salvo/repository"
	"github.com/salvoproject/salvo/pkg/api"
)

// supervisor drives a single test run from fleet launch to a terminal status.
// All run and task state transitions happen on the supervisor's goroutine, one
// polling tick at a time; other goroutines only read snapshots or record a
// cancellation request.
type supervisor struct {
	testId string
	specs  []execution.TaskSpec
	// deadline is the wall-clock instant after which the run is timed out:
	// start time plus ramp-up, duration and the grace window.
	deadline time.Time

	fleet      FleetController
	taskClient execution.TaskClient
	aggregator ResultAggregator
	runStore   repository.RunRepository
	canceller  *canceller
	clock      clock.Clock
	config     configuration.RunConfig
	log        *logrus.Entry

	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}

	mu              sync.Mutex
	run             *api.TestRun
	cancelRequested bool
	cancelReason    string

	// pollFailures counts consecutive failed status queries. Only touched on
	// the supervisor goroutine.
	pollFailures int
}

func newSupervisor(
	run *api.TestRun,
	scenario *api.Scenario,
	specs []execution.TaskSpec,
	fleet FleetController,
	taskClient execution.TaskClient,
	aggregator ResultAggregator,
	runStore repository.RunRepository,
	config configuration.RunConfig,
	clk clock.Clock,
) *supervisor {
	ctx, stop := context.WithCancel(context.Background())
	logger := logrus.WithField("testId", run.TestId)
	return &supervisor{
		testId:     run.TestId,
		specs:      specs,
		deadline:   run.StartTime.Add(scenario.RampUp + scenario.Duration + config.GraceWindow),
		fleet:      fleet,
		taskClient: taskClient,
		aggregator: aggregator,
		runStore:   runStore,
		canceller: &canceller{
			taskClient:   taskClient,
			clock:        clk,
			pollInterval: config.PollInterval,
			gracePeriod:  config.CancelGracePeriod,
			log:          logger,
		},
		clock:  clk,
		config: config,
		log:    logger,
		ctx:    ctx,
		stop:   stop,
		done:   make(chan struct{}),
		run:    run,
	}
}

func (s *supervisor) start() {
	go s.loop()
}

func (s *supervisor) loop() {
	defer close(s.done)
	if s.launch() {
		return
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.clock.After(s.config.PollInterval):
		}
		start := time.Now()
		terminal := s.tick()
		pollCycleDuration.Observe(time.Since(start).Seconds())
		if terminal {
			return
		}
	}
}

// halt stops the supervisor goroutine without transitioning the run, which
// keeps its last persisted state.
func (s *supervisor) halt() {
	s.stop()
	<-s.done
}

// snapshot returns a copy of the run record safe for concurrent use.
func (s *supervisor) snapshot() *api.TestRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.DeepCopy()
}

// requestCancel records a cancellation request for the run, honoured at the
// start of the next polling tick. It returns false when the run is already
// terminal and the request has no effect. The first recorded reason wins.
func (s *supervisor) requestCancel(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.Status.IsTerminal() {
		return false
	}
	if !s.cancelRequested {
		s.cancelRequested = true
		s.cancelReason = reason
	}
	return true
}

func (s *supervisor) pendingCancel() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelReason, s.cancelRequested
}

// launch starts the planned worker fleet and moves the run to RUNNING, or to
// FAILED when no worker at all could be started. A partial launch failure is
// recorded on the run, which proceeds degraded with the workers that did
// start. It returns true when the run reached a terminal status.
func (s *supervisor) launch() bool {
	tasks, err := s.fleet.Launch(s.ctx, s.testId, s.specs)
	if err != nil {
		var launchErr *salvoerrors.ErrLaunchFailure
		if !errors.As(err, &launchErr) || launchErr.Launched == 0 {
			logging.WithStacktrace(s.log, err).Error("failed to launch any worker task")
			s.mu.Lock()
			s.run.Tasks = tasks
			s.mu.Unlock()
			return s.finish(api.RunFailed, api.ReasonLaunchFailure, nil, err.Error())
		}
		logging.WithStacktrace(s.log, err).Warnf(
			"fleet started degraded with %d of %d worker tasks", launchErr.Launched, launchErr.Requested)
		s.transition(tasks, api.RunRunning, err.Error())
		return false
	}
	s.log.Infof("launched %d worker tasks", len(tasks))
	s.transition(tasks, api.RunRunning)
	return false
}

// tick runs one polling cycle and reports whether the run reached a terminal
// status. A cancellation request recorded before the tick started is honoured
// before anything else.
func (s *supervisor) tick() bool {
	if reason, requested := s.pendingCancel(); requested {
		s.cancel(reason)
		return true
	}

	s.mu.Lock()
	handles := activeHandles(s.run)
	s.mu.Unlock()

	statuses := []execution.TaskStatus{}
	if len(handles) > 0 {
		var err error
		statuses, err = s.taskClient.DescribeTasks(s.ctx, handles)
		if err != nil {
			if s.ctx.Err() != nil {
				return false
			}
			s.pollFailures++
			statusPollFailures.Inc()
			logging.WithStacktrace(s.log, err).Warnf(
				"failed to query worker status, %d consecutive failures", s.pollFailures)
			if s.pollFailures >= s.config.MaxStatusFailures {
				return s.finish(api.RunFailed, api.ReasonStatusUnavailable, nil, fmt.Sprintf(
					"worker status unavailable after %d consecutive attempts: %v", s.pollFailures, errors.Cause(err)))
			}
			return false
		}
		s.pollFailures = 0
	}

	s.mu.Lock()
	changed := s.applyStatusesLocked(statuses, true)
	active := len(s.run.ActiveTasks())
	succeeded := countSucceeded(s.run.Tasks)
	var snapshot *api.TestRun
	if changed && active > 0 {
		snapshot = s.run.DeepCopy()
	}
	s.mu.Unlock()

	if active == 0 {
		if succeeded == 0 {
			return s.finish(api.RunFailed, api.ReasonWorkersFailed, nil, "no worker task succeeded")
		}
		return s.completeRun()
	}
	if snapshot != nil {
		s.persist(snapshot)
	}
	if s.clock.Now().After(s.deadline) {
		s.log.Warnf("run exceeded its deadline with %d worker tasks still active", active)
		s.cancel(api.ReasonTimeout)
		return true
	}
	return false
}

// completeRun aggregates worker artifacts and commits the final COMPLETE or
// PARTIAL status. The run is moved to COMPLETING first so observers can tell
// that only result collection remains.
func (s *supervisor) completeRun() bool {
	s.transition(nil, api.RunCompleting)

	summary, notes, err := s.aggregator.Aggregate(s.snapshot())
	if err != nil {
		logging.WithStacktrace(s.log, err).Error("failed to aggregate worker results")
		return s.finish(api.RunFailed, api.ReasonNoArtifacts, nil, err.Error())
	}

	s.mu.Lock()
	failed := 0
	for _, task := range s.run.Tasks {
		if task.Status == api.TaskStoppedFailure {
			failed++
		}
	}
	s.mu.Unlock()

	status := api.RunComplete
	if failed > 0 || len(notes) > 0 {
		status = api.RunPartial
	}
	return s.finish(status, "", summary, notes...)
}

// cancel runs the cancellation path: stop every worker not already terminal,
// wait up to the grace period for the fleet to wind down, force-mark whatever
// is left and commit CANCELLED. Cancelled runs are never aggregated; artifacts
// workers may have written already are left in place but unused.
func (s *supervisor) cancel(reason string) {
	s.mu.Lock()
	s.cancelRequested = false
	s.run.Status = api.RunCancelling
	s.run.Reason = reason
	handles := activeHandles(s.run)
	snapshot := s.run.DeepCopy()
	s.mu.Unlock()
	s.persist(snapshot)
	cancellationsTotal.WithLabelValues(reason).Inc()
	s.log.Infof("cancelling run with %d worker tasks still active, reason %s", len(handles), reason)

	if len(handles) > 0 {
		s.canceller.stopTasks(s.ctx, handles)
		observed := s.canceller.awaitTermination(s.ctx, handles)
		if s.ctx.Err() != nil {
			// Shutting down, the run stays CANCELLING in the store.
			return
		}
		s.mu.Lock()
		s.applyStatusesLocked(observed, false)
		for i := range s.run.Tasks {
			task := &s.run.Tasks[i]
			if task.Status.IsTerminal() {
				continue
			}
			task.Status = api.TaskStoppedFailure
			s.run.Errors = append(s.run.Errors, fmt.Sprintf(
				"worker %s did not stop within %s and was marked stopped", task.TaskId, s.config.CancelGracePeriod))
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.run.Status = api.RunCancelled
	s.run.Reason = reason
	end := s.clock.Now()
	s.run.EndTime = &end
	snapshot = s.run.DeepCopy()
	s.mu.Unlock()
	s.persist(snapshot)
	runsFinished.WithLabelValues(string(api.RunCancelled)).Inc()
	s.log.Infof("run cancelled, reason %s", reason)
}

// finish commits a terminal status. A cancellation request that raced the
// commit wins: the run is diverted to the cancellation path and the prepared
// summary is discarded.
func (s *supervisor) finish(status api.RunStatus, reason string, summary *api.ResultSummary, runErrors ...string) bool {
	s.mu.Lock()
	s.run.Errors = append(s.run.Errors, runErrors...)
	if s.cancelRequested {
		cancelReason := s.cancelReason
		s.mu.Unlock()
		s.cancel(cancelReason)
		return true
	}
	s.run.Status = status
	s.run.Reason = reason
	s.run.Summary = summary
	end := s.clock.Now()
	s.run.EndTime = &end
	snapshot := s.run.DeepCopy()
	s.mu.Unlock()

	s.persist(snapshot)
	runsFinished.WithLabelValues(string(status)).Inc()
	s.log.Infof("run finished with status %s", status)
	return true
}

// transition applies a non-terminal status change and persists the run.
func (s *supervisor) transition(tasks []api.WorkerTask, status api.RunStatus, runErrors ...string) {
	s.mu.Lock()
	if tasks != nil {
		s.run.Tasks = tasks
	}
	s.run.Status = status
	s.run.Errors = append(s.run.Errors, runErrors...)
	snapshot := s.run.DeepCopy()
	s.mu.Unlock()
	s.persist(snapshot)
}

// applyStatusesLocked folds freshly observed task statuses into the run
// record and reports whether anything changed. Terminal task states are
// sticky. A successful stop records where the worker left its result
// artifact; failure detail is appended to the run's error list unless the
// caller asked not to, as the cancellation drain does for the failures it
// causes itself.
func (s *supervisor) applyStatusesLocked(statuses []execution.TaskStatus, recordFailures bool) bool {
	changed := false
	for _, status := range statuses {
		for i := range s.run.Tasks {
			task := &s.run.Tasks[i]
			if task.TaskId != status.Handle.TaskId || task.Status.IsTerminal() || task.Status == status.Status {
				continue
			}
			task.Status = status.Status
			changed = true
			if status.Status == api.TaskStoppedSuccess {
				task.ArtifactLocation = repository.ArtifactLocation(s.testId, task.TaskId)
			}
			if status.Status == api.TaskStoppedFailure && status.Message != "" && recordFailures {
				s.run.Errors = append(s.run.Errors, fmt.Sprintf("worker %s failed: %s", task.TaskId, status.Message))
			}
		}
	}
	return changed
}

// Store writes are last-writer-wins by testId and only the owning supervisor
// writes its run, so a failed write is only logged; the next transition
// persists a newer snapshot anyway.
func (s *supervisor) persist(run *api.TestRun) {
	if err := s.runStore.PutRun(run); err != nil {
		logging.WithStacktrace(s.log, err).Error("failed to persist run record")
	}
}

func activeHandles(run *api.TestRun) []execution.TaskHandle {
	handles := []execution.TaskHandle{}
	for _, task := range run.Tasks {
		if !task.Status.IsTerminal() {
			handles = append(handles, execution.TaskHandle{TaskId: task.TaskId, Region: task.Region})
		}
	}
	return handles
}

func countSucceeded(tasks []api.WorkerTask) int {
	count := 0
	for _, task := range tasks {
		if task.Status.Succeeded() {
			count++
		}
	}
	return count
}
