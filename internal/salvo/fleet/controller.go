package fleet

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/internal/common/util"
	"github.com/salvoproject/salvo/internal/execution"
	"github.com/salvoproject/salvo/internal/salvo/configuration"
	"github.com/salvoproject/salvo/pkg/api"
)

// Controller turns a scenario into a worker fleet: it computes how many worker
// tasks are needed, spreads them over the target regions and launches them.
type Controller struct {
	taskClient     execution.TaskClient
	maxWorkerTasks int
	defaultRegions []string
}

func NewController(taskClient execution.TaskClient, config configuration.FleetConfig) *Controller {
	return &Controller{
		taskClient:     taskClient,
		maxWorkerTasks: config.MaxWorkerTasks,
		defaultRegions: config.DefaultRegions,
	}
}

// PlanFleet computes the ordered task specs for a run without launching anything.
//
// The worker count is ceil(targetConcurrency / workerCapacity) unless the scenario
// carries an override. A computed count above the fleet cap is rejected with
// ErrCapacityExceeded; an override above the cap is clamped to it. Workers are
// dealt over the regions round-robin, so region counts differ by at most one and
// the first listed regions receive any remainder. Concurrency is split the same
// way; duration and ramp-up are passed through unchanged.
func (c *Controller) PlanFleet(testId string, scenario *api.Scenario) ([]execution.TaskSpec, error) {
	if scenario.TargetConcurrency <= 0 {
		return nil, errors.WithStack(&salvoerrors.ErrInvalidArgument{
			Name:  "targetConcurrency",
			Value: scenario.TargetConcurrency,
		})
	}
	if scenario.WorkerCapacity <= 0 && scenario.WorkerCountOverride <= 0 {
		return nil, errors.WithStack(&salvoerrors.ErrInvalidArgument{
			Name:    "workerCapacity",
			Value:   scenario.WorkerCapacity,
			Message: "required unless a worker count override is set",
		})
	}

	regions := scenario.Regions
	if len(regions) == 0 {
		regions = c.defaultRegions
	}
	if len(regions) == 0 {
		return nil, errors.WithStack(&salvoerrors.ErrInvalidArgument{
			Name:    "regions",
			Value:   scenario.Regions,
			Message: "scenario names no regions and no defaults are configured",
		})
	}

	workerCount := scenario.WorkerCountOverride
	if workerCount <= 0 {
		workerCount = (scenario.TargetConcurrency + scenario.WorkerCapacity - 1) / scenario.WorkerCapacity
		if c.maxWorkerTasks > 0 && workerCount > c.maxWorkerTasks {
			return nil, errors.WithStack(&salvoerrors.ErrCapacityExceeded{
				Requested: workerCount,
				Limit:     c.maxWorkerTasks,
			})
		}
	} else if c.maxWorkerTasks > 0 && workerCount > c.maxWorkerTasks {
		log.WithField("testId", testId).
			Warnf("Worker count override %d exceeds the fleet limit %d, clamping", workerCount, c.maxWorkerTasks)
		workerCount = c.maxWorkerTasks
	}

	baseConcurrency := scenario.TargetConcurrency / workerCount
	remainder := scenario.TargetConcurrency % workerCount

	specs := make([]execution.TaskSpec, workerCount)
	for i := 0; i < workerCount; i++ {
		concurrency := baseConcurrency
		if i < remainder {
			concurrency++
		}
		specs[i] = execution.TaskSpec{
			TaskId:      util.NewULID(),
			TestId:      testId,
			Region:      regions[i%len(regions)],
			Concurrency: concurrency,
			Payload:     scenario.Payload,
			Duration:    scenario.Duration,
			RampUp:      scenario.RampUp,
		}
	}
	return specs, nil
}

// LaunchFleet plans and launches the fleet for a run in one step.
func (c *Controller) LaunchFleet(ctx context.Context, testId string, scenario *api.Scenario) ([]api.WorkerTask, error) {
	specs, err := c.PlanFleet(testId, scenario)
	if err != nil {
		return nil, err
	}
	return c.Launch(ctx, testId, specs)
}

// Launch starts the pre-planned specs. It always returns the full ordered task
// list: tasks that failed to launch are included, already marked stopped failed,
// so the task count is fixed from here on. When any launch failed the returned
// error is an ErrLaunchFailure carrying how many tasks did start; launched tasks
// are not rolled back.
func (c *Controller) Launch(ctx context.Context, testId string, specs []execution.TaskSpec) ([]api.WorkerTask, error) {
	handles, launchErr := c.taskClient.LaunchTasks(ctx, specs)
	workersLaunched.Add(float64(len(handles)))
	launched := make(map[string]bool, len(handles))
	for _, handle := range handles {
		launched[handle.TaskId] = true
	}

	now := time.Now()
	tasks := make([]api.WorkerTask, len(specs))
	for i, spec := range specs {
		task := api.WorkerTask{
			TaskId:      spec.TaskId,
			Region:      spec.Region,
			Concurrency: spec.Concurrency,
			Status:      api.TaskPending,
		}
		if launched[spec.TaskId] {
			task.Launched = now
		} else {
			task.Status = api.TaskStoppedFailure
		}
		tasks[i] = task
	}

	if launchErr != nil {
		log.WithField("testId", testId).WithError(launchErr).
			Errorf("Launched %d of %d worker tasks", len(handles), len(specs))
		failure := &salvoerrors.ErrLaunchFailure{
			TestId:    testId,
			Requested: len(specs),
			Launched:  len(handles),
		}
		return tasks, errors.WithMessage(failure, launchErr.Error())
	}

	log.WithField("testId", testId).Infof("Launched %d worker tasks across %d regions", len(tasks), regionCount(tasks))
	return tasks, nil
}

func regionCount(tasks []api.WorkerTask) int {
	regions := map[string]bool{}
	for _, task := range tasks {
		regions[task.Region] = true
	}
	return len(regions)
}
