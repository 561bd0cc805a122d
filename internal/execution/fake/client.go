package fake

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/salvoproject/salvo/internal/execution"
	"github.com/salvoproject/salvo/pkg/api"
)

type workerTask struct {
	spec    execution.TaskSpec
	status  api.TaskStatus
	message string
}

// TaskClient is an in-memory execution.TaskClient for tests. Launched tasks
// start out pending and are moved through their lifecycle by the test driving
// the Mark methods. Stopped tasks disappear, as deleted pods do.
type TaskClient struct {
	mu    sync.Mutex
	tasks map[string]*workerTask

	// MaxLaunched caps the number of tasks that launch successfully, launches
	// beyond the cap fail. Zero means no cap.
	MaxLaunched int
	// LaunchErr, when set, makes every launch fail with it.
	LaunchErr error
	// DescribeErr, when set, is returned by every DescribeTasks call.
	DescribeErr error
	// StopErr, when set, is returned by every StopTask call.
	StopErr error
	// IgnoreStops, when set, records stop requests without stopping the task.
	IgnoreStops bool

	launched []execution.TaskSpec
	stopped  []string
}

func NewTaskClient() *TaskClient {
	return &TaskClient{tasks: map[string]*workerTask{}}
}

func (c *TaskClient) LaunchTasks(ctx context.Context, specs []execution.TaskSpec) ([]execution.TaskHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles := make([]execution.TaskHandle, 0, len(specs))
	var result *multierror.Error
	for _, spec := range specs {
		if c.LaunchErr != nil {
			result = multierror.Append(result, errors.Wrapf(c.LaunchErr, "failed to launch worker task %s", spec.TaskId))
			continue
		}
		if c.MaxLaunched > 0 && len(c.launched) >= c.MaxLaunched {
			result = multierror.Append(result, errors.Errorf("failed to launch worker task %s", spec.TaskId))
			continue
		}
		c.tasks[spec.TaskId] = &workerTask{spec: spec, status: api.TaskPending}
		c.launched = append(c.launched, spec)
		handles = append(handles, execution.TaskHandle{TaskId: spec.TaskId, Region: spec.Region})
	}
	return handles, result.ErrorOrNil()
}

func (c *TaskClient) DescribeTasks(ctx context.Context, handles []execution.TaskHandle) ([]execution.TaskStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.DescribeErr != nil {
		return nil, c.DescribeErr
	}

	statuses := make([]execution.TaskStatus, 0, len(handles))
	for _, handle := range handles {
		task, ok := c.tasks[handle.TaskId]
		if !ok {
			statuses = append(statuses, execution.TaskStatus{
				Handle:  handle,
				Status:  api.TaskStoppedFailure,
				Message: "worker pod no longer exists",
			})
			continue
		}
		statuses = append(statuses, execution.TaskStatus{Handle: handle, Status: task.status, Message: task.message})
	}
	return statuses, nil
}

func (c *TaskClient) StopTask(ctx context.Context, handle execution.TaskHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.StopErr != nil {
		return c.StopErr
	}
	c.stopped = append(c.stopped, handle.TaskId)
	if !c.IgnoreStops {
		delete(c.tasks, handle.TaskId)
	}
	return nil
}

func (c *TaskClient) MarkRunning(taskId string) {
	c.setStatus(taskId, api.TaskRunning, "")
}

func (c *TaskClient) MarkSucceeded(taskId string) {
	c.setStatus(taskId, api.TaskStoppedSuccess, "")
}

func (c *TaskClient) MarkFailed(taskId string, message string) {
	c.setStatus(taskId, api.TaskStoppedFailure, message)
}

func (c *TaskClient) MarkAllSucceeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, task := range c.tasks {
		task.status = api.TaskStoppedSuccess
	}
}

func (c *TaskClient) MarkAllRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, task := range c.tasks {
		task.status = api.TaskRunning
	}
}

// Launched returns the specs of all successfully launched tasks, in launch order.
func (c *TaskClient) Launched() []execution.TaskSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]execution.TaskSpec{}, c.launched...)
}

// Stopped returns the task ids passed to StopTask, in call order.
func (c *TaskClient) Stopped() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.stopped...)
}

func (c *TaskClient) setStatus(taskId string, status api.TaskStatus, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if task, ok := c.tasks[taskId]; ok {
		task.status = status
		task.message = message
	}
}
