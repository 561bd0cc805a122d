package execution

import (
	"context"
	"time"

	"github.com/salvoproject/salvo/pkg/api"
)

// TaskSpec describes a single worker task to be launched as part of a run.
// Task ids are assigned by the caller before launch so that the run record
// can reference tasks that subsequently fail to start.
type TaskSpec struct {
	TaskId      string
	TestId      string
	Region      string
	Concurrency int
	Payload     string
	Duration    time.Duration
	RampUp      time.Duration
}

// TaskHandle identifies a launched worker task.
type TaskHandle struct {
	TaskId string
	Region string
}

// TaskStatus is the observed state of a worker task.
type TaskStatus struct {
	Handle  TaskHandle
	Status  api.TaskStatus
	Message string // failure detail, populated when the task stopped unsuccessfully
}

// TaskClient launches and tracks worker tasks on some execution substrate.
//
// LaunchTasks attempts to launch all given specs and returns handles for those
// that started. If some launches fail, the returned error is a multierror
// describing the failures and the returned handles cover the successful subset.
//
// DescribeTasks returns the current status of each handle, in the same order.
// A task the substrate no longer knows about is reported as stopped failed.
//
// StopTask stops a single task. Stopping a task that already finished or that
// the substrate no longer knows about is not an error.
type TaskClient interface {
	LaunchTasks(ctx context.Context, specs []TaskSpec) ([]TaskHandle, error)
	DescribeTasks(ctx context.Context, handles []TaskHandle) ([]TaskStatus, error)
	StopTask(ctx context.Context, handle TaskHandle) error
}
