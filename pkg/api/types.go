package api

import (
	"time"
)

// RunStatus is the lifecycle state of a TestRun.
//
// Transitions are PENDING -> RUNNING -> {COMPLETING -> COMPLETE | PARTIAL} or
// CANCELLING -> CANCELLED or FAILED. Once a terminal status is reached no
// further transition occurs.
type RunStatus string

const (
	RunPending    RunStatus = "PENDING"
	RunRunning    RunStatus = "RUNNING"
	RunCompleting RunStatus = "COMPLETING"
	RunCancelling RunStatus = "CANCELLING"
	RunComplete   RunStatus = "COMPLETE"
	RunPartial    RunStatus = "PARTIAL"
	RunCancelled  RunStatus = "CANCELLED"
	RunFailed     RunStatus = "FAILED"
)

// IsTerminal reports whether no further status transition is possible.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunComplete, RunPartial, RunCancelled, RunFailed:
		return true
	}
	return false
}

// TaskStatus is the last observed state of a single worker task as reported
// by the container execution service.
type TaskStatus string

const (
	TaskPending        TaskStatus = "PENDING"
	TaskRunning        TaskStatus = "RUNNING"
	TaskStoppedSuccess TaskStatus = "STOPPED_SUCCESS"
	TaskStoppedFailure TaskStatus = "STOPPED_FAILURE"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStoppedSuccess || s == TaskStoppedFailure
}

func (s TaskStatus) Succeeded() bool {
	return s == TaskStoppedSuccess
}

// Reasons recorded on a TestRun when it terminates through a failure or
// cancellation path. Returned verbatim by the status API.
const (
	ReasonLaunchFailure     = "LaunchFailure"
	ReasonStatusUnavailable = "StatusUnavailable"
	ReasonTimeout           = "Timeout"
	ReasonUserRequested     = "UserRequested"
	ReasonNoArtifacts       = "NoArtifacts"
	ReasonWorkersFailed     = "WorkersFailed"
)

// Scenario is an immutable, reusable load test definition. Scenarios are
// created through the user-facing API and are read-only to the orchestrator.
type Scenario struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	// Payload is the raw test-tool configuration handed to workers untouched.
	Payload string `json:"payload"`
	// TargetConcurrency is the total number of virtual users across the fleet.
	TargetConcurrency int `json:"targetConcurrency"`
	// WorkerCapacity is the maximum number of virtual users a single worker
	// can sustain; it drives the worker count computation.
	WorkerCapacity int           `json:"workerCapacity"`
	Duration       time.Duration `json:"duration"`
	RampUp         time.Duration `json:"rampUp"`
	Regions        []string      `json:"regions"`
	// WorkerCountOverride forces the fleet size when > 0, bypassing the
	// capacity computation and the fleet size cap.
	WorkerCountOverride int       `json:"workerCountOverride,omitempty"`
	Created             time.Time `json:"created"`
}

func (s *Scenario) DeepCopy() *Scenario {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Regions = append([]string{}, s.Regions...)
	return &clone
}

// WorkerTask is one launched load-generation process. Tasks are created by
// the fleet controller and their status is advanced only by the owning run's
// polling loop.
type WorkerTask struct {
	// TaskId is the handle assigned by the container execution service.
	TaskId      string     `json:"taskId"`
	Region      string     `json:"region"`
	Concurrency int        `json:"concurrency"`
	Status      TaskStatus `json:"status"`
	// ArtifactLocation is set once the task stopped successfully and points
	// at the per-worker result artifact.
	ArtifactLocation string    `json:"artifactLocation,omitempty"`
	Launched         time.Time `json:"launched"`
}

// TestRun is one execution of a Scenario. The run state machine owns the
// record while the run is live; once terminal it becomes an immutable
// history entry.
type TestRun struct {
	TestId     string    `json:"testId"`
	ScenarioId string    `json:"scenarioId"`
	Status     RunStatus `json:"status"`
	// Reason names the failure or cancellation cause for terminal runs that
	// did not complete naturally, e.g. "Timeout" or "UserRequested".
	Reason    string         `json:"reason,omitempty"`
	StartTime time.Time      `json:"startTime"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
	Tasks     []WorkerTask   `json:"tasks"`
	Summary   *ResultSummary `json:"summary,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// Terminal reports whether the run reached its final status.
func (r *TestRun) Terminal() bool {
	return r.Status.IsTerminal()
}

// ActiveTasks returns the tasks not yet in a terminal state.
func (r *TestRun) ActiveTasks() []WorkerTask {
	active := []WorkerTask{}
	for _, t := range r.Tasks {
		if !t.Status.IsTerminal() {
			active = append(active, t)
		}
	}
	return active
}

// DeepCopy returns a copy sharing no mutable state with the receiver.
func (r *TestRun) DeepCopy() *TestRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Tasks = append([]WorkerTask{}, r.Tasks...)
	c.Errors = append([]string{}, r.Errors...)
	if r.EndTime != nil {
		end := *r.EndTime
		c.EndTime = &end
	}
	if r.Summary != nil {
		c.Summary = r.Summary.DeepCopy()
	}
	return &c
}

// WorkerResult is the per-worker result artifact written by a worker on
// successful completion and read back by the aggregator.
type WorkerResult struct {
	TestId            string           `json:"testId"`
	TaskId            string           `json:"taskId"`
	Region            string           `json:"region"`
	TotalRequests     uint64           `json:"totalRequests"`
	FailedRequests    uint64           `json:"failedRequests"`
	RequestsPerSecond float64          `json:"requestsPerSecond"`
	Latency           LatencyHistogram `json:"latency"`
	Started           time.Time        `json:"started"`
	Finished          time.Time        `json:"finished"`
}

// RegionSummary is the per-region slice of an aggregated result.
type RegionSummary struct {
	Workers       int    `json:"workers"`
	TotalRequests uint64 `json:"totalRequests"`
	ErrorCount    uint64 `json:"errorCount"`
}

// ResultSummary is the merged, run-level result derived from per-worker
// artifacts. It exists if and only if the run reached COMPLETE or PARTIAL.
type ResultSummary struct {
	TotalRequests     uint64  `json:"totalRequests"`
	ErrorCount        uint64  `json:"errorCount"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	// Latency percentiles are recomputed from the merged histogram rather
	// than averaged across workers.
	LatencyP50Ms     float64                  `json:"latencyP50Ms"`
	LatencyP90Ms     float64                  `json:"latencyP90Ms"`
	LatencyP99Ms     float64                  `json:"latencyP99Ms"`
	Regions          map[string]RegionSummary `json:"regions"`
	WorkersSucceeded int                      `json:"workersSucceeded"`
	WorkersFailed    int                      `json:"workersFailed"`
}

func (s *ResultSummary) DeepCopy() *ResultSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.Regions = make(map[string]RegionSummary, len(s.Regions))
	for region, summary := range s.Regions {
		c.Regions[region] = summary
	}
	return &c
}
