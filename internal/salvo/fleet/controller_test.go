package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/internal/execution/fake"
	"github.com/salvoproject/salvo/internal/salvo/configuration"
	"github.com/salvoproject/salvo/pkg/api"
)

func setupController(maxWorkerTasks int) (*Controller, *fake.TaskClient) {
	taskClient := fake.NewTaskClient()
	controller := NewController(taskClient, configuration.FleetConfig{
		MaxWorkerTasks: maxWorkerTasks,
		DefaultRegions: []string{"eu-west-1"},
	})
	return controller, taskClient
}

func testScenario() *api.Scenario {
	return &api.Scenario{
		Id:                "checkout-flow",
		Name:              "checkout flow",
		Payload:           `{"url":"http://example.com"}`,
		TargetConcurrency: 100,
		WorkerCapacity:    30,
		Duration:          time.Minute,
		RampUp:            10 * time.Second,
		Regions:           []string{"eu-west-1", "us-east-1"},
	}
}

func TestPlanFleet_WorkerCountIsCeilOfConcurrencyOverCapacity(t *testing.T) {
	controller, _ := setupController(100)

	scenario := testScenario()
	specs, err := controller.PlanFleet("01test", scenario)
	require.NoError(t, err)
	assert.Equal(t, 4, len(specs)) // ceil(100 / 30)

	scenario.WorkerCapacity = 50
	specs, err = controller.PlanFleet("01test", scenario)
	require.NoError(t, err)
	assert.Equal(t, 2, len(specs))

	scenario.WorkerCapacity = 100
	specs, err = controller.PlanFleet("01test", scenario)
	require.NoError(t, err)
	assert.Equal(t, 1, len(specs))
}

func TestPlanFleet_SplitsConcurrencyNotDuration(t *testing.T) {
	controller, _ := setupController(100)
	scenario := testScenario()
	scenario.TargetConcurrency = 10
	scenario.WorkerCapacity = 3

	specs, err := controller.PlanFleet("01test", scenario)
	require.NoError(t, err)
	require.Equal(t, 4, len(specs))

	total := 0
	for _, spec := range specs {
		total += spec.Concurrency
		assert.Equal(t, time.Minute, spec.Duration)
		assert.Equal(t, 10*time.Second, spec.RampUp)
	}
	assert.Equal(t, 10, total)
	assert.Equal(t, 3, specs[0].Concurrency)
	assert.Equal(t, 3, specs[1].Concurrency)
	assert.Equal(t, 2, specs[2].Concurrency)
	assert.Equal(t, 2, specs[3].Concurrency)
}

func TestPlanFleet_SpreadsWorkersEvenlyAcrossRegions(t *testing.T) {
	controller, _ := setupController(100)
	scenario := testScenario()
	scenario.Regions = []string{"eu-west-1", "us-east-1", "ap-south-1"}
	scenario.TargetConcurrency = 80
	scenario.WorkerCapacity = 10 // 8 workers over 3 regions

	specs, err := controller.PlanFleet("01test", scenario)
	require.NoError(t, err)
	require.Equal(t, 8, len(specs))

	counts := map[string]int{}
	for _, spec := range specs {
		counts[spec.Region]++
	}
	assert.Equal(t, 3, counts["eu-west-1"])
	assert.Equal(t, 3, counts["us-east-1"])
	assert.Equal(t, 2, counts["ap-south-1"])

	min, max := len(specs), 0
	for _, count := range counts {
		if count < min {
			min = count
		}
		if count > max {
			max = count
		}
	}
	assert.True(t, max-min <= 1)
}

func TestPlanFleet_UsesDefaultRegionsWhenScenarioHasNone(t *testing.T) {
	controller, _ := setupController(100)
	scenario := testScenario()
	scenario.Regions = nil

	specs, err := controller.PlanFleet("01test", scenario)
	require.NoError(t, err)
	for _, spec := range specs {
		assert.Equal(t, "eu-west-1", spec.Region)
	}
}

func TestPlanFleet_OverrideBypassesCapacityComputation(t *testing.T) {
	controller, _ := setupController(100)
	scenario := testScenario()
	scenario.WorkerCountOverride = 7

	specs, err := controller.PlanFleet("01test", scenario)
	require.NoError(t, err)
	assert.Equal(t, 7, len(specs))
}

func TestPlanFleet_ComputedCountAboveCapIsRejected(t *testing.T) {
	controller, _ := setupController(3)
	scenario := testScenario() // needs 4 workers

	_, err := controller.PlanFleet("01test", scenario)
	require.Error(t, err)

	var capacityErr *salvoerrors.ErrCapacityExceeded
	require.ErrorAs(t, err, &capacityErr)
	assert.Equal(t, 4, capacityErr.Requested)
	assert.Equal(t, 3, capacityErr.Limit)
}

func TestPlanFleet_OverrideAboveCapIsClamped(t *testing.T) {
	controller, _ := setupController(3)
	scenario := testScenario()
	scenario.WorkerCountOverride = 10

	specs, err := controller.PlanFleet("01test", scenario)
	require.NoError(t, err)
	assert.Equal(t, 3, len(specs))
}

func TestPlanFleet_RejectsInvalidScenario(t *testing.T) {
	controller, _ := setupController(100)

	scenario := testScenario()
	scenario.TargetConcurrency = 0
	_, err := controller.PlanFleet("01test", scenario)
	var invalid *salvoerrors.ErrInvalidArgument
	assert.ErrorAs(t, err, &invalid)

	scenario = testScenario()
	scenario.WorkerCapacity = 0
	_, err = controller.PlanFleet("01test", scenario)
	assert.ErrorAs(t, err, &invalid)
}

func TestLaunchFleet_LaunchesAllTasks(t *testing.T) {
	controller, taskClient := setupController(100)

	tasks, err := controller.LaunchFleet(context.Background(), "01test", testScenario())

	require.NoError(t, err)
	require.Equal(t, 4, len(tasks))
	for _, task := range tasks {
		assert.Equal(t, api.TaskPending, task.Status)
		assert.False(t, task.Launched.IsZero())
	}
	assert.Equal(t, 4, len(taskClient.Launched()))
	for _, spec := range taskClient.Launched() {
		assert.Equal(t, "01test", spec.TestId)
		assert.Equal(t, `{"url":"http://example.com"}`, spec.Payload)
	}
}

func TestLaunchFleet_PartialFailureKeepsTaskCountFixed(t *testing.T) {
	controller, taskClient := setupController(100)
	taskClient.MaxLaunched = 2

	tasks, err := controller.LaunchFleet(context.Background(), "01test", testScenario())

	require.Error(t, err)
	var launchErr *salvoerrors.ErrLaunchFailure
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, 4, launchErr.Requested)
	assert.Equal(t, 2, launchErr.Launched)

	require.Equal(t, 4, len(tasks))
	launched, failed := 0, 0
	for _, task := range tasks {
		switch task.Status {
		case api.TaskPending:
			launched++
		case api.TaskStoppedFailure:
			failed++
		}
	}
	assert.Equal(t, 2, launched)
	assert.Equal(t, 2, failed)
}

func TestLaunchFleet_TotalFailure(t *testing.T) {
	controller, taskClient := setupController(100)
	taskClient.LaunchErr = errors.New("quota exhausted")

	tasks, err := controller.LaunchFleet(context.Background(), "01test", testScenario())

	require.Error(t, err)
	var launchErr *salvoerrors.ErrLaunchFailure
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, 0, launchErr.Launched)
	assert.Contains(t, err.Error(), "quota exhausted")

	require.Equal(t, 4, len(tasks))
	for _, task := range tasks {
		assert.Equal(t, api.TaskStoppedFailure, task.Status)
	}
}
