package run

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/salvoproject/salvo/internal/common/util"
	"github.com/salvoproject/salvo/internal/execution"
	"github.com/salvoproject/salvo/internal/execution/fake"
	"github.com/salvoproject/salvo/pkg/api"
)

func TestCancellerAwaitTermination_ObservesLateStops(t *testing.T) {
	taskClient, handles := launchedFleet(t, 2)
	taskClient.MarkAllRunning()
	c := newTestCanceller(taskClient, 5*time.Second)

	go func() {
		time.Sleep(10 * time.Millisecond)
		taskClient.MarkSucceeded(handles[0].TaskId)
		taskClient.MarkFailed(handles[1].TaskId, "terminated")
	}()

	observed := c.awaitTermination(context.Background(), handles)

	require.Len(t, observed, 2)
	byTask := map[string]execution.TaskStatus{}
	for _, status := range observed {
		byTask[status.Handle.TaskId] = status
	}
	assert.Equal(t, api.TaskStoppedSuccess, byTask[handles[0].TaskId].Status)
	assert.Equal(t, api.TaskStoppedFailure, byTask[handles[1].TaskId].Status)
}

func TestCancellerAwaitTermination_GivesUpAfterGracePeriod(t *testing.T) {
	taskClient, handles := launchedFleet(t, 2)
	taskClient.MarkAllRunning()
	c := newTestCanceller(taskClient, 20*time.Millisecond)

	observed := c.awaitTermination(context.Background(), handles)

	assert.Empty(t, observed)
}

func TestCancellerAwaitTermination_StopsWhenContextCancelled(t *testing.T) {
	taskClient, handles := launchedFleet(t, 2)
	taskClient.MarkAllRunning()
	c := newTestCanceller(taskClient, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	observed := c.awaitTermination(ctx, handles)

	assert.Empty(t, observed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCancellerStopTasks_ToleratesStopErrors(t *testing.T) {
	taskClient, handles := launchedFleet(t, 2)
	taskClient.StopErr = errors.New("api throttled")
	c := newTestCanceller(taskClient, time.Second)

	c.stopTasks(context.Background(), handles)

	assert.Empty(t, taskClient.Stopped())
}

func newTestCanceller(taskClient *fake.TaskClient, gracePeriod time.Duration) *canceller {
	return &canceller{
		taskClient:   taskClient,
		clock:        clock.RealClock{},
		pollInterval: time.Millisecond,
		gracePeriod:  gracePeriod,
		log:          logrus.WithField("testId", "drain-test"),
	}
}

func launchedFleet(t *testing.T, count int) (*fake.TaskClient, []execution.TaskHandle) {
	taskClient := fake.NewTaskClient()
	specs := make([]execution.TaskSpec, 0, count)
	for i := 0; i < count; i++ {
		specs = append(specs, execution.TaskSpec{TaskId: util.NewULID(), Region: "eu-west-1", Concurrency: 10})
	}
	handles, err := taskClient.LaunchTasks(context.Background(), specs)
	require.NoError(t, err)
	return taskClient, handles
}
