package run

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/salvoproject/salvo/internal/common/logging"
	"github.com/salvoproject/salvo/internal/execution"
)

// canceller winds a worker fleet down on behalf of a cancelling run. It only
// talks to the execution service; the owning supervisor folds the observed
// statuses back into its run record.
type canceller struct {
	taskClient   execution.TaskClient
	clock        clock.Clock
	pollInterval time.Duration
	gracePeriod  time.Duration
	log          *logrus.Entry
}

// stopTasks issues a stop request to each handle. Stops are idempotent on the
// execution service side, so failures are logged rather than retried; the
// grace period drain and the force-mark that follows it converge on the same
// outcome either way.
func (c *canceller) stopTasks(ctx context.Context, handles []execution.TaskHandle) {
	for _, handle := range handles {
		if err := c.taskClient.StopTask(ctx, handle); err != nil {
			logging.WithStacktrace(c.log, err).Warnf("failed to stop worker task %s", handle.TaskId)
		}
	}
}

// awaitTermination polls the given tasks at the regular cadence until they
// all reach a terminal state, the grace period expires or ctx is cancelled,
// whichever comes first. It returns the terminal statuses observed.
func (c *canceller) awaitTermination(ctx context.Context, handles []execution.TaskHandle) []execution.TaskStatus {
	deadline := c.clock.Now().Add(c.gracePeriod)
	observed := []execution.TaskStatus{}
	pending := handles
	for len(pending) > 0 {
		statuses, err := c.taskClient.DescribeTasks(ctx, pending)
		if err != nil {
			if ctx.Err() != nil {
				return observed
			}
			logging.WithStacktrace(c.log, err).Warn("failed to poll stopping worker tasks")
		} else {
			remaining := []execution.TaskHandle{}
			for _, status := range statuses {
				if status.Status.IsTerminal() {
					observed = append(observed, status)
				} else {
					remaining = append(remaining, status.Handle)
				}
			}
			pending = remaining
		}
		if len(pending) == 0 || !c.clock.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return observed
		case <-c.clock.After(c.pollInterval):
		}
	}
	return observed
}
