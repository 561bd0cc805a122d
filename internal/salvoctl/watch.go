package salvoctl

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/salvoproject/salvo/pkg/api"
)

// Watch polls the test run and prints a line whenever the observed state
// changes, until the run reaches a terminal status.
func (a *App) Watch(testId string, pollInterval time.Duration) error {
	fmt.Fprintf(a.Out, "Watching test run %s\n", testId)

	lastLine := ""
	finalState, err := a.apiClient().WatchRun(context.Background(), testId, pollInterval, func(run *api.TestRun) bool {
		line := watchLine(run)
		if line != lastLine {
			fmt.Fprintf(a.Out, "%s | %s\n", time.Now().Format("15:04:05"), line)
			lastLine = line
		}
		return false
	})
	if err != nil {
		return errors.WithMessagef(err, "error watching test run %s", testId)
	}

	if finalState != nil && finalState.Summary != nil {
		fmt.Fprintln(a.Out)
		a.printRun(finalState)
	}
	return nil
}

func watchLine(run *api.TestRun) string {
	return fmt.Sprintf("status: %s, workers: %s", run.Status, taskCountsLine(run))
}
