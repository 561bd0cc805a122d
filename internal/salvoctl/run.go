package salvoctl

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/salvoproject/salvo/internal/common"
	"github.com/salvoproject/salvo/pkg/api"
)

// StartRun launches a new test run of the given scenario.
func (a *App) StartRun(scenarioId string) error {
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	testId, err := a.apiClient().StartRun(ctx, scenarioId)
	if err != nil {
		return errors.WithMessagef(err, "error starting run of scenario %s", scenarioId)
	}
	fmt.Fprintf(a.Out, "Started test run %s\n", testId)
	return nil
}

// CancelRun requests cancellation of a live test run.
func (a *App) CancelRun(testId string) error {
	fmt.Fprintf(a.Out, "Requesting cancellation of test run %s\n", testId)
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	if err := a.apiClient().CancelRun(ctx, testId); err != nil {
		return errors.WithMessagef(err, "error cancelling test run %s", testId)
	}
	fmt.Fprintf(a.Out, "Cancellation accepted for test run %s\n", testId)
	return nil
}

// Status prints the current state of a test run.
func (a *App) Status(testId string) error {
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	run, err := a.apiClient().GetRun(ctx, testId)
	if err != nil {
		return errors.WithMessagef(err, "error fetching test run %s", testId)
	}
	a.printRun(run)
	return nil
}

// ListRuns prints the most recent test runs, newest first.
func (a *App) ListRuns(limit int) error {
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	runs, err := a.apiClient().ListRuns(ctx, limit)
	if err != nil {
		return errors.WithMessage(err, "error listing test runs")
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintln(w, "TEST\tSCENARIO\tSTATUS\tSTARTED\tWORKERS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			run.TestId,
			run.ScenarioId,
			run.Status,
			run.StartTime.Format(time.RFC3339),
			len(run.Tasks),
		)
	}
	return w.Flush()
}

func (a *App) printRun(run *api.TestRun) {
	fmt.Fprintf(a.Out, "Test: %s\n", run.TestId)
	fmt.Fprintf(a.Out, "Scenario: %s\n", run.ScenarioId)
	fmt.Fprintf(a.Out, "Status: %s\n", run.Status)
	if run.Reason != "" {
		fmt.Fprintf(a.Out, "Reason: %s\n", run.Reason)
	}
	fmt.Fprintf(a.Out, "Started: %s\n", run.StartTime.Format(time.RFC3339))
	if run.EndTime != nil {
		fmt.Fprintf(a.Out, "Ended: %s\n", run.EndTime.Format(time.RFC3339))
	}
	fmt.Fprintf(a.Out, "Workers: %s\n", taskCountsLine(run))

	if run.Summary != nil {
		summary := run.Summary
		fmt.Fprintln(a.Out)
		fmt.Fprintf(a.Out, "Total requests: %d\n", summary.TotalRequests)
		fmt.Fprintf(a.Out, "Errors: %d\n", summary.ErrorCount)
		fmt.Fprintf(a.Out, "Requests/s: %.1f\n", summary.RequestsPerSecond)
		fmt.Fprintf(a.Out, "Latency p50/p90/p99: %.1fms / %.1fms / %.1fms\n", summary.LatencyP50Ms, summary.LatencyP90Ms, summary.LatencyP99Ms)
		regions := maps.Keys(summary.Regions)
		slices.Sort(regions)
		for _, region := range regions {
			regionSummary := summary.Regions[region]
			fmt.Fprintf(a.Out, "Region %s: %d workers, %d requests, %d errors\n",
				region, regionSummary.Workers, regionSummary.TotalRequests, regionSummary.ErrorCount)
		}
	}

	for _, message := range run.Errors {
		fmt.Fprintf(a.Out, "Error: %s\n", message)
	}
}

func taskCountsLine(run *api.TestRun) string {
	counts := map[api.TaskStatus]int{}
	for _, task := range run.Tasks {
		counts[task.Status]++
	}
	return fmt.Sprintf("%d pending, %d running, %d succeeded, %d failed",
		counts[api.TaskPending],
		counts[api.TaskRunning],
		counts[api.TaskStoppedSuccess],
		counts[api.TaskStoppedFailure],
	)
}
