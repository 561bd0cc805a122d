package aggregation

import (
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/internal/salvo/repository"
	"github.com/salvoproject/salvo/pkg/api"
)

// Aggregator merges per-worker result artifacts into a single run summary.
type Aggregator struct {
	artifacts     repository.ArtifactRepository
	fetchAttempts uint
	fetchDelay    time.Duration
}

func NewAggregator(artifacts repository.ArtifactRepository) *Aggregator {
	return &Aggregator{
		artifacts:     artifacts,
		fetchAttempts: 4,
		fetchDelay:    250 * time.Millisecond,
	}
}

// Aggregate builds the result summary for a finished run from the artifacts of
// its succeeded tasks. Counts and throughput sum across workers; latency
// percentiles are recomputed from the merged histograms, never averaged.
//
// An artifact that cannot be fetched is counted as lost: the task no longer
// contributes and a note is returned for the run's error list. Fetches are
// retried while the failure looks transient (missing record, network or redis
// hiccups) and give up immediately otherwise. If no artifact can be fetched at
// all, or no task succeeded in the first place, Aggregate returns
// ErrNoArtifacts.
func (a *Aggregator) Aggregate(run *api.TestRun) (*api.ResultSummary, []string, error) {
	succeeded := make([]api.WorkerTask, 0, len(run.Tasks))
	for _, task := range run.Tasks {
		if task.Status == api.TaskStoppedSuccess {
			succeeded = append(succeeded, task)
		}
	}
	if len(succeeded) == 0 {
		return nil, nil, errors.WithStack(&salvoerrors.ErrNoArtifacts{TestId: run.TestId})
	}

	notes := []string{}
	results := make([]*api.WorkerResult, 0, len(succeeded))
	for _, task := range succeeded {
		location := task.ArtifactLocation
		if location == "" {
			location = repository.ArtifactLocation(run.TestId, task.TaskId)
		}
		result, err := a.fetchArtifact(location)
		if err != nil {
			log.WithField("testId", run.TestId).WithError(err).
				Warnf("Result artifact of task %s is lost, excluding it from aggregation", task.TaskId)
			notes = append(notes, fmt.Sprintf("result artifact of task %s is lost: %v", task.TaskId, errors.Cause(err)))
			continue
		}
		results = append(results, result)
	}
	if len(results) == 0 {
		return nil, notes, errors.WithStack(&salvoerrors.ErrNoArtifacts{TestId: run.TestId})
	}

	summary := mergeResults(run, results)
	return summary, notes, nil
}

func (a *Aggregator) fetchArtifact(location string) (*api.WorkerResult, error) {
	var result *api.WorkerResult
	err := retry.Do(
		func() error {
			fetched, err := a.artifacts.GetArtifact(location)
			if err != nil {
				return err
			}
			result = fetched
			return nil
		},
		retry.Attempts(a.fetchAttempts),
		retry.Delay(a.fetchDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Workers write their artifact just before exiting, so a missing
			// record may simply not be visible yet.
			var notFound *salvoerrors.ErrNotFound
			if errors.As(err, &notFound) {
				return true
			}
			return salvoerrors.IsNetworkError(err) || salvoerrors.IsRetryableRedisError(err)
		}),
	)
	return result, err
}

func mergeResults(run *api.TestRun, results []*api.WorkerResult) *api.ResultSummary {
	summary := &api.ResultSummary{
		Regions:          map[string]api.RegionSummary{},
		WorkersSucceeded: len(results),
		WorkersFailed:    len(run.Tasks) - len(results),
	}

	merged := api.NewLatencyHistogram(nil)
	for _, result := range results {
		summary.TotalRequests += result.TotalRequests
		summary.ErrorCount += result.FailedRequests
		// Disjoint virtual-user pools, so throughput sums across workers.
		summary.RequestsPerSecond += result.RequestsPerSecond
		merged = merged.Merge(result.Latency)

		region := summary.Regions[result.Region]
		region.Workers++
		region.TotalRequests += result.TotalRequests
		region.ErrorCount += result.FailedRequests
		summary.Regions[result.Region] = region
	}

	summary.LatencyP50Ms = merged.Quantile(0.5)
	summary.LatencyP90Ms = merged.Quantile(0.9)
	summary.LatencyP99Ms = merged.Quantile(0.99)
	return summary
}
