package repository

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/pkg/api"
)

const (
	runObjectPrefix = "TestRun:"
	runStartedIndex = "TestRun:ByStart"
)

type RunRepository interface {
	PutRun(run *api.TestRun) error
	GetRun(testId string) (*api.TestRun, error)
	GetRecentRuns(limit int64) ([]*api.TestRun, error)
}

// RedisRunRepository persists run records keyed by test id, with a sorted set
// over start times for history listing. Writes are last-writer-wins per test id,
// which is safe because only the owning run's state machine writes its record.
type RedisRunRepository struct {
	db redis.UniversalClient
}

func NewRedisRunRepository(db redis.UniversalClient) *RedisRunRepository {
	return &RedisRunRepository{db: db}
}

func (r *RedisRunRepository) PutRun(run *api.TestRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return errors.WithStack(err)
	}

	pipe := r.db.TxPipeline()
	pipe.Set(runObjectPrefix+run.TestId, data, 0)
	pipe.ZAdd(runStartedIndex, redis.Z{
		Member: run.TestId,
		Score:  float64(run.StartTime.UnixNano()),
	})
	_, err = pipe.Exec()
	return errors.Wrapf(err, "error saving run %s", run.TestId)
}

func (r *RedisRunRepository) GetRun(testId string) (*api.TestRun, error) {
	data, err := r.db.Get(runObjectPrefix + testId).Result()
	if err == redis.Nil {
		return nil, errors.WithStack(&salvoerrors.ErrNotFound{Type: "run", Value: testId})
	} else if err != nil {
		return nil, errors.Wrapf(err, "error reading run %s", testId)
	}

	run := &api.TestRun{}
	if err := json.Unmarshal([]byte(data), run); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling run %s", testId)
	}
	return run, nil
}

// GetRecentRuns returns up to limit runs, most recently started first.
func (r *RedisRunRepository) GetRecentRuns(limit int64) ([]*api.TestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := r.db.ZRevRange(runStartedIndex, 0, limit-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error reading run index")
	}
	if len(ids) == 0 {
		return []*api.TestRun{}, nil
	}

	pipe := r.db.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Get(runObjectPrefix+id))
	}
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "error reading runs")
	}

	runs := make([]*api.TestRun, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err == redis.Nil {
			// Index entry without a record, e.g. expired. Skip it.
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "error reading run %s", ids[i])
		}
		run := &api.TestRun{}
		if err := json.Unmarshal([]byte(data), run); err != nil {
			return nil, errors.Wrapf(err, "error unmarshalling run %s", ids[i])
		}
		runs = append(runs, run)
	}
	return runs, nil
}
