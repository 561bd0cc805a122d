package repository

import (
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/pkg/api"
)

const artifactKeyPrefix = "artifact:"

// ArtifactLocation is the key a worker writes its result to, and the value
// recorded on the WorkerTask once the worker stops successfully.
func ArtifactLocation(testId string, taskId string) string {
	return fmt.Sprintf("%s%s:%s", artifactKeyPrefix, testId, taskId)
}

type ArtifactRepository interface {
	StoreArtifact(result *api.WorkerResult) (location string, err error)
	GetArtifact(location string) (*api.WorkerResult, error)
}

// RedisArtifactRepository reads per-worker result artifacts. Workers write
// their summary under artifact:<testId>:<taskId> when they finish; the
// aggregator reads them back by the location recorded on the task.
type RedisArtifactRepository struct {
	db redis.UniversalClient
}

func NewRedisArtifactRepository(db redis.UniversalClient) *RedisArtifactRepository {
	return &RedisArtifactRepository{db: db}
}

func (r *RedisArtifactRepository) StoreArtifact(result *api.WorkerResult) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", errors.WithStack(err)
	}
	location := ArtifactLocation(result.TestId, result.TaskId)
	if err := r.db.Set(location, data, 0).Err(); err != nil {
		return "", errors.Wrapf(err, "error saving artifact %s", location)
	}
	return location, nil
}

func (r *RedisArtifactRepository) GetArtifact(location string) (*api.WorkerResult, error) {
	data, err := r.db.Get(location).Result()
	if err == redis.Nil {
		return nil, errors.WithStack(&salvoerrors.ErrNotFound{Type: "artifact", Value: location})
	} else if err != nil {
		return nil, errors.Wrapf(err, "error reading artifact %s", location)
	}

	result := &api.WorkerResult{}
	if err := json.Unmarshal([]byte(data), result); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling artifact %s", location)
	}
	return result, nil
}
