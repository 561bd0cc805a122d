package repository

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/pkg/api"
)

const scenarioHashKey = "Scenario"

type ScenarioRepository interface {
	UpsertScenario(scenario *api.Scenario) error
	GetScenario(id string) (*api.Scenario, error)
	GetAllScenarios() ([]*api.Scenario, error)
}

// RedisScenarioRepository stores scenario definitions in a redis hash. Reads
// are served from an in-process cache since scenarios change rarely but are
// read on every run start.
type RedisScenarioRepository struct {
	db            redis.UniversalClient
	scenarioCache *cache.Cache
}

func NewRedisScenarioRepository(db redis.UniversalClient, cacheExpiry time.Duration) *RedisScenarioRepository {
	if cacheExpiry <= 0 {
		cacheExpiry = time.Minute
	}
	return &RedisScenarioRepository{
		db:            db,
		scenarioCache: cache.New(cacheExpiry, 2*cacheExpiry),
	}
}

func (r *RedisScenarioRepository) UpsertScenario(scenario *api.Scenario) error {
	data, err := json.Marshal(scenario)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := r.db.HSet(scenarioHashKey, scenario.Id, data).Err(); err != nil {
		return errors.Wrapf(err, "error saving scenario %s", scenario.Id)
	}
	r.scenarioCache.Delete(scenario.Id)
	return nil
}

func (r *RedisScenarioRepository) GetScenario(id string) (*api.Scenario, error) {
	if cached, found := r.scenarioCache.Get(id); found {
		return cached.(*api.Scenario).DeepCopy(), nil
	}

	data, err := r.db.HGet(scenarioHashKey, id).Result()
	if err == redis.Nil {
		return nil, errors.WithStack(&salvoerrors.ErrNotFound{Type: "scenario", Value: id})
	} else if err != nil {
		return nil, errors.Wrapf(err, "error reading scenario %s", id)
	}

	scenario := &api.Scenario{}
	if err := json.Unmarshal([]byte(data), scenario); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling scenario %s", id)
	}
	r.scenarioCache.Set(id, scenario, cache.DefaultExpiration)
	return scenario.DeepCopy(), nil
}

func (r *RedisScenarioRepository) GetAllScenarios() ([]*api.Scenario, error) {
	result, err := r.db.HGetAll(scenarioHashKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error reading scenarios")
	}

	scenarios := make([]*api.Scenario, 0, len(result))
	for id, data := range result {
		scenario := &api.Scenario{}
		if err := json.Unmarshal([]byte(data), scenario); err != nil {
			return nil, errors.Wrapf(err, "error unmarshalling scenario %s", id)
		}
		scenarios = append(scenarios, scenario)
	}
	return scenarios, nil
}
