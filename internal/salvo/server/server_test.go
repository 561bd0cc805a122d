package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/internal/common/util"
	"github.com/salvoproject/salvo/internal/salvo/repository"
	"github.com/salvoproject/salvo/pkg/api"
)

func TestStartRun(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		response := doRequest(t, client, http.MethodPost, url+"/api/v1/runs", startRunRequest{ScenarioId: "checkout-load"})
		require.Equal(t, http.StatusAccepted, response.StatusCode)

		body := runIdResponse{}
		decodeBody(t, response, &body)
		assert.Equal(t, manager.nextTestId, body.TestId)
		assert.Equal(t, []string{"checkout-load"}, manager.started)
	})
}

func TestStartRun_RequiresScenarioId(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		response := doRequest(t, client, http.MethodPost, url+"/api/v1/runs", startRunRequest{})
		assert.Equal(t, http.StatusBadRequest, response.StatusCode)
		assert.Empty(t, manager.started)
	})
}

func TestStartRun_MapsTypedErrors(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		manager.startErr = &salvoerrors.ErrNotFound{Type: "scenario", Value: "missing"}
		response := doRequest(t, client, http.MethodPost, url+"/api/v1/runs", startRunRequest{ScenarioId: "missing"})
		require.Equal(t, http.StatusNotFound, response.StatusCode)

		body := errorResponse{}
		decodeBody(t, response, &body)
		assert.Contains(t, body.Error, "does not exist")

		manager.startErr = &salvoerrors.ErrCapacityExceeded{Requested: 20, Limit: 10}
		response = doRequest(t, client, http.MethodPost, url+"/api/v1/runs", startRunRequest{ScenarioId: "huge"})
		assert.Equal(t, http.StatusUnprocessableEntity, response.StatusCode)
	})
}

func TestGetRun(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		stored := &api.TestRun{
			TestId:     util.NewULID(),
			ScenarioId: "checkout-load",
			Status:     api.RunRunning,
			StartTime:  time.Now().UTC(),
			Tasks: []api.WorkerTask{
				{TaskId: "task-1", Region: "eu-west-1", Concurrency: 50, Status: api.TaskRunning},
			},
		}
		require.NoError(t, runs.PutRun(stored))

		response := doRequest(t, client, http.MethodGet, url+"/api/v1/runs/"+stored.TestId, nil)
		require.Equal(t, http.StatusOK, response.StatusCode)

		fetched := &api.TestRun{}
		decodeBody(t, response, fetched)
		assert.Equal(t, stored.TestId, fetched.TestId)
		assert.Equal(t, api.RunRunning, fetched.Status)
		assert.Len(t, fetched.Tasks, 1)
	})
}

func TestGetRun_UnknownRunIsNotFound(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		response := doRequest(t, client, http.MethodGet, url+"/api/v1/runs/unknown", nil)
		assert.Equal(t, http.StatusNotFound, response.StatusCode)
	})
}

func TestCancelRun(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		response := doRequest(t, client, http.MethodPost, url+"/api/v1/runs/test-1/cancel", nil)
		require.Equal(t, http.StatusAccepted, response.StatusCode)
		assert.Equal(t, []string{"test-1"}, manager.cancelled)
	})
}

func TestCancelRun_AlreadyTerminalConflicts(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		manager.cancelErr = &salvoerrors.ErrAlreadyTerminal{TestId: "test-1", Status: string(api.RunComplete)}
		response := doRequest(t, client, http.MethodPost, url+"/api/v1/runs/test-1/cancel", nil)
		require.Equal(t, http.StatusConflict, response.StatusCode)

		body := errorResponse{}
		decodeBody(t, response, &body)
		assert.Contains(t, body.Error, "terminal state COMPLETE")
	})
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		older := &api.TestRun{TestId: "older", Status: api.RunComplete, StartTime: time.Now().Add(-time.Hour)}
		newer := &api.TestRun{TestId: "newer", Status: api.RunRunning, StartTime: time.Now()}
		require.NoError(t, runs.PutRun(older))
		require.NoError(t, runs.PutRun(newer))

		response := doRequest(t, client, http.MethodGet, url+"/api/v1/runs?limit=1", nil)
		require.Equal(t, http.StatusOK, response.StatusCode)

		body := runsResponse{}
		decodeBody(t, response, &body)
		require.Len(t, body.Runs, 1)
		assert.Equal(t, "newer", body.Runs[0].TestId)

		response = doRequest(t, client, http.MethodGet, url+"/api/v1/runs?limit=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	})
}

func TestScenarioUpsertAndFetch(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		scenario := &api.Scenario{
			Name:              "checkout load",
			Payload:           "s3://scenarios/checkout.js",
			TargetConcurrency: 400,
			WorkerCapacity:    100,
			Duration:          10 * time.Minute,
			RampUp:            time.Minute,
			Regions:           []string{"eu-west-1", "us-east-1"},
		}
		response := doRequest(t, client, http.MethodPut, url+"/api/v1/scenarios", scenario)
		require.Equal(t, http.StatusOK, response.StatusCode)

		created := scenarioIdResponse{}
		decodeBody(t, response, &created)
		require.NotEmpty(t, created.Id)

		response = doRequest(t, client, http.MethodGet, url+"/api/v1/scenarios/"+created.Id, nil)
		require.Equal(t, http.StatusOK, response.StatusCode)
		fetched := &api.Scenario{}
		decodeBody(t, response, fetched)
		assert.Equal(t, "checkout load", fetched.Name)
		assert.Equal(t, 400, fetched.TargetConcurrency)
		assert.Equal(t, []string{"eu-west-1", "us-east-1"}, fetched.Regions)
		assert.False(t, fetched.Created.IsZero())

		response = doRequest(t, client, http.MethodGet, url+"/api/v1/scenarios", nil)
		require.Equal(t, http.StatusOK, response.StatusCode)
		listed := scenariosResponse{}
		decodeBody(t, response, &listed)
		require.Len(t, listed.Scenarios, 1)
		assert.Equal(t, created.Id, listed.Scenarios[0].Id)
	})
}

func TestScenarioFetch_UnknownIsNotFound(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		response := doRequest(t, client, http.MethodGet, url+"/api/v1/scenarios/unknown", nil)
		assert.Equal(t, http.StatusNotFound, response.StatusCode)
	})
}

func TestUnsupportedMethodsAreRejected(t *testing.T) {
	withServer(t, func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository) {
		response := doRequest(t, client, http.MethodDelete, url+"/api/v1/runs", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, response.StatusCode)

		response = doRequest(t, client, http.MethodPut, url+"/api/v1/runs/test-1", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, response.StatusCode)

		response = doRequest(t, client, http.MethodGet, url+"/api/v1/runs/test-1/cancel", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, response.StatusCode)
	})
}

type stubRunManager struct {
	store      repository.RunRepository
	nextTestId string
	started    []string
	cancelled  []string
	startErr   error
	cancelErr  error
}

func (m *stubRunManager) StartRun(scenarioId string) (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}
	m.started = append(m.started, scenarioId)
	return m.nextTestId, nil
}

func (m *stubRunManager) CancelRun(testId string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, testId)
	return nil
}

func (m *stubRunManager) GetRun(testId string) (*api.TestRun, error) {
	return m.store.GetRun(testId)
}

func withServer(t *testing.T, action func(client *http.Client, url string, manager *stubRunManager, runs repository.RunRepository, scenarios repository.ScenarioRepository)) {
	minidb, err := miniredis.Run()
	require.NoError(t, err)
	defer minidb.Close()
	db := redis.NewClient(&redis.Options{Addr: minidb.Addr()})
	defer db.Close()

	runStore := repository.NewRedisRunRepository(db)
	scenarios := repository.NewRedisScenarioRepository(db, time.Minute)
	manager := &stubRunManager{store: runStore, nextTestId: util.NewULID()}

	restServer := NewRestServer(manager, runStore, scenarios)
	mux := http.NewServeMux()
	restServer.Register(mux)
	httpServer := httptest.NewServer(mux)
	defer httpServer.Close()

	action(httpServer.Client(), httpServer.URL, manager, runStore, scenarios)
}

func doRequest(t *testing.T, client *http.Client, method string, url string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	request, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	response, err := client.Do(request)
	require.NoError(t, err)
	return response
}

func decodeBody(t *testing.T, response *http.Response, target interface{}) {
	t.Helper()
	defer response.Body.Close()
	require.NoError(t, json.NewDecoder(response.Body).Decode(target))
}
