package salvoctl

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salvoproject/salvo/pkg/api"
	"github.com/salvoproject/salvo/pkg/client"
)

func TestCreateScenario_ParsesDurationsAndPrintsId(t *testing.T) {
	var received *api.Scenario
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/v1/scenarios", r.URL.Path)
		received = &api.Scenario{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(received))
		writeJson(t, w, map[string]string{"id": "scenario-1"})
	}))
	defer server.Close()

	scenarioPath := filepath.Join(t.TempDir(), "scenario.yaml")
	scenarioYaml := `
name: checkout load
payload: s3://scenarios/checkout.js
targetConcurrency: 400
workerCapacity: 100
duration: 10m
rampUp: 1m
regions:
  - eu-west-1
  - us-east-1
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(scenarioYaml), 0o600))

	app, out := testApp(server.URL)
	require.NoError(t, app.CreateScenario(scenarioPath))

	require.NotNil(t, received)
	assert.Equal(t, 10*time.Minute, received.Duration)
	assert.Equal(t, time.Minute, received.RampUp)
	assert.Equal(t, 400, received.TargetConcurrency)
	assert.Contains(t, out.String(), "Created scenario scenario-1")
}

func TestCreateScenario_RejectsMalformedDuration(t *testing.T) {
	scenarioPath := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(scenarioPath, []byte("name: x\nduration: soon\n"), 0o600))

	app, _ := testApp("http://localhost:1")
	err := app.CreateScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestDescribeScenario_PrintsYaml(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/scenarios/scenario-1", r.URL.Path)
		writeJson(t, w, &api.Scenario{
			Id:                "scenario-1",
			Name:              "checkout load",
			TargetConcurrency: 400,
			Duration:          10 * time.Minute,
			Regions:           []string{"eu-west-1", "us-east-1"},
		})
	}))
	defer server.Close()

	app, out := testApp(server.URL)
	require.NoError(t, app.DescribeScenario("scenario-1"))

	printed := out.String()
	assert.Contains(t, printed, "id: scenario-1")
	assert.Contains(t, printed, "name: checkout load")
	assert.Contains(t, printed, "- eu-west-1")
}

func TestStatus_PrintsRunAndSummary(t *testing.T) {
	endTime := time.Date(2022, 3, 14, 10, 30, 0, 0, time.UTC)
	run := &api.TestRun{
		TestId:     "test-1",
		ScenarioId: "scenario-1",
		Status:     api.RunComplete,
		StartTime:  endTime.Add(-10 * time.Minute),
		EndTime:    &endTime,
		Tasks: []api.WorkerTask{
			{TaskId: "task-1", Status: api.TaskStoppedSuccess},
			{TaskId: "task-2", Status: api.TaskStoppedSuccess},
		},
		Summary: &api.ResultSummary{
			TotalRequests:     120000,
			ErrorCount:        37,
			RequestsPerSecond: 200.5,
			LatencyP50Ms:      42,
			LatencyP90Ms:      80,
			LatencyP99Ms:      130,
			Regions: map[string]api.RegionSummary{
				"eu-west-1": {Workers: 2, TotalRequests: 120000, ErrorCount: 37},
			},
			WorkersSucceeded: 2,
		},
	}
	server := cannedRunServer(t, run)
	defer server.Close()

	app, out := testApp(server.URL)
	require.NoError(t, app.Status("test-1"))

	printed := out.String()
	assert.Contains(t, printed, "Status: COMPLETE")
	assert.Contains(t, printed, "2 succeeded")
	assert.Contains(t, printed, "120000")
	assert.Contains(t, printed, "eu-west-1")
}

func TestWatch_PrintsEachStateChangeUntilTerminal(t *testing.T) {
	states := []*api.TestRun{
		{TestId: "test-1", Status: api.RunRunning, Tasks: []api.WorkerTask{{TaskId: "task-1", Status: api.TaskRunning}}},
		{TestId: "test-1", Status: api.RunRunning, Tasks: []api.WorkerTask{{TaskId: "task-1", Status: api.TaskRunning}}},
		{TestId: "test-1", Status: api.RunComplete, Tasks: []api.WorkerTask{{TaskId: "task-1", Status: api.TaskStoppedSuccess}}},
	}
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := states[polls]
		if polls < len(states)-1 {
			polls++
		}
		writeJson(t, w, state)
	}))
	defer server.Close()

	app, out := testApp(server.URL)
	require.NoError(t, app.Watch("test-1", time.Millisecond))

	printed := out.String()
	assert.Contains(t, printed, "status: RUNNING")
	assert.Contains(t, printed, "status: COMPLETE")
	// The repeated RUNNING state must not produce a second line.
	assert.Equal(t, 1, strings.Count(printed, "status: RUNNING"))
}

func TestCancelRun_SurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		writeJson(t, w, map[string]string{"error": "run test-1 is already in terminal state COMPLETE"})
	}))
	defer server.Close()

	app, _ := testApp(server.URL)
	err := app.CancelRun("test-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal state COMPLETE")
}

func TestListRuns_PrintsTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		writeJson(t, w, map[string]interface{}{
			"runs": []*api.TestRun{
				{TestId: "test-1", ScenarioId: "scenario-1", Status: api.RunRunning, StartTime: time.Now()},
			},
		})
	}))
	defer server.Close()

	app, out := testApp(server.URL)
	require.NoError(t, app.ListRuns(1))
	assert.Contains(t, out.String(), "test-1")
	assert.Contains(t, out.String(), "RUNNING")
}

func testApp(serverUrl string) (*App, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	app := New()
	app.Out = buf
	app.Params.ApiConnectionDetails = &client.ApiConnectionDetails{SalvoUrl: serverUrl}
	return app, buf
}

func cannedRunServer(t *testing.T, run *api.TestRun) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJson(t, w, run)
	}))
}

func writeJson(t *testing.T, w http.ResponseWriter, body interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}
