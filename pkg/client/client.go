package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/salvoproject/salvo/pkg/api"
)

type ApiConnectionDetails struct {
	SalvoUrl       string
	RequestTimeout time.Duration
}

// ApiError is returned when the server answered with a non-2xx status. The
// message is the server's own description of the problem.
type ApiError struct {
	StatusCode int
	Message    string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *ApiError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// ApiClient talks to the Salvo REST API. Transient transport failures are
// retried, responses the server actually produced are not.
type ApiClient struct {
	baseUrl    string
	httpClient *http.Client
}

func NewApiClient(connectionDetails *ApiConnectionDetails) *ApiClient {
	timeout := connectionDetails.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ApiClient{
		baseUrl:    strings.TrimSuffix(connectionDetails.SalvoUrl, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *ApiClient) StartRun(ctx context.Context, scenarioId string) (string, error) {
	response := struct {
		TestId string `json:"testId"`
	}{}
	request := struct {
		ScenarioId string `json:"scenarioId"`
	}{ScenarioId: scenarioId}

	err := c.call(ctx, http.MethodPost, "/api/v1/runs", request, &response)
	if err != nil {
		return "", err
	}
	return response.TestId, nil
}

func (c *ApiClient) CancelRun(ctx context.Context, testId string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/runs/"+testId+"/cancel", nil, nil)
}

func (c *ApiClient) GetRun(ctx context.Context, testId string) (*api.TestRun, error) {
	run := &api.TestRun{}
	err := c.call(ctx, http.MethodGet, "/api/v1/runs/"+testId, nil, run)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (c *ApiClient) ListRuns(ctx context.Context, limit int) ([]*api.TestRun, error) {
	response := struct {
		Runs []*api.TestRun `json:"runs"`
	}{}
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/v1/runs?limit=%d", limit), nil, &response)
	if err != nil {
		return nil, err
	}
	return response.Runs, nil
}

func (c *ApiClient) UpsertScenario(ctx context.Context, scenario *api.Scenario) (string, error) {
	response := struct {
		Id string `json:"id"`
	}{}
	err := c.call(ctx, http.MethodPut, "/api/v1/scenarios", scenario, &response)
	if err != nil {
		return "", err
	}
	return response.Id, nil
}

func (c *ApiClient) GetScenario(ctx context.Context, id string) (*api.Scenario, error) {
	scenario := &api.Scenario{}
	err := c.call(ctx, http.MethodGet, "/api/v1/scenarios/"+id, nil, scenario)
	if err != nil {
		return nil, err
	}
	return scenario, nil
}

func (c *ApiClient) ListScenarios(ctx context.Context) ([]*api.Scenario, error) {
	response := struct {
		Scenarios []*api.Scenario `json:"scenarios"`
	}{}
	err := c.call(ctx, http.MethodGet, "/api/v1/scenarios", nil, &response)
	if err != nil {
		return nil, err
	}
	return response.Scenarios, nil
}

// WatchRun polls the run until it reaches a terminal status or ctx is
// cancelled, invoking onUpdate after each successful poll. onUpdate returning
// true stops the watch early. The last observed state is returned.
func (c *ApiClient) WatchRun(
	ctx context.Context,
	testId string,
	pollInterval time.Duration,
	onUpdate func(run *api.TestRun) bool,
) (*api.TestRun, error) {
	var lastSeen *api.TestRun
	for {
		select {
		case <-ctx.Done():
			return lastSeen, ctx.Err()
		default:
		}

		run, err := c.GetRun(ctx, testId)
		if err != nil {
			return lastSeen, err
		}
		lastSeen = run

		if onUpdate != nil && onUpdate(run) {
			return run, nil
		}
		if run.Terminal() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return lastSeen, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *ApiClient) call(ctx context.Context, method string, path string, requestBody interface{}, responseBody interface{}) error {
	var payload []byte
	if requestBody != nil {
		data, err := json.Marshal(requestBody)
		if err != nil {
			return errors.WithStack(err)
		}
		payload = data
	}

	return retry.Do(
		func() error {
			return c.doOnce(ctx, method, path, payload, responseBody)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Responses the server produced are definitive, only transport
			// level failures are worth another attempt.
			var apiErr *ApiError
			return !errors.As(err, &apiErr)
		}),
	)
}

func (c *ApiClient) doOnce(ctx context.Context, method string, path string, payload []byte, responseBody interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, reader)
	if err != nil {
		return errors.WithStack(err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return errors.WithStack(err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &ApiError{StatusCode: response.StatusCode, Message: readErrorMessage(response.Body)}
	}
	if responseBody == nil {
		return nil
	}
	return errors.WithStack(json.NewDecoder(response.Body).Decode(responseBody))
}

func readErrorMessage(body io.Reader) string {
	envelope := struct {
		Error string `json:"error"`
	}{}
	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return "unable to read error response"
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error == "" {
		return strings.TrimSpace(string(data))
	}
	return envelope.Error
}
