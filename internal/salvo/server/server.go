package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/salvoproject/salvo/internal/common/logging"
	"github.com/salvoproject/salvo/internal/common/salvoerrors"
	"github.com/salvoproject/salvo/internal/common/util"
	"github.com/salvoproject/salvo/internal/salvo/repository"
	"github.com/salvoproject/salvo/pkg/api"
)

// RunManager is the part of the run manager the HTTP API needs.
type RunManager interface {
	StartRun(scenarioId string) (string, error)
	CancelRun(testId string) error
	GetRun(testId string) (*api.TestRun, error)
}

// RestServer serves the public JSON API. Errors returned by the layers below
// carry their HTTP status via salvoerrors.StatusFromError; handlers only
// translate between HTTP and the manager and repository calls.
type RestServer struct {
	runs      RunManager
	runStore  repository.RunRepository
	scenarios repository.ScenarioRepository
}

func NewRestServer(runs RunManager, runStore repository.RunRepository, scenarios repository.ScenarioRepository) *RestServer {
	return &RestServer{
		runs:      runs,
		runStore:  runStore,
		scenarios: scenarios,
	}
}

// Register attaches all API routes to mux.
func (s *RestServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/runs", s.handleRunCollection)
	mux.HandleFunc("/api/v1/runs/", s.handleRunResource)
	mux.HandleFunc("/api/v1/scenarios", s.handleScenarioCollection)
	mux.HandleFunc("/api/v1/scenarios/", s.handleScenarioResource)
}

type startRunRequest struct {
	ScenarioId string `json:"scenarioId"`
}

type runIdResponse struct {
	TestId string `json:"testId"`
}

type runsResponse struct {
	Runs []*api.TestRun `json:"runs"`
}

type scenarioIdResponse struct {
	Id string `json:"id"`
}

type scenariosResponse struct {
	Scenarios []*api.Scenario `json:"scenarios"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *RestServer) handleRunCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.startRun(w, r)
	case http.MethodGet:
		s.listRuns(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *RestServer) handleRunResource(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		s.getRun(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		s.cancelRun(w, r, parts[0])
	default:
		writeError(w, r, &salvoerrors.ErrNotFound{Value: r.URL.Path})
	}
}

func (s *RestServer) handleScenarioCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		s.upsertScenario(w, r)
	case http.MethodGet:
		s.listScenarios(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *RestServer) handleScenarioResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/scenarios/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, &salvoerrors.ErrNotFound{Value: r.URL.Path})
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	scenario, err := s.scenarios.GetScenario(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, scenario)
}

func (s *RestServer) startRun(w http.ResponseWriter, r *http.Request) {
	request := &startRunRequest{}
	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		writeError(w, r, &salvoerrors.ErrInvalidArgument{Name: "body", Value: "", Message: err.Error()})
		return
	}
	if request.ScenarioId == "" {
		writeError(w, r, &salvoerrors.ErrInvalidArgument{Name: "scenarioId", Value: "", Message: "required"})
		return
	}

	testId, err := s.runs.StartRun(request.ScenarioId)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, http.StatusAccepted, runIdResponse{TestId: testId})
}

func (s *RestServer) listRuns(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, r, &salvoerrors.ErrInvalidArgument{Name: "limit", Value: v, Message: "must be a positive integer"})
			return
		}
		limit = parsed
	}

	runs, err := s.runStore.GetRecentRuns(limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, runsResponse{Runs: runs})
}

func (s *RestServer) getRun(w http.ResponseWriter, r *http.Request, testId string) {
	run, err := s.runs.GetRun(testId)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, run)
}

func (s *RestServer) cancelRun(w http.ResponseWriter, r *http.Request, testId string) {
	if err := s.runs.CancelRun(testId); err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, http.StatusAccepted, runIdResponse{TestId: testId})
}

// upsertScenario stores a scenario definition, assigning an id when the
// definition carries none. Semantic validation happens when a run is started,
// so the fleet planner stays the single source of truth for it.
func (s *RestServer) upsertScenario(w http.ResponseWriter, r *http.Request) {
	scenario := &api.Scenario{}
	if err := json.NewDecoder(r.Body).Decode(scenario); err != nil {
		writeError(w, r, &salvoerrors.ErrInvalidArgument{Name: "scenario", Value: "", Message: err.Error()})
		return
	}
	if scenario.Id == "" {
		scenario.Id = util.NewULID()
	}
	if scenario.Created.IsZero() {
		scenario.Created = time.Now().UTC()
	}

	if err := s.scenarios.UpsertScenario(scenario); err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, scenarioIdResponse{Id: scenario.Id})
}

func (s *RestServer) listScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.scenarios.GetAllScenarios()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, scenariosResponse{Scenarios: scenarios})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := salvoerrors.StatusFromError(err)
	if status >= http.StatusInternalServerError {
		logging.WithStacktrace(log.WithField("path", r.URL.Path), err).Error("request failed")
	}
	writeJson(w, status, errorResponse{Error: err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJson(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to write response body")
	}
}
