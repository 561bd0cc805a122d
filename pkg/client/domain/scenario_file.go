package domain

import (
	"time"

	"github.com/pkg/errors"

	"github.com/salvoproject/salvo/pkg/api"
)

// ScenarioFile is the on-disk form of a scenario. Durations are Go duration
// strings ("10m", "90s") so the file stays hand-editable.
type ScenarioFile struct {
	Id                  string   `json:"id,omitempty"`
	Name                string   `json:"name"`
	Payload             string   `json:"payload"`
	TargetConcurrency   int      `json:"targetConcurrency"`
	WorkerCapacity      int      `json:"workerCapacity"`
	Duration            string   `json:"duration"`
	RampUp              string   `json:"rampUp,omitempty"`
	Regions             []string `json:"regions"`
	WorkerCountOverride int      `json:"workerCountOverride,omitempty"`
}

// ToApi converts the file representation into the API scenario, parsing the
// duration strings.
func (f *ScenarioFile) ToApi() (*api.Scenario, error) {
	duration, err := time.ParseDuration(f.Duration)
	if err != nil {
		return nil, errors.Errorf("invalid duration %q: %s", f.Duration, err)
	}
	rampUp := time.Duration(0)
	if f.RampUp != "" {
		rampUp, err = time.ParseDuration(f.RampUp)
		if err != nil {
			return nil, errors.Errorf("invalid rampUp %q: %s", f.RampUp, err)
		}
	}
	return &api.Scenario{
		Id:                  f.Id,
		Name:                f.Name,
		Payload:             f.Payload,
		TargetConcurrency:   f.TargetConcurrency,
		WorkerCapacity:      f.WorkerCapacity,
		Duration:            duration,
		RampUp:              rampUp,
		Regions:             f.Regions,
		WorkerCountOverride: f.WorkerCountOverride,
	}, nil
}
