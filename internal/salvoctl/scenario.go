package salvoctl

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/salvoproject/salvo/internal/common"
	"github.com/salvoproject/salvo/pkg/client/domain"
	"github.com/salvoproject/salvo/pkg/client/util"
)

// CreateScenario registers the scenario described by the file at filePath.
func (a *App) CreateScenario(filePath string) error {
	scenarioFile := &domain.ScenarioFile{}
	if err := util.BindJsonOrYaml(filePath, scenarioFile); err != nil {
		return err
	}
	scenario, err := scenarioFile.ToApi()
	if err != nil {
		return err
	}

	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	id, err := a.apiClient().UpsertScenario(ctx, scenario)
	if err != nil {
		return errors.WithMessagef(err, "error creating scenario from %s", filePath)
	}
	fmt.Fprintf(a.Out, "Created scenario %s\n", id)
	return nil
}

// DescribeScenario prints the full definition of one scenario as YAML.
func (a *App) DescribeScenario(scenarioId string) error {
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	scenario, err := a.apiClient().GetScenario(ctx, scenarioId)
	if err != nil {
		return errors.WithMessagef(err, "error getting scenario %s", scenarioId)
	}
	b, err := yaml.Marshal(scenario)
	if err != nil {
		return errors.WithMessagef(err, "error marshalling scenario %s", scenarioId)
	}
	fmt.Fprint(a.Out, string(b))
	return nil
}

// ListScenarios prints all registered scenarios.
func (a *App) ListScenarios() error {
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	scenarios, err := a.apiClient().ListScenarios(ctx)
	if err != nil {
		return errors.WithMessage(err, "error listing scenarios")
	}

	w := tabwriter.NewWriter(a.Out, 1, 1, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUSERS\tDURATION\tREGIONS")
	for _, scenario := range scenarios {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			scenario.Id,
			scenario.Name,
			scenario.TargetConcurrency,
			scenario.Duration,
			strings.Join(scenario.Regions, ","),
		)
	}
	return w.Flush()
}
