package cmd

import (
	"github.com/spf13/cobra"

	"github.com/salvoproject/salvo/internal/salvoctl"
)

func createCmd(a *salvoctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create ./path/to/scenario.yaml",
		Short: "Register a load test scenario.",
		Long: `Register a load test scenario from a YAML or JSON file.

Example scenario.yaml:

name: checkout load
payload: s3://scenarios/checkout.js
targetConcurrency: 400
workerCapacity: 100
duration: 10m
rampUp: 1m
regions:
  - eu-west-1
  - us-east-1
`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.CreateScenario(args[0])
		},
	}
	return cmd
}

func scenariosCmd(a *salvoctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List registered scenarios.",
		Args:  cobra.ExactArgs(0),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ListScenarios()
		},
	}
	return cmd
}

func describeCmd(a *salvoctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <scenarioId>",
		Short: "Print a registered scenario as YAML.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.DescribeScenario(args[0])
		},
	}
	return cmd
}
