package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salvoproject/salvo/internal/salvoctl"
)

func runCmd(a *salvoctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenarioId>",
		Short: "Start a test run of a registered scenario.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.StartRun(args[0])
		},
	}
	return cmd
}

func runsCmd(a *salvoctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent test runs, newest first.",
		Args:  cobra.ExactArgs(0),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("error reading limit: %s", err)
			}
			return a.ListRuns(limit)
		},
	}
	cmd.Flags().Int("limit", 10, "Maximum number of runs to list")
	return cmd
}

func cancelCmd(a *salvoctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <testId>",
		Short: "Cancel a live test run.",
		Long:  `Cancel a live test run. Workers are stopped and the run is marked CANCELLED once they drained.`,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.CancelRun(args[0])
		},
	}
	return cmd
}

func statusCmd(a *salvoctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <testId>",
		Short: "Show the current state of a test run.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Status(args[0])
		},
	}
	return cmd
}
