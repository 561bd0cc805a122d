package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/salvoproject/salvo/internal/salvoctl"
)

func watchCmd(a *salvoctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <testId>",
		Short: "Watch a test run until it finishes.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			pollInterval, err := cmd.Flags().GetDuration("poll-interval")
			if err != nil {
				return fmt.Errorf("error reading poll-interval: %s", err)
			}
			return a.Watch(args[0], pollInterval)
		},
	}
	cmd.Flags().Duration("poll-interval", 2*time.Second, "How often to poll the run state")
	return cmd
}
