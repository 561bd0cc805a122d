package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/salvoproject/salvo/internal/salvoctl"
	"github.com/salvoproject/salvo/pkg/client"
)

var cfgFile string

func initConfig() {
	if err := client.LoadCommandlineArgsFromConfigFile(cfgFile); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cobra.OnInitialize(initConfig)

	cmd := &cobra.Command{
		Use:   "salvoctl",
		Short: "salvoctl controls the Salvo distributed load test orchestrator.",
		Long: `salvoctl controls the Salvo distributed load test orchestrator.

Persistent config can be saved in a config file so it doesn't have to be specified every command.

Example structure:

salvoUrl: http://localhost:8080

The location of this file can be passed in using --config argument or picked from $HOME/.salvoctl.yaml.
`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.salvoctl.yaml)")
	client.AddSalvoApiConnectionCommandlineArgs(cmd)

	cmd.AddCommand(
		createCmd(salvoctl.New()),
		scenariosCmd(salvoctl.New()),
		describeCmd(salvoctl.New()),
		runCmd(salvoctl.New()),
		runsCmd(salvoctl.New()),
		cancelCmd(salvoctl.New()),
		statusCmd(salvoctl.New()),
		watchCmd(salvoctl.New()),
	)

	return cmd
}

func initParams(cmd *cobra.Command, params *salvoctl.Params) error {
	params.ApiConnectionDetails = client.ExtractCommandlineSalvoApiConnectionDetails()
	return nil
}
