package main

import (
	"os"

	"github.com/salvoproject/salvo/cmd/salvoctl/cmd"
	"github.com/salvoproject/salvo/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
