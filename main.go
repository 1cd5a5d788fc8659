package main

import (
	"fmt"
	"os"

	"github.com/deploymenttheory/go-dmgpkg/cmd"
	"github.com/deploymenttheory/go-dmgpkg/internal/config"
	"github.com/deploymenttheory/go-dmgpkg/internal/logger"
)

func main() {
	configFile := os.Getenv("DMGPKG_CONFIG")

	if err := config.Initialize(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing configuration: %v\n", err)
		os.Exit(1)
	}

	logConfig := logger.LoggerConfig{
		Debug:     config.Instance.Debug,
		LogFormat: config.Instance.LogFormat,
		LogFile:   config.Instance.LogFile,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cmd.Execute()
}
