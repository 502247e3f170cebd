package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jihwankim/tiermemctl/internal/controller"
	"github.com/jihwankim/tiermemctl/pkg/config"
	"github.com/jihwankim/tiermemctl/pkg/logging"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Start the tiered-memory placement daemon",
	Long:  `Loads the daemon configuration and runs until an OS signal or the admin "exit" command.`,
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := logging.LogLevel(cfg.Framework.LogLevel)
	if verbose {
		logLevel = logging.LogLevelDebug
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Level:  logLevel,
		Format: logging.LogFormat(cfg.Framework.LogFormat),
		Output: os.Stdout,
	})

	logger.Info("tiermemctl starting", "version", version)

	ctl, err := controller.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build controller: %w", err)
	}

	return ctl.Run(context.Background())
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "./config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
