package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/komorebi/internal/config"
	"github.com/aatumaykin/komorebi/internal/logger"
)

const (
	defaultConfigPath = "./config.toml"
	defaultEnvPath    = "./.env"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envPath    string
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "komorebi",
		Short: "Komorebi - autonomous agent orchestration and task scheduling",
		Long: `Komorebi runs an autonomous agent: a cron-driven task scheduler,
a task executor with generation capabilities, a pool of specialised
sub-agents and an orchestrator that proposes new work.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.envPath, "env", defaultEnvPath, "Path to .env file (optional)")

	root.AddCommand(
		newVersionCmd(),
		newConfigCmd(flags),
		newServeCmd(flags),
		newTasksCmd(flags),
		newCronCmd(),
	)
	return root
}

// loadConfig loads the .env file and the configuration. A missing default
// config file falls back to built-in defaults; an explicit one must exist.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	if err := config.LoadEnvOptional(flags.envPath); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(flags.configPath); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// validConfig loads the configuration and rejects it when invalid.
func validConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}
