package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/komorebi/internal/app"
	"github.com/aatumaykin/komorebi/internal/logger"
	"github.com/aatumaykin/komorebi/internal/version"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler, orchestrator and sub-agent pool",
		Long: `Start Komorebi with the given configuration. All enabled components
run until SIGINT or SIGTERM, then shut down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "Configuration validation failed:")
				for _, e := range errs {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", e)
				}
				return fmt.Errorf("%d validation errors", len(errs))
			}

			log, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger.SetDefault(log)

			log.Info("starting komorebi",
				logger.Field{Key: "version", Value: version.Version},
				logger.Field{Key: "git_commit", Value: version.GitCommit},
				logger.Field{Key: "config", Value: flags.configPath},
				logger.Field{Key: "workspace", Value: cfg.Workspace.Path},
				logger.Field{Key: "llm_provider", Value: cfg.LLM.Provider},
				logger.Field{Key: "scheduler", Value: cfg.Scheduler.Enabled},
				logger.Field{Key: "orchestrator", Value: cfg.Orchestrator.Enabled})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := app.New(cfg, log)
			if err := a.Initialize(); err != nil {
				return err
			}
			a.Activity().Record("app", "startup", version.FormatStartupMessage())

			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")
	return cmd
}
