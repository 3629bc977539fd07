package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/komorebi/internal/app"
	"github.com/aatumaykin/komorebi/internal/config"
	"github.com/aatumaykin/komorebi/internal/cron"
	"github.com/aatumaykin/komorebi/internal/logger"
	"github.com/aatumaykin/komorebi/internal/scheduler"
)

func newTasksCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(
		newTasksListCmd(flags),
		newTasksAddCmd(flags),
		newTasksRemoveCmd(flags),
		newTasksRunCmd(flags),
	)
	return cmd
}

// openScheduler loads the persisted tasks without starting anything.
func openScheduler(cfg *config.Config) (*scheduler.Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Config{
		CheckInterval: cfg.SchedulerCheckInterval(),
		HistorySize:   cfg.Scheduler.HistorySize,
		Location:      loc,
	}, nil, logger.Discard(),
		scheduler.WithStorage(scheduler.NewStorage(cfg.Workspace.Path, logger.Discard()))), nil
}

func newTasksListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			s, err := openScheduler(cfg)
			if err != nil {
				return err
			}

			tasks := s.Tasks()
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No scheduled tasks")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tSCHEDULE\tENABLED\tNEXT RUN\tLAST STATUS\tRUNS")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\t%d\n",
					t.ID, t.Name, t.Category, cron.Describe(t.Schedule), t.Enabled,
					formatTime(t.NextRun), t.LastStatus, t.RunCount)
			}
			return w.Flush()
		},
	}
}

func newTasksAddCmd(flags *globalFlags) *cobra.Command {
	var (
		task     scheduler.Task
		category string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "add <name> <schedule>",
		Short: "Add a scheduled task",
		Example: `  komorebi tasks add "Morning haiku" "0 9 * * *" --category philosophy \
    --prompt "Write a haiku about the morning light"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			c := scheduler.Category(strings.ToLower(category))
			if !c.Valid() {
				return fmt.Errorf("unknown category %q", category)
			}
			task.Name = args[0]
			task.Schedule = args[1]
			task.Category = c
			task.Enabled = !disabled

			s, err := openScheduler(cfg)
			if err != nil {
				return err
			}
			added, err := s.AddTask(task)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task added: %s\n", added.ID)
			fmt.Fprintf(out, "Schedule: %s (%s)\n", added.Schedule, cron.Describe(added.Schedule))
			if added.Enabled {
				fmt.Fprintf(out, "Next run: %s\n", formatTime(added.NextRun))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&task.ID, "id", "", "Task id (generated when empty)")
	cmd.Flags().StringVar(&category, "category", string(scheduler.CategoryCustom), "Task category")
	cmd.Flags().StringVar(&task.Description, "description", "", "Task description")
	cmd.Flags().StringVar(&task.Prompt, "prompt", "", "Prompt passed to the executor")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Add the task disabled")
	return cmd
}

func newTasksRemoveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id>",
		Short: "Remove a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			s, err := openScheduler(cfg)
			if err != nil {
				return err
			}
			if err := s.RemoveTask(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task removed: %s\n", args[0])
			return nil
		},
	}
}

func newTasksRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task-id>",
		Short: "Execute a task once, outside its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := validConfig(cmd, flags)
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: "stderr",
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			a := app.New(cfg, log)
			if err := a.Initialize(); err != nil {
				return err
			}
			defer func() { _ = a.Shutdown() }()

			exec, err := a.Scheduler().RunNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Execution %s: %s (%s)\n", exec.ID, exec.Status, exec.Duration().Round(time.Millisecond))
			if exec.Status == scheduler.StatusError {
				return fmt.Errorf("task failed: %s", exec.Error)
			}
			if exec.Result != nil {
				fmt.Fprintln(out, exec.Result.Content)
			}
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04 MST")
}
