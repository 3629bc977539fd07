package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/komorebi/internal/cron"
)

func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect cron expressions",
	}

	describe := &cobra.Command{
		Use:   "describe <expression>",
		Short: "Describe a cron expression in plain words",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cron.ParseStrict(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cron.Describe(args[0]))
			return nil
		},
	}

	var count int
	var from string
	next := &cobra.Command{
		Use:   "next <expression>",
		Short: "Print the next run times of a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := cron.ParseStrict(args[0])
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("-n must be >= 1 (got %d)", count)
			}

			t := time.Now()
			if from != "" {
				if t, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			for i := range count {
				n, ok := f.Next(t)
				if !ok {
					if i == 0 {
						return fmt.Errorf("no run time within a year for %q", args[0])
					}
					break
				}
				fmt.Fprintln(out, n.Format(time.RFC3339))
				t = n
			}
			return nil
		},
	}
	next.Flags().IntVarP(&count, "count", "n", 5, "Number of run times to print")
	next.Flags().StringVar(&from, "from", "", "Start time in RFC3339 (default: now)")

	cmd.AddCommand(describe, next)
	return cmd
}
