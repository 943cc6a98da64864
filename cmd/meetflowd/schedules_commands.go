package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"meetflow/internal/app"
	"meetflow/internal/jobs"
	"meetflow/internal/queue"
)

func newSchedulesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage recurring triggers",
	}
	cmd.AddCommand(newSchedulesRegisterCommand(ctx))
	cmd.AddCommand(newSchedulesListCommand(ctx))
	cmd.AddCommand(newSchedulesRemoveCommand(ctx))
	return cmd
}

func newSchedulesRegisterCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Upsert the configured recurring triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *app.Core) error {
				if !core.Config.Schedules.Enabled {
					fmt.Fprintln(cmd.OutOrStdout(), "Schedules are disabled in config; nothing registered")
					return nil
				}
				if err := core.RegisterSchedules(cmd.Context()); err != nil {
					return err
				}
				entries, err := core.Scheduler.List(cmd.Context(), jobs.QueueNames)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %d recurring triggers\n", len(entries))
				return nil
			})
		},
	}
}

func newSchedulesListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered recurring triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *app.Core) error {
				entries, err := core.Scheduler.List(cmd.Context(), jobs.QueueNames)
				if err != nil {
					return err
				}
				if jsonOut {
					if entries == nil {
						entries = []queue.RecurringEntry{}
					}
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No recurring triggers registered")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Queue", "Name", "Job", "Cadence", "Timezone", "Next run"},
					recurringRows(entries),
					nil,
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newSchedulesRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <queue> <trigger>",
		Short: "Remove every registration of a trigger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *app.Core) error {
				n, err := core.Scheduler.Unregister(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d registrations of %s\n", n, args[1])
				return nil
			})
		},
	}
}

func recurringRows(entries []queue.RecurringEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		next := "-"
		if !e.NextRun.IsZero() {
			next = e.NextRun.UTC().Format(time.RFC3339)
		}
		tz := strings.TrimSpace(e.Timezone)
		if tz == "" {
			tz = "UTC"
		}
		rows = append(rows, []string{e.Queue, e.Name, e.JobName, e.Cadence, tz, next})
	}
	return rows
}
