package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"meetflow/internal/app"
	"meetflow/internal/queue"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect queues and finished jobs",
	}
	cmd.AddCommand(newJobShowCommand(ctx))
	cmd.AddCommand(newJobHistoryCommand(ctx))
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <queue> <id>",
		Short: "Print one job as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(cmd.Context(), func(core *app.Core) error {
				job, err := core.Registry.Queue(args[0]).Get(cmd.Context(), args[1])
				if errors.Is(err, queue.ErrNotFound) {
					return fmt.Errorf("job %s not found in %s", args[1], args[0])
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd, job)
			})
		},
	}
}

func newJobHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		state string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history <queue>",
		Short: "List recently finished jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := queue.State(state)
			if st != queue.StateCompleted && st != queue.StateFailed {
				return fmt.Errorf("--state must be completed or failed, got %q", state)
			}
			return ctx.withCore(cmd.Context(), func(core *app.Core) error {
				list, err := core.Registry.Queue(args[0]).History(cmd.Context(), st, limit)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s jobs in %s\n", st, args[0])
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, j := range list {
					rows = append(rows, []string{
						j.ID,
						j.Name,
						strconv.Itoa(j.AttemptsMade),
						j.FinishedAt.UTC().Format(time.RFC3339),
						j.FailedReason,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Job", "Attempts", "Finished", "Reason"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", string(queue.StateFailed), "completed or failed")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum jobs to list")
	return cmd
}
