package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"meetflow/internal/app"
	"meetflow/internal/jobs"
	"meetflow/internal/queue"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		payload  string
		jobID    string
		delay    time.Duration
		priority int
	)
	cmd := &cobra.Command{
		Use:   "enqueue <queue> <job>",
		Short: "Add one job to a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName := strings.TrimSpace(args[0])
			if !knownQueue(queueName) {
				return fmt.Errorf("unknown queue %q (known: %s)", queueName, strings.Join(jobs.QueueNames, ", "))
			}
			var body json.RawMessage
			if strings.TrimSpace(payload) != "" {
				if !json.Valid([]byte(payload)) {
					return errors.New("--payload must be valid JSON")
				}
				body = json.RawMessage(payload)
			}
			if delay < 0 {
				return errors.New("--delay must not be negative")
			}
			return ctx.withCore(cmd.Context(), func(core *app.Core) error {
				job, err := core.Registry.Queue(queueName).Add(cmd.Context(), args[1], body, queue.Options{
					JobID:    jobID,
					Delay:    delay,
					Priority: priority,
				})
				if errors.Is(err, queue.ErrDuplicate) {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s already queued; skipped\n", jobID)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s on %s (id %s)\n", job.Name, job.Queue, job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "Job payload as JSON")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Explicit job id; a duplicate id is skipped")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job becomes runnable")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority 0..100, lower runs first")
	return cmd
}

func knownQueue(name string) bool {
	for _, n := range jobs.QueueNames {
		if n == name {
			return true
		}
	}
	return false
}
