package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meetflow/internal/jobs"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if _, err := jobs.QueueSettings(cfg); err != nil {
				return err
			}
			if cfg.Schedules.Enabled {
				fmt.Fprintf(cmd.OutOrStdout(), "Config %s is valid (%d recurring triggers)\n", ctx.configPath(), len(jobs.Triggers(cfg)))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Config %s is valid (schedules disabled)\n", ctx.configPath())
			}
			return nil
		},
	}
}
