package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"meetflow/internal/app"
	"meetflow/internal/config"
	logx "meetflow/pkg/logx"
)

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, levelFlag: levelFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil || strings.TrimSpace(*c.configFlag) == "" {
		return defaultConfigPath
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := c.configPath()
		cfg, err := config.NewConfigManager(path).Load()
		if err != nil {
			c.configErr = fmt.Errorf("load config %s: %w", path, err)
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid config %s: %w", path, err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() logx.Logger {
	level := "warn"
	if c.levelFlag != nil && strings.TrimSpace(*c.levelFlag) != "" {
		level = *c.levelFlag
	}
	return logx.NewConsole(level)
}

// withCore opens the store and broker for one-shot commands.
func (c *commandContext) withCore(ctx context.Context, fn func(*app.Core) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	core, err := app.OpenCore(ctx, cfg, c.logger())
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(core)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
