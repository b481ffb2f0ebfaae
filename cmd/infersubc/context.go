package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"infersubc/internal/logging"
	"infersubc/pkg/config"
)

const defaultConfigPath = "infersubc.yaml"

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil || strings.TrimSpace(*c.configFlag) == "" {
		return defaultConfigPath
	}
	return strings.TrimSpace(*c.configFlag)
}

// ensureConfig loads the configuration once and installs the logger it
// describes. Environment variables override the file's logging section.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.LoadConfig(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		logging.Apply(loggingConfig(cfg))
		c.config = cfg
	})
	return c.config, c.configErr
}

func loggingConfig(cfg *config.Config) logging.Config {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(cfg.Logging.Level); ok {
		lc.Level = lvl
	}
	lc.JSON = cfg.Logging.JSON
	lc.NoColor = cfg.Logging.NoColor
	logging.ApplyEnvOverrides(&lc)
	return lc
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
