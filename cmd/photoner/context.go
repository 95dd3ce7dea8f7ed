package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"photoner/internal/config"
	"photoner/internal/logging"
	"photoner/internal/records"
	"photoner/internal/tick"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath   string
	configExists bool
	configErr    error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) requestedPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(c.requestedPath())
		if err != nil {
			c.configErr = err
			return
		}
		c.applyOverrides(cfg)
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) applyOverrides(cfg *config.Config) {
	if c.logLevelFlag != nil {
		if level := strings.TrimSpace(*c.logLevelFlag); level != "" {
			cfg.Logging.Level = strings.ToLower(level)
		}
	}
}

// reloader returns a loader that re-reads the configuration file on every call.
func (c *commandContext) reloader() tick.Loader {
	return func() (*config.Config, error) {
		cfg, _, _, err := config.Load(c.requestedPath())
		if err != nil {
			return nil, err
		}
		c.applyOverrides(cfg)
		return cfg, nil
	}
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) runner() (*tick.Runner, error) {
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	return tick.NewRunner(c.reloader(), logger), nil
}

func (c *commandContext) withStore(fn func(*config.Config, *records.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := records.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
