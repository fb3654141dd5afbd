package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/persevere/cli/config"
)

// loadConfig reads the file named by --config. It returns nil when no
// config file was given.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// configVal extracts a value from cfg, or the zero value when cfg is nil.
func configVal[T any](cfg *config.Config, fn func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return fn(cfg)
}

// resolveString returns the flag value if set explicitly, then the config
// value, then the flag default.
func resolveString(c *cli.Context, name, configValue string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	if configValue != "" {
		return configValue
	}
	return c.String(name)
}

// resolveInt returns the flag value if set explicitly, else fallback.
func resolveInt(c *cli.Context, name string, fallback int) int {
	if c.IsSet(name) {
		return c.Int(name)
	}
	return fallback
}

// resolveBool returns the flag value if set explicitly, else fallback.
func resolveBool(c *cli.Context, name string, fallback bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fallback
}

// resolveDuration returns the flag value if set explicitly, else fallback.
func resolveDuration(c *cli.Context, name string, fallback time.Duration) time.Duration {
	if c.IsSet(name) {
		return c.Duration(name)
	}
	return fallback
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
