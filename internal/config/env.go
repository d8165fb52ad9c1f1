package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

type envOverrides struct {
	StoragePath  string `env:"TRACERLINE_STORAGE_PATH"`
	LogLevel     string `env:"TRACERLINE_LOG_LEVEL"`
	LogFormat    string `env:"TRACERLINE_LOG_FORMAT"`
	ServerAddr   string `env:"TRACERLINE_SERVER_ADDR"`
	BasePath     string `env:"TRACERLINE_BASE_PATH"`
	RoundOverall string `env:"TRACERLINE_ROUND_OVERALL"`
}

// ApplyEnv overlays TRACERLINE_* environment variables on c and re-validates.
// Unset variables leave the file values in place.
func ApplyEnv(c *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return o.apply(c)
}

func (o envOverrides) apply(c *Config) error {
	if o.StoragePath != "" {
		c.Storage.Path = o.StoragePath
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Logging.Format = o.LogFormat
	}
	if o.ServerAddr != "" {
		c.Server.Addr = o.ServerAddr
	}
	if o.BasePath != "" {
		c.Server.BasePath = o.BasePath
	}
	if v := strings.TrimSpace(o.RoundOverall); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRACERLINE_ROUND_OVERALL: invalid boolean %q", v)
		}
		c.Progress.RoundOverall = b
	}
	return c.Validate()
}
