package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/EdgeAINexus/ai-edge-quantizer/internal/logger"
)

// Config is the aeq configuration file (~/.config/aeq/config.yaml).
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Workers   *int64 `yaml:"workers"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "aeq", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or fails to parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyConfig fills flag destinations the user left unset.
func applyConfig(c *cli.Command, cfg Config, logLevel, logFormat *string, workers *int64) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		*logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		*logFormat = cfg.LogFormat
	}
	if workers != nil && cfg.Workers != nil && !c.IsSet("workers") {
		*workers = *cfg.Workers
	}
}

func newLogger(level, format string) logger.Logger {
	var w io.Writer = os.Stderr
	lv := logger.ParseLevel(level)
	if format == "json" {
		return logger.JSON(w, lv)
	}
	return logger.Text(w, lv)
}
