package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the user config file (~/.config/modelcfg/config.yaml). Values
// apply only when the matching flag was not set on the command line.
type Config struct {
	Engine        string `yaml:"engine"`
	EnginesDir    string `yaml:"engines_dir"`
	Overrides     string `yaml:"overrides"`
	Format        string `yaml:"format"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	ServerAddress string `yaml:"server_address"`
}

// userConfig is the config file loaded by setup.
var userConfig Config

func configPath() string {
	if p := os.Getenv("MODELCFG_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "modelcfg", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func applyString(c *cli.Command, flag, value string, dst *string) {
	if value != "" && !c.IsSet(flag) {
		*dst = value
	}
}

// applyConfig fills unset global flags from cfg.
func applyConfig(c *cli.Command, cfg Config) {
	applyString(c, "engine", cfg.Engine, &enginePath)
	applyString(c, "engines-path", cfg.EnginesDir, &enginesPath)
	applyString(c, "overrides", cfg.Overrides, &overridesPath)
	applyString(c, "format", cfg.Format, &outputFormat)
	applyString(c, "log-level", cfg.LogLevel, &logLevel)
	applyString(c, "log-format", cfg.LogFormat, &logFormat)
}
