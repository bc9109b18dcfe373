package main

import "github.com/urfave/cli/v3"

var (
	enginePath    string
	enginesPath   string
	overridesPath string
	outputFormat  string
	logLevel      string
	logFormat     string
	debug         bool
)

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "engine",
			Aliases:     []string{"e"},
			Usage:       "engine directory or config.json, or an engine name under --engines-path",
			Destination: &enginePath,
		},
		&cli.StringFlag{
			Name:        "engines-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing one engine directory per model",
			Sources:     cli.EnvVars("MODELCFG_ENGINES_DIR"),
			Destination: &enginesPath,
		},
		&cli.StringFlag{
			Name:        "overrides",
			Usage:       "YAML, TOML or JSON file overriding serving limits and flags",
			Destination: &overridesPath,
		},
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "format",
			Aliases:     []string{"o"},
			Usage:       "output format (table, json, yaml)",
			Value:       "table",
			Destination: &outputFormat,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
