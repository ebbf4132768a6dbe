package main

import "github.com/urfave/cli/v3"

var (
	backendName string
	pluginDir   string
	cacheDir    string
	modelsDir   string
	logLevel    string
	logFormat   string
	debug       bool
)

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "backend for this call (ref, cuda); empty uses the configured default",
			Destination: &backendName,
		},
		&cli.StringFlag{
			Name:        "plugin-dir",
			Usage:       "directory holding native backend plugins",
			Destination: &pluginDir,
		},
	}
}

func checkpointFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "cache-dir",
			Usage:       "directory for downloaded checkpoints",
			Destination: &cacheDir,
		},
	}
}

func modelsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "models-dir",
			Aliases:     []string{"models-path"},
			Usage:       "directory holding one interchange artifact per subdirectory",
			Destination: &modelsDir,
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
			Usage:       "log format (auto, pretty, json, text)",
			Value:       "auto",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
