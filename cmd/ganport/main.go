package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ganport/internal/logger"
	// generator build functions
	_ "github.com/samcharles93/ganport/internal/stylegan"
)

func main() {
	app := &cli.Command{
		Name:  "ganport",
		Usage: "Export StyleGAN generator checkpoints for serving and edge runtimes",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			fileConfig = LoadConfig()
			applyLoggingConfig(cmd, fileConfig)
			format, err := logger.ParseFormat(logFormat)
			if err != nil {
				return ctx, err
			}
			level := logger.ParseLevel(logLevel)
			if debug {
				level = slog.LevelDebug
			}
			return logger.WithContext(ctx, logger.Setup(os.Stderr, format, level)), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			savedModelCmd(),
			liteCmd(),
			inspectCmd(),
			unpickleCmd(),
			backendsCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
