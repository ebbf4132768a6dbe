package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ganport/internal/api"
	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		outputDir   string
		readTimeout time.Duration
	)

	flags := append(backendFlags(), modelsFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "output-dir",
			Usage:       "directory for converted edge artifacts (default: models dir)",
			Destination: &outputDir,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the model and conversion API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr)
			root, err := resolveModelsDir(modelsDir)
			if err != nil {
				return err
			}

			a := newApp(fileConfig)
			if tag := backendName; tag != "" {
				a.selector.SetDefault(backend.Normalize(tag))
			}
			server := api.NewServer(api.Config{
				ModelsDir: root,
				OutputDir: outputDir,
				Selector:  a.selector,
				Registry:  a.registry,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "models", root, "backend", a.selector.Default())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
