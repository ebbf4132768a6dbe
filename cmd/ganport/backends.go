package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ganport/internal/backend/plugin"
	"github.com/samcharles93/ganport/internal/backend/ref"
	"github.com/samcharles93/ganport/internal/logger"
)

func backendsCmd() *cli.Command {
	var check bool

	return &cli.Command{
		Name:  "backends",
		Usage: "List known backends, their plugin paths and availability",
		Flags: append(backendFlags(),
			&cli.BoolFlag{
				Name:        "check",
				Usage:       "load every present backend and report its kernels",
				Destination: &check,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyBackendConfig(cmd, fileConfig)
			a := newApp(fileConfig)
			w := cmd.Root().Writer
			if w == nil {
				w = os.Stdout
			}
			writeBackends(ctx, w, a, check)
			return nil
		},
	}
}

func writeBackends(ctx context.Context, w io.Writer, a *app, check bool) {
	log := logger.FromContext(ctx)
	def := a.selector.Default()

	var rows [][]string
	for _, av := range a.registry.Available() {
		kernels := ""
		if check && av.Present {
			h, err := a.registry.Load(ctx, av.Tag)
			if err != nil {
				log.Warn("backend failed to load", "backend", av.Tag, "err", err)
				kernels = "load failed"
			} else {
				kernels = strings.Join(h.Backend.Kernels(), ",")
				if kernels == "" {
					kernels = "none"
				}
			}
		}
		rows = append(rows, []string{
			av.Tag.String(),
			yesNo(av.Tag == def),
			yesNo(av.Builtin),
			yesNo(av.Present),
			kernels,
			av.Path,
		})
	}
	renderTable(w, []string{"BACKEND", "DEFAULT", "BUILTIN", "PRESENT", "KERNELS", "PATH"}, rows)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "plugin dir:  %s\n", a.registry.Dir())
	_, _ = fmt.Fprintf(w, "fingerprint: %s\n", plugin.Fingerprint())
	_, _ = fmt.Fprintf(w, "host cpu:    %s\n", ref.Fingerprint())
}
