package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/export"
	"github.com/samcharles93/ganport/internal/graph"
)

func savedModelCmd() *cli.Command {
	var (
		force bool
		sets  []string
	)

	flags := append(backendFlags(), checkpointFlags()...)
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "force",
			Aliases:     []string{"f"},
			Usage:       "replace outdir if it already exists",
			Destination: &force,
		},
		&cli.StringSliceFlag{
			Name:        "set",
			Usage:       "override a network argument (key=value, repeatable)",
			Destination: &sets,
		},
	)

	return &cli.Command{
		Name:      "savedmodel",
		Usage:     "Export a generator checkpoint as an interchange artifact",
		ArgsUsage: "<checkpoint> <outdir>",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("savedmodel: expected <checkpoint> <outdir>, got %d arguments", cmd.Args().Len())
			}
			applyBackendConfig(cmd, fileConfig)
			src, outDir := cmd.Args().Get(0), cmd.Args().Get(1)

			overrides, err := graph.ParseAssignments(sets)
			if err != nil {
				return fmt.Errorf("savedmodel: %w", err)
			}

			a := newApp(fileConfig)
			b, err := a.loader.Load(ctx, src)
			if err != nil {
				return err
			}
			res, err := a.exporter().Export(ctx, b, export.Options{
				OutDir:    outDir,
				Overrides: overrides,
				Backend:   backend.Normalize(backendName),
				Overwrite: force,
			})
			if err != nil {
				return err
			}
			fmt.Printf("exported %s to %s\n", b.Name, res.Dir)
			fmt.Printf("  id:         %s\n", res.ID)
			fmt.Printf("  backend:    %s (%s)\n", res.Backend, res.PluginPath)
			fmt.Printf("  signatures: %v\n", res.Signatures)
			fmt.Printf("  variables:  %d\n", res.Variables)
			fmt.Printf("  elapsed:    %s\n", res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
}
