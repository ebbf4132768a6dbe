package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ganport/internal/edge"
)

func liteCmd() *cli.Command {
	var signature string

	return &cli.Command{
		Name:      "lite",
		Usage:     "Convert an interchange artifact into an edge artifact",
		ArgsUsage: "<indir> [name]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "signature",
				Aliases:     []string{"s"},
				Usage:       "signature to convert (default, mapping, synthesis)",
				Value:       edge.Default.String(),
				Destination: &signature,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 || cmd.Args().Len() > 2 {
				return fmt.Errorf("lite: expected <indir> [name], got %d arguments", cmd.Args().Len())
			}
			inDir := cmd.Args().Get(0)
			if _, err := os.Stat(inDir); err != nil {
				return fmt.Errorf("lite: input directory %s does not exist", inDir)
			}
			name, err := resolveLiteName(inDir, cmd.Args().Get(1))
			if err != nil {
				return err
			}

			res, err := edge.Convert(ctx, inDir, name, signature)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s (%s, %d nodes, %d constants, %d bytes)\n",
				res.Path, res.Kind, res.Nodes, res.Constants, res.Bytes)
			for _, in := range res.Inputs {
				fmt.Printf("  input  %-10s %s %v\n", in.Key, in.DType, in.ShapeSignature)
			}
			for _, out := range res.Outputs {
				fmt.Printf("  output %-10s %s %v\n", out.Key, out.DType, out.Shape)
			}
			return nil
		},
	}
}
