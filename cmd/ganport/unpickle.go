package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ganport/internal/checkpoint"
)

func unpickleCmd() *cli.Command {
	var bf16 bool

	return &cli.Command{
		Name:      "unpickle",
		Usage:     "Re-encode a pickled checkpoint as safetensors",
		ArgsUsage: "<checkpoint> <out.safetensors>",
		Flags: append(checkpointFlags(),
			&cli.BoolFlag{
				Name:        "bf16",
				Usage:       "store parameters as bfloat16",
				Destination: &bf16,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("unpickle: expected <checkpoint> <out.safetensors>, got %d arguments", cmd.Args().Len())
			}
			applyBackendConfig(cmd, fileConfig)
			b, err := checkpoint.NewLoader(cacheDir).Load(ctx, cmd.Args().Get(0))
			if err != nil {
				return err
			}
			enc := checkpoint.EncodeF32
			if bf16 {
				enc = checkpoint.EncodeBF16
			}
			out := cmd.Args().Get(1)
			if err := checkpoint.WriteSafetensors(b, out, enc); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d params, %s)\n", out, len(b.Params), enc)
			return nil
		},
	}
}
