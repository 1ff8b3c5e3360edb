package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/sapphire/internal/inspect"
	"github.com/born-ml/sapphire/internal/logger"
)

func trainCmd() *cli.Command {
	var (
		opts     trainOptions
		snapshot string
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Train the demo two-layer regression model",
		Flags: append(trainFlags(&opts),
			&cli.StringFlag{
				Name:        "snapshot",
				Usage:       "write the final model snapshot as JSON to this file",
				Destination: &snapshot,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := loaded
			applyTrainFlags(cmd, &cfg, opts)

			res, err := train(ctx, cfg, log, nil)
			if err != nil {
				return err
			}
			fmt.Printf("epochs: %d  first loss: %.6f  final loss: %.6f\n",
				res.Epochs, res.FirstLoss, res.FinalLoss)

			if snapshot == "" {
				return nil
			}
			f, err := os.Create(snapshot)
			if err != nil {
				return fmt.Errorf("create snapshot: %w", err)
			}
			defer f.Close()
			if err := inspect.Encode(f, res.Snapshot); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			log.Info("snapshot written", "path", snapshot)
			return nil
		},
	}
}
