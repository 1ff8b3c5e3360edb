package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/inspect"
	"github.com/born-ml/sapphire/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		opts        trainOptions
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Train the demo model while serving its snapshots over HTTP",
		Flags: append(trainFlags(&opts),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8321",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := loaded
			applyTrainFlags(cmd, &cfg, opts)
			if cmd.IsSet("addr") || cfg.Inspect.Address == "" {
				cfg.Inspect.Address = addr
			}

			// The devices route gets its own driver handle; training opens
			// and closes another.
			drv, err := accel.Open(cfg.Driver, accel.Options{
				Devices:       cfg.Sim.Devices,
				CapacityBytes: cfg.Sim.CapacityBytes,
			})
			if err != nil {
				return err
			}
			if drv != nil {
				defer drv.Close()
			}

			pub := inspect.NewPublisher()
			go func() {
				res, err := train(ctx, cfg, log, pub)
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Error("training failed", "error", err)
					return
				}
				log.Info("training done, still serving the last snapshot", "final_loss", res.FinalLoss)
			}()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			inspect.NewServer(pub, drv).Register(e)

			log.Info("starting inspection server", "address", cfg.Inspect.Address)
			sc := echo.StartConfig{
				Address: cfg.Inspect.Address,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
