// Package main provides the Sapphire CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/sapphire/internal/config"
	"github.com/born-ml/sapphire/internal/logger"
)

// loaded is the configuration file merged with the global flags. Command
// actions copy it and apply their own flags on top.
var loaded config.Config

func main() {
	app := &cli.Command{
		Name:   "sapphire",
		Usage:  "Tensor runtime with padded device storage and key-based autograd",
		Flags:  globalFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			trainCmd(),
			devicesCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup loads the config file and installs the logger in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return ctx, err
	}
	applyGlobalFlags(cmd, &cfg)
	loaded = cfg

	log, err := logger.NewFormat(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return ctx, err
	}
	log.Debug("configuration loaded", "path", configPath)
	return logger.WithContext(ctx, log), nil
}
