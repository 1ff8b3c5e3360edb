package main

import (
	"github.com/urfave/cli/v3"

	"github.com/born-ml/sapphire/internal/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	debug      bool

	device  string
	ordinal int
	driver  string
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Value:       config.DefaultPath(),
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "device",
			Usage:       "where parameters live (host, accelerator)",
			Value:       config.DeviceHost,
			Destination: &device,
		},
		&cli.IntFlag{
			Name:        "ordinal",
			Usage:       "accelerator ordinal",
			Destination: &ordinal,
		},
		&cli.StringFlag{
			Name:        "driver",
			Usage:       "accelerator driver (sim, cuda, webgpu, none)",
			Value:       "sim",
			Destination: &driver,
		},
	}
}

// trainOptions are the train and serve flags.
type trainOptions struct {
	epochs       int
	learningRate float64
	batchSize    int
	inputSize    int
	outputSize   int
	cleanEvery   int
	logEvery     int
	optimizer    string
	seed         int64
}

func trainFlags(o *trainOptions) []cli.Flag {
	d := config.Default().Train
	return append(deviceFlags(),
		&cli.IntFlag{
			Name:        "epochs",
			Aliases:     []string{"e"},
			Usage:       "number of training epochs",
			Value:       d.Epochs,
			Destination: &o.epochs,
		},
		&cli.Float64Flag{
			Name:        "lr",
			Aliases:     []string{"learning-rate"},
			Usage:       "optimizer learning rate",
			Value:       d.LearningRate,
			Destination: &o.learningRate,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "samples per batch",
			Value:       d.BatchSize,
			Destination: &o.batchSize,
		},
		&cli.IntFlag{
			Name:        "input-size",
			Usage:       "input features",
			Value:       d.InputSize,
			Destination: &o.inputSize,
		},
		&cli.IntFlag{
			Name:        "output-size",
			Usage:       "output features",
			Value:       d.OutputSize,
			Destination: &o.outputSize,
		},
		&cli.IntFlag{
			Name:        "clean-every",
			Usage:       "collect released buffers every N epochs",
			Value:       d.CleanEvery,
			Destination: &o.cleanEvery,
		},
		&cli.IntFlag{
			Name:        "log-every",
			Usage:       "log the loss every N epochs",
			Value:       d.LogEvery,
			Destination: &o.logEvery,
		},
		&cli.StringFlag{
			Name:        "optimizer",
			Usage:       "optimizer (sgd, adam)",
			Value:       d.Optimizer,
			Destination: &o.optimizer,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed for data and initialization",
			Value:       int64(d.Seed),
			Destination: &o.seed,
		},
	)
}
