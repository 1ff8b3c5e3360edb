package main

import (
	"github.com/urfave/cli/v3"

	"github.com/born-ml/sapphire/internal/config"
)

// flagSetter reports whether a flag was given on the command line.
type flagSetter interface {
	IsSet(name string) bool
}

var _ flagSetter = (*cli.Command)(nil)

// applyGlobalFlags overrides config values with explicitly set global flags.
func applyGlobalFlags(c flagSetter, cfg *config.Config) {
	if c.IsSet("log-level") {
		cfg.Log.Level = logLevel
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = logFormat
	}
	if debug {
		cfg.Log.Level = "debug"
	}
}

// applyDeviceFlags overrides the device placement with explicitly set flags.
func applyDeviceFlags(c flagSetter, cfg *config.Config) {
	if c.IsSet("device") {
		cfg.Device = device
	}
	if c.IsSet("ordinal") {
		cfg.Ordinal = ordinal
	}
	if c.IsSet("driver") {
		cfg.Driver = driver
	}
}

// applyTrainFlags overrides the train section with explicitly set flags.
func applyTrainFlags(c flagSetter, cfg *config.Config, o trainOptions) {
	applyDeviceFlags(c, cfg)
	t := &cfg.Train
	if c.IsSet("epochs") {
		t.Epochs = o.epochs
	}
	if c.IsSet("lr") {
		t.LearningRate = o.learningRate
	}
	if c.IsSet("batch-size") {
		t.BatchSize = o.batchSize
	}
	if c.IsSet("input-size") {
		t.InputSize = o.inputSize
	}
	if c.IsSet("output-size") {
		t.OutputSize = o.outputSize
	}
	if c.IsSet("clean-every") {
		t.CleanEvery = o.cleanEvery
	}
	if c.IsSet("log-every") {
		t.LogEvery = o.logEvery
	}
	if c.IsSet("optimizer") {
		t.Optimizer = o.optimizer
	}
	if c.IsSet("seed") {
		t.Seed = uint64(o.seed) //nolint:gosec // seed bits are reinterpreted, not range checked
	}
}
