package main

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sapphire/internal/config"
	"github.com/born-ml/sapphire/internal/inspect"
	"github.com/born-ml/sapphire/internal/logger"
)

type setFlags map[string]bool

func (s setFlags) IsSet(name string) bool { return s[name] }

func TestApplyTrainFlagsOnlyOverridesSetFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Train.Epochs = 7
	cfg.Train.Optimizer = config.OptimizerAdam

	o := trainOptions{epochs: 3, learningRate: 0.5, batchSize: 4, optimizer: config.OptimizerSGD, seed: 9}
	applyTrainFlags(setFlags{"lr": true, "seed": true}, &cfg, o)

	assert.Equal(t, 7, cfg.Train.Epochs)
	assert.Equal(t, config.OptimizerAdam, cfg.Train.Optimizer)
	assert.InDelta(t, 0.5, cfg.Train.LearningRate, 1e-12)
	assert.Equal(t, uint64(9), cfg.Train.Seed)
	assert.Equal(t, config.Default().Train.BatchSize, cfg.Train.BatchSize)
}

func TestApplyDeviceFlags(t *testing.T) {
	cfg := config.Default()
	device, ordinal, driver = config.DeviceAccelerator, 1, "sim"
	t.Cleanup(func() { device, ordinal, driver = config.DeviceHost, 0, "sim" })

	applyDeviceFlags(setFlags{"device": true, "ordinal": true}, &cfg)
	assert.Equal(t, config.DeviceAccelerator, cfg.Device)
	assert.Equal(t, 1, cfg.Ordinal)
}

func TestApplyGlobalFlagsDebug(t *testing.T) {
	cfg := config.Default()
	debug = true
	t.Cleanup(func() { debug = false })

	applyGlobalFlags(setFlags{}, &cfg)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.Default().Log.Format, cfg.Log.Format)
}

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Train.Epochs = 5
	cfg.Train.BatchSize = 4
	cfg.Train.InputSize = 6
	cfg.Train.OutputSize = 2
	cfg.Train.LogEvery = 2
	cfg.Train.CleanEvery = 2
	return cfg
}

func TestTrainOnHost(t *testing.T) {
	cfg := smallConfig()
	pub := inspect.NewPublisher()

	res, err := train(context.Background(), cfg, logger.Discard(), pub)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Epochs)
	assert.False(t, math.IsNaN(float64(res.FinalLoss)))
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, 5, res.Snapshot.Step)
	// Four parameters plus the preserved input and label survive ClearGraph.
	assert.Len(t, res.Snapshot.Tensors, 6)
	assert.Empty(t, res.Snapshot.Units)

	latest := pub.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, res.Snapshot.ID, latest.ID)
}

func TestTrainParksParametersOnAccelerator(t *testing.T) {
	cfg := smallConfig()
	cfg.Device = config.DeviceAccelerator
	cfg.Sim.Devices = 2
	cfg.Ordinal = 1
	cfg.Train.Optimizer = config.OptimizerAdam

	res, err := train(context.Background(), cfg, logger.Discard(), nil)
	require.NoError(t, err)

	home := cfg.Placement().String()
	trainable := 0
	for _, tn := range res.Snapshot.Tensors {
		if !tn.Trainable {
			assert.Equal(t, "host", tn.Device)
			continue
		}
		trainable++
		assert.Equal(t, home, tn.Device)
		assert.Equal(t, home, tn.Home)
	}
	assert.Equal(t, 4, trainable)
}

func TestTrainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := train(ctx, smallConfig(), logger.Discard(), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Train.Optimizer = "rmsprop"

	_, err := train(context.Background(), cfg, logger.Discard(), nil)
	require.Error(t, err)
}

func TestVersionString(t *testing.T) {
	old := commit
	t.Cleanup(func() { commit = old })

	commit = ""
	assert.Equal(t, version, versionString())
	commit = "0123456789abcdef"
	assert.Equal(t, version+" (0123456789ab)", versionString())
}
