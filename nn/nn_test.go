// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sapphire/autodiff"
	"github.com/born-ml/sapphire/backend/accel"
	"github.com/born-ml/sapphire/nn"
	"github.com/born-ml/sapphire/optim"
	"github.com/born-ml/sapphire/tensor"
)

func TestPublicAPI_ReLUMean(t *testing.T) {
	m := autodiff.New(autodiff.NewResources(autodiff.WithPool(4)), autodiff.WithName("public"))
	defer func() { require.NoError(t, m.Reset()) }()

	x, err := m.RegisterTensorDescriptor(tensor.Shape{4}, tensor.Dense, tensor.HostDevice(), 1, false, autodiff.Preserve())
	require.NoError(t, err)
	require.NoError(t, m.Load(x, []float32{-1, 2, -3, 4}))

	y, err := nn.ReLU(m, x)
	require.NoError(t, err)
	loss, err := nn.Mean(m, y, 0)
	require.NoError(t, err)

	v, err := m.Data(loss)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v[0], 1e-6)

	require.NoError(t, m.SeedGradient(loss, 1))
	require.NoError(t, m.BackProp(loss))

	dx, err := m.Gradient(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 0.25, 0, 0.25}, dx, 1e-6)
}

func TestPublicAPI_LayerWithOptimizer(t *testing.T) {
	m := autodiff.New(nil)
	defer func() { require.NoError(t, m.Reset()) }()

	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1})
	fc, err := nn.NewLinear(m, 3, 2, nn.LayerConfig{Bias: true, Optimizer: opt, Rand: nn.NewRand(7)})
	require.NoError(t, err)
	assert.Len(t, fc.Parameters(), 2)

	before, err := m.Data(fc.Weight())
	require.NoError(t, err)
	before = append([]float32(nil), before...)

	x, err := m.RegisterTensorDescriptor(tensor.Shape{3}, tensor.Dense, tensor.HostDevice(), 2, false,
		autodiff.Preserve(), autodiff.WithoutGradient())
	require.NoError(t, err)
	require.NoError(t, m.Load(x, []float32{1, 2, 3, 4, 5, 6}))
	label, err := m.RegisterTensorDescriptor(tensor.Shape{2}, tensor.Dense, tensor.HostDevice(), 2, false,
		autodiff.Preserve(), autodiff.WithoutGradient())
	require.NoError(t, err)
	require.NoError(t, m.Load(label, []float32{10, -10, 10, -10}))

	y, err := fc.Forward(x)
	require.NoError(t, err)
	loss, err := nn.MSE(m, y, label)
	require.NoError(t, err)
	require.NoError(t, m.BackProp(loss))

	after, err := m.Data(fc.Weight())
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestPublicAPI_AcceleratorRoundTrip(t *testing.T) {
	drv := accel.NewSim(1, 0)
	defer drv.Close()

	gpu := tensor.AcceleratorDevice(0, accel.Sim)
	m := autodiff.New(autodiff.NewResources(autodiff.WithDriver(drv)), autodiff.WithAccelerator(gpu))
	defer func() { require.NoError(t, m.Reset()) }()

	x, err := m.RegisterTensorDescriptor(tensor.Shape{2, 3, 5}, tensor.Dense, tensor.HostDevice(), 1, false)
	require.NoError(t, err)
	require.NoError(t, nn.Ones(m, x))

	require.NoError(t, m.ToDevice(x))
	d, err := m.Descriptor(x)
	require.NoError(t, err)
	assert.True(t, d.Device().Equal(gpu))
	assert.Equal(t, 128, d.Forward().Len())

	require.NoError(t, m.ToHost(x))
	v, err := m.Data(x)
	require.NoError(t, err)
	require.Len(t, v, 30)
	for _, f := range v {
		assert.Equal(t, float32(1), f)
	}
}
