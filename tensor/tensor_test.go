// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sapphire/tensor"
)

func TestNewGeometry(t *testing.T) {
	g, err := tensor.NewGeometry(tensor.Shape{2, 3, 5}, 1, tensor.Float32, tensor.DefaultAlignment)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Batch)
	assert.Equal(t, 8, g.PaddedRows)
	assert.Equal(t, 8, g.PaddedCols)
}

func TestNewGeometry_Mismatch(t *testing.T) {
	_, err := tensor.NewGeometry(tensor.Shape{2, 3}, 0, tensor.Float32, tensor.DefaultAlignment)
	assert.True(t, errors.Is(err, tensor.ErrMismatch))
}

func TestDevices(t *testing.T) {
	assert.True(t, tensor.HostDevice().IsHost())
	d := tensor.AcceleratorDevice(1, "sim")
	assert.Equal(t, tensor.Accelerator, d.Kind)
	assert.True(t, d.Equal(tensor.AcceleratorDevice(1, "")))
}
