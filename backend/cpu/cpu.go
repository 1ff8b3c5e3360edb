// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/parallel"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.Backend

// Matrix is a padded float32 view of a storage buffer.
type Matrix = internalcpu.Matrix

// Conv2DParams are the stride, padding and dilation of a 2D convolution.
type Conv2DParams = internalcpu.Conv2DParams

// New creates a CPU backend with one worker per CPU.
func New() *Backend {
	return internalcpu.New(parallel.DefaultConfig())
}

// NewWithWorkers creates a CPU backend with n workers; n <= 1 runs every
// kernel on the calling goroutine.
func NewWithWorkers(n int) *Backend {
	return internalcpu.New(parallel.WithWorkers(n))
}
