// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package autodiff

import (
	"github.com/born-ml/sapphire/internal/autodiff"
	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/graph"
	"github.com/born-ml/sapphire/internal/logger"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Model is the graph registry.
type Model = graph.Model

// Tensor is a handle to a descriptor of a Model.
type Tensor = graph.Tensor

// Descriptor is the metadata and storage behind a Tensor.
type Descriptor = graph.Descriptor

// UnitInfo describes a registered unit that has not fired yet.
type UnitInfo = graph.UnitInfo

// Unit is a differentiable operation bound to tensor keys. Implement it
// to add operations; register with Model.Apply.
type Unit = autodiff.Unit

// Context gives a unit access to the buffers behind its keys.
type Context = autodiff.Context

// TensorKey and UnitKey identify descriptors and units within one Model.
type (
	TensorKey = autodiff.TensorKey
	UnitKey   = autodiff.UnitKey
)

// Ledger is the history of one tensor.
type Ledger = autodiff.Ledger

// Frame is one entry of a Ledger.
type Frame = autodiff.Frame

// Logger is the structured logger a Model writes to.
type Logger = logger.Logger

// Graph errors. Both unknown-key errors wrap tensor.ErrStructuralInvariant.
var (
	ErrUnknownTensor = graph.ErrUnknownTensor
	ErrUnknownUnit   = graph.ErrUnknownUnit
	ErrNoGradient    = graph.ErrNoGradient
)

// Option configures a Model.
type Option = graph.Option

// DescriptorOption configures a registered descriptor.
type DescriptorOption = graph.DescriptorOption

// New creates a Model allocating through res. A nil res gets a private
// host-only manager.
func New(res *Resources, opts ...Option) *Model {
	return graph.New(res, opts...)
}

// WithName sets the model name used in logs and snapshots.
func WithName(name string) Option { return graph.WithName(name) }

// WithLogger sets the logger.
func WithLogger(l Logger) Option { return graph.WithLogger(l) }

// WithBackend sets the kernel backend.
func WithBackend(be *cpu.Backend) Option { return graph.WithBackend(be) }

// WithAccelerator sets the accelerator ToDevice uses for host-registered
// tensors.
func WithAccelerator(d tensor.Device) Option { return graph.WithAccelerator(d) }

// Preserve keeps a non-trainable tensor alive across ClearGraph.
func Preserve() DescriptorOption { return graph.Preserve() }

// WithoutGradient registers a tensor without a backward buffer.
func WithoutGradient() DescriptorOption { return graph.WithoutGradient() }

// WithDataType sets the element type of a descriptor.
func WithDataType(dt tensor.DataType) DescriptorOption { return graph.WithDataType(dt) }

// Handle returns the Tensor for key.
func Handle(key TensorKey) Tensor { return graph.Handle(key) }
