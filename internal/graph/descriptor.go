package graph

import (
	"github.com/born-ml/sapphire/internal/autodiff"
	"github.com/born-ml/sapphire/internal/storage"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Tensor is a handle to a descriptor registered in a Model. It is a plain
// value; copying it never copies data.
type Tensor struct {
	key autodiff.TensorKey
}

// Handle wraps an existing key.
func Handle(key autodiff.TensorKey) Tensor {
	return Tensor{key: key}
}

// Key returns the descriptor key.
func (t Tensor) Key() autodiff.TensorKey { return t.key }

// Valid reports whether t refers to a key at all.
func (t Tensor) Valid() bool { return t.key != autodiff.NoTensor }

// String implements fmt.Stringer.
func (t Tensor) String() string { return t.key.String() }

// Descriptor is the model-side record of a tensor: its forward buffer, an
// optional backward (gradient) buffer of identical geometry, and its
// history ledger.
type Descriptor struct {
	key       autodiff.TensorKey
	owner     int
	shape     tensor.Shape
	batchSize int
	dtype     tensor.DataType
	layout    tensor.Layout
	home      tensor.Device
	trainable bool
	preserve  bool

	forward  *storage.Buffer
	backward *storage.Buffer // nil for tensors without a gradient
	history  autodiff.Ledger
}

// Key returns the descriptor key.
func (d *Descriptor) Key() autodiff.TensorKey { return d.key }

// Shape returns a copy of the shape.
func (d *Descriptor) Shape() tensor.Shape { return d.shape.Clone() }

// BatchSize returns the batch size.
func (d *Descriptor) BatchSize() int { return d.batchSize }

// DataType returns the element type.
func (d *Descriptor) DataType() tensor.DataType { return d.dtype }

// Layout returns the storage layout.
func (d *Descriptor) Layout() tensor.Layout { return d.layout }

// Home returns the device the tensor was registered on.
func (d *Descriptor) Home() tensor.Device { return d.home }

// Device returns where the forward data currently lives.
func (d *Descriptor) Device() tensor.Device { return d.forward.Device() }

// Trainable reports whether the tensor is a parameter.
func (d *Descriptor) Trainable() bool { return d.trainable }

// Preserved reports whether the tensor survives ClearGraph.
func (d *Descriptor) Preserved() bool { return d.preserve || d.trainable }

// Forward returns the forward buffer.
func (d *Descriptor) Forward() *storage.Buffer { return d.forward }

// Backward returns the gradient buffer, or nil.
func (d *Descriptor) Backward() *storage.Buffer { return d.backward }

// History returns the tensor's ledger.
func (d *Descriptor) History() *autodiff.Ledger { return &d.history }

// buffers returns the forward buffer and, when present, the backward buffer.
func (d *Descriptor) buffers() []*storage.Buffer {
	if d.backward == nil {
		return []*storage.Buffer{d.forward}
	}
	return []*storage.Buffer{d.forward, d.backward}
}

// DescriptorOption configures tensor registration.
type DescriptorOption func(*descriptorConfig)

type descriptorConfig struct {
	dtype    tensor.DataType
	preserve bool
	noGrad   bool
}

// Preserve keeps a non-trainable tensor (an input or a label) alive
// across ClearGraph.
func Preserve() DescriptorOption {
	return func(c *descriptorConfig) { c.preserve = true }
}

// WithoutGradient registers the tensor without a backward buffer.
func WithoutGradient() DescriptorOption {
	return func(c *descriptorConfig) { c.noGrad = true }
}

// WithDataType sets the element type (default Float32).
func WithDataType(dt tensor.DataType) DescriptorOption {
	return func(c *descriptorConfig) { c.dtype = dt }
}
