package ops

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/autodiff"
)

// ReLU represents a ReLU (Rectified Linear Unit) activation: y = max(0, x).
//
// Backward pass:
//   - d(ReLU(x))/dx = 1 if x > 0, else 0
type ReLU struct {
	input  autodiff.TensorKey
	output autodiff.TensorKey
}

// NewReLU creates a ReLU unit.
func NewReLU(input, output autodiff.TensorKey) *ReLU {
	return &ReLU{input: input, output: output}
}

// Name returns "relu".
func (op *ReLU) Name() string { return "relu" }

// Inputs returns [x].
func (op *ReLU) Inputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.input} }

// Outputs returns [y].
func (op *ReLU) Outputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.output} }

// Parameters returns nil.
func (op *ReLU) Parameters() []autodiff.TensorKey { return nil }

// Forward computes y = max(0, x).
func (op *ReLU) Forward(ctx autodiff.Context) error {
	m, err := data(ctx, op.input, op.output)
	if err != nil {
		return fmt.Errorf("relu: %w", err)
	}
	return ctx.Backend().ReLU(m[1], m[0])
}

// Backward accumulates dy into dx where x > 0.
func (op *ReLU) Backward(ctx autodiff.Context) error {
	return activationBackward(ctx, "relu", op.input, op.output, 0)
}

// LeakyReLU is ReLU with a small slope for negative inputs:
// y = x if x > 0, else slope * x.
type LeakyReLU struct {
	input  autodiff.TensorKey
	output autodiff.TensorKey
	slope  float32
}

// NewLeakyReLU creates a LeakyReLU unit.
func NewLeakyReLU(input, output autodiff.TensorKey, slope float32) *LeakyReLU {
	return &LeakyReLU{input: input, output: output, slope: slope}
}

// Name returns "leaky_relu".
func (op *LeakyReLU) Name() string { return "leaky_relu" }

// Inputs returns [x].
func (op *LeakyReLU) Inputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.input} }

// Outputs returns [y].
func (op *LeakyReLU) Outputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.output} }

// Parameters returns nil.
func (op *LeakyReLU) Parameters() []autodiff.TensorKey { return nil }

// Slope returns the negative-side slope.
func (op *LeakyReLU) Slope() float32 { return op.slope }

// Forward computes the leaky activation.
func (op *LeakyReLU) Forward(ctx autodiff.Context) error {
	m, err := data(ctx, op.input, op.output)
	if err != nil {
		return fmt.Errorf("leaky relu: %w", err)
	}
	return ctx.Backend().LeakyReLU(m[1], m[0], op.slope)
}

// Backward accumulates dy (or slope * dy) into dx.
func (op *LeakyReLU) Backward(ctx autodiff.Context) error {
	return activationBackward(ctx, "leaky relu", op.input, op.output, op.slope)
}

func activationBackward(ctx autodiff.Context, name string, input, output autodiff.TensorKey, slope float32) error {
	x, err := data(ctx, input)
	if err != nil {
		return fmt.Errorf("%s backward: %w", name, err)
	}
	g, err := grads(ctx, output, input)
	if err != nil {
		return fmt.Errorf("%s backward: %w", name, err)
	}
	if g[1].Data == nil {
		return nil
	}
	return ctx.Backend().LeakyReLUBackward(g[1], g[0], x[0], slope)
}
