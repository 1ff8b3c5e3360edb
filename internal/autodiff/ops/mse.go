package ops

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/autodiff"
)

// MSE is the mean squared error loss: loss = mean((x - label)²).
//
// The label receives no gradient and is not an input of the unit. Forward
// seeds the loss gradient with 1, so a backward pass may start from the
// loss directly.
//
// Backward pass:
//   - dx += dLoss * 2 * (x - label) / n
type MSE struct {
	input  autodiff.TensorKey
	label  autodiff.TensorKey
	output autodiff.TensorKey
}

// NewMSE creates an MSE unit. output must be a single-cell tensor.
func NewMSE(input, label, output autodiff.TensorKey) *MSE {
	return &MSE{input: input, label: label, output: output}
}

// Name returns "mse".
func (op *MSE) Name() string { return "mse" }

// Label returns the label tensor.
func (op *MSE) Label() autodiff.TensorKey { return op.label }

// Inputs returns [x].
func (op *MSE) Inputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.input} }

// Outputs returns [loss].
func (op *MSE) Outputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.output} }

// Parameters returns nil.
func (op *MSE) Parameters() []autodiff.TensorKey { return nil }

// Forward computes the loss and seeds its gradient with 1.
func (op *MSE) Forward(ctx autodiff.Context) error {
	m, err := data(ctx, op.input, op.label, op.output)
	if err != nil {
		return fmt.Errorf("mse: %w", err)
	}
	if err := ctx.Backend().MSE(m[2], m[0], m[1]); err != nil {
		return err
	}
	seed, err := ctx.BackwardBuffer(op.output)
	if err != nil || seed == nil {
		return err
	}
	return seed.Fill(1)
}

// Backward accumulates the loss gradient into dx.
func (op *MSE) Backward(ctx autodiff.Context) error {
	m, err := data(ctx, op.input, op.label)
	if err != nil {
		return fmt.Errorf("mse backward: %w", err)
	}
	g, err := grads(ctx, op.output, op.input)
	if err != nil {
		return fmt.Errorf("mse backward: %w", err)
	}
	if g[1].Data == nil || g[0].Data == nil {
		return nil
	}
	return ctx.Backend().MSEBackward(g[1], g[0], m[0], m[1])
}
