package ops

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/autodiff"
)

// Split divides the columns of its input into two outputs: left takes
// the first columns, right the rest.
//
// Backward pass:
//   - dx[:, :k] += dLeft
//   - dx[:, k:] += dRight
//
// Both outputs must receive their gradient before the unit fires.
type Split struct {
	input       autodiff.TensorKey
	left, right autodiff.TensorKey
}

// NewSplit creates a two-output Split unit.
func NewSplit(input, left, right autodiff.TensorKey) *Split {
	return &Split{input: input, left: left, right: right}
}

// Name returns "split".
func (op *Split) Name() string { return "split" }

// Inputs returns [x].
func (op *Split) Inputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.input} }

// Outputs returns [left, right].
func (op *Split) Outputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.left, op.right} }

// Parameters returns nil.
func (op *Split) Parameters() []autodiff.TensorKey { return nil }

// Forward copies the two column ranges.
func (op *Split) Forward(ctx autodiff.Context) error {
	m, err := data(ctx, op.input, op.left, op.right)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	return ctx.Backend().SplitCols(m[1], m[2], m[0])
}

// Backward concatenates dLeft and dRight into dx.
func (op *Split) Backward(ctx autodiff.Context) error {
	g, err := grads(ctx, op.input, op.left, op.right)
	if err != nil {
		return fmt.Errorf("split backward: %w", err)
	}
	if g[0].Data == nil {
		return nil
	}
	return ctx.Backend().SplitColsBackward(g[0], g[1], g[2])
}
