package ops

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/autodiff"
	"github.com/born-ml/sapphire/internal/storage"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Mean averages its input along one shape dimension. The output keeps the
// reduced dimension with extent 1.
//
// Backward pass:
//   - dx += dy / n, broadcast along the reduced dimension of extent n
type Mean struct {
	input  autodiff.TensorKey
	output autodiff.TensorKey
	dim    int
}

// NewMean creates a Mean unit over shape dimension dim (batch excluded).
func NewMean(input, output autodiff.TensorKey, dim int) *Mean {
	return &Mean{input: input, output: output, dim: dim}
}

// MeanShape returns the output shape of a mean of shape along dim.
func MeanShape(shape tensor.Shape, dim int) (tensor.Shape, error) {
	if dim < 0 || dim >= len(shape) {
		return nil, tensor.Mismatch("mean", "dim", len(shape), dim)
	}
	out := shape.Clone()
	out[dim] = 1
	return out, nil
}

// Name returns "mean".
func (op *Mean) Name() string { return "mean" }

// Dim returns the reduced shape dimension.
func (op *Mean) Dim() int { return op.dim }

// Inputs returns [x].
func (op *Mean) Inputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.input} }

// Outputs returns [y].
func (op *Mean) Outputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.output} }

// Parameters returns nil.
func (op *Mean) Parameters() []autodiff.TensorKey { return nil }

// extent returns the logical dims of x with the batch size outermost.
func extent(x *storage.Buffer) []int {
	return append([]int{x.BatchSize()}, x.Shape()...)
}

// Forward computes y = mean(x, dim).
func (op *Mean) Forward(ctx autodiff.Context) error {
	xb, err := ctx.ForwardBuffer(op.input)
	if err != nil {
		return fmt.Errorf("mean: %w", err)
	}
	m, err := data(ctx, op.input, op.output)
	if err != nil {
		return fmt.Errorf("mean: %w", err)
	}
	return ctx.Backend().Mean(m[1], m[0], extent(xb), op.dim+1)
}

// Backward spreads dy / n over the reduced dimension of dx.
func (op *Mean) Backward(ctx autodiff.Context) error {
	xb, err := ctx.ForwardBuffer(op.input)
	if err != nil {
		return fmt.Errorf("mean backward: %w", err)
	}
	g, err := grads(ctx, op.output, op.input)
	if err != nil {
		return fmt.Errorf("mean backward: %w", err)
	}
	if g[1].Data == nil {
		return nil
	}
	return ctx.Backend().MeanBackward(g[1], g[0], extent(xb), op.dim+1)
}
