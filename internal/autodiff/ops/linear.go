package ops

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/autodiff"
	"github.com/born-ml/sapphire/internal/optim"
)

// Linear is a fully connected layer: y = x @ W + b.
//
// x holds batch rows of in features, W is (in, out) and shared by every
// batch entry, b is (out) and optional.
//
// Backward pass:
//   - dx += dy @ Wᵀ
//   - dW = Σ_batch xᵀ @ dy
//   - db = Σ_batch dy
type Linear struct {
	input  autodiff.TensorKey
	weight autodiff.TensorKey
	bias   autodiff.TensorKey // NoTensor when the layer has no bias
	output autodiff.TensorKey
	opt    optim.Optimizer
}

// NewLinear creates a Linear unit. bias may be autodiff.NoTensor and opt may be nil.
func NewLinear(input, weight, bias, output autodiff.TensorKey, opt optim.Optimizer) *Linear {
	return &Linear{input: input, weight: weight, bias: bias, output: output, opt: opt}
}

// Name returns "linear".
func (op *Linear) Name() string { return "linear" }

// Inputs returns [x].
func (op *Linear) Inputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.input} }

// Outputs returns [y].
func (op *Linear) Outputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.output} }

// Parameters returns [W] or [W, b].
func (op *Linear) Parameters() []autodiff.TensorKey { return params(op.weight, op.bias) }

// Forward computes y = x @ W (+ b).
func (op *Linear) Forward(ctx autodiff.Context) error {
	m, err := data(ctx, op.input, op.weight, op.output)
	if err != nil {
		return fmt.Errorf("linear: %w", err)
	}
	x, w, y := m[0], m[1], m[2]
	be := ctx.Backend()
	if err := be.Gemm(y, x, w, false, false, 1, 0); err != nil {
		return fmt.Errorf("linear: %w", err)
	}
	if op.bias == autodiff.NoTensor {
		return nil
	}
	b, err := data(ctx, op.bias)
	if err != nil {
		return fmt.Errorf("linear: %w", err)
	}
	if err := be.Add(y, y, b[0]); err != nil {
		return fmt.Errorf("linear bias: %w", err)
	}
	return nil
}

// Backward accumulates dx and computes dW, db, stepping them when an
// optimizer is attached.
func (op *Linear) Backward(ctx autodiff.Context) error {
	if err := resetParamGrads(ctx, op.opt, op.Parameters()); err != nil {
		return fmt.Errorf("linear backward: %w", err)
	}
	m, err := data(ctx, op.input, op.weight)
	if err != nil {
		return fmt.Errorf("linear backward: %w", err)
	}
	x, w := m[0], m[1]
	g, err := grads(ctx, op.output, op.input, op.weight, op.bias)
	if err != nil {
		return fmt.Errorf("linear backward: %w", err)
	}
	dy, dx, dw, db := g[0], g[1], g[2], g[3]
	be := ctx.Backend()

	if dx.Data != nil {
		if err := be.Gemm(dx, dy, w, false, true, 1, 1); err != nil {
			return fmt.Errorf("linear backward dx: %w", err)
		}
	}
	if dw.Data != nil {
		if err := be.Gemm(dw, x, dy, true, false, 1, 1); err != nil {
			return fmt.Errorf("linear backward dW: %w", err)
		}
	}
	if db.Data != nil {
		if err := be.Accumulate(db, dy, 1); err != nil {
			return fmt.Errorf("linear backward db: %w", err)
		}
	}
	return step(ctx, op.opt, op.Parameters())
}
