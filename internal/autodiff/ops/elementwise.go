package ops

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/autodiff"
)

// Add represents element-wise addition with broadcasting: y = a + b.
//
// Backward pass:
//   - da += dy, summed over dimensions a was broadcast along
//   - db += dy, likewise
//
// a and b may be the same tensor; it then receives both contributions.
type Add struct {
	a, b   autodiff.TensorKey
	output autodiff.TensorKey
}

// NewAdd creates an Add unit.
func NewAdd(a, b, output autodiff.TensorKey) *Add {
	return &Add{a: a, b: b, output: output}
}

// Name returns "add".
func (op *Add) Name() string { return "add" }

// Inputs returns [a, b].
func (op *Add) Inputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.a, op.b} }

// Outputs returns [y].
func (op *Add) Outputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.output} }

// Parameters returns nil.
func (op *Add) Parameters() []autodiff.TensorKey { return nil }

// Forward computes y = a + b.
func (op *Add) Forward(ctx autodiff.Context) error {
	m, err := data(ctx, op.a, op.b, op.output)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return ctx.Backend().Add(m[2], m[0], m[1])
}

// Backward accumulates dy into da and db.
func (op *Add) Backward(ctx autodiff.Context) error {
	g, err := grads(ctx, op.output, op.a, op.b)
	if err != nil {
		return fmt.Errorf("add backward: %w", err)
	}
	be := ctx.Backend()
	for _, d := range g[1:] {
		if d.Data == nil {
			continue
		}
		if err := be.Accumulate(d, g[0], 1); err != nil {
			return fmt.Errorf("add backward: %w", err)
		}
	}
	return nil
}

// Mul represents element-wise multiplication with broadcasting: y = a * b.
//
// Backward pass:
//   - da += dy * b
//   - db += dy * a
type Mul struct {
	a, b   autodiff.TensorKey
	output autodiff.TensorKey
}

// NewMul creates a Mul unit.
func NewMul(a, b, output autodiff.TensorKey) *Mul {
	return &Mul{a: a, b: b, output: output}
}

// Name returns "mul".
func (op *Mul) Name() string { return "mul" }

// Inputs returns [a, b].
func (op *Mul) Inputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.a, op.b} }

// Outputs returns [y].
func (op *Mul) Outputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.output} }

// Parameters returns nil.
func (op *Mul) Parameters() []autodiff.TensorKey { return nil }

// Forward computes y = a * b.
func (op *Mul) Forward(ctx autodiff.Context) error {
	m, err := data(ctx, op.a, op.b, op.output)
	if err != nil {
		return fmt.Errorf("mul: %w", err)
	}
	return ctx.Backend().Mul(m[2], m[0], m[1])
}

// Backward accumulates dy * b into da and dy * a into db.
func (op *Mul) Backward(ctx autodiff.Context) error {
	m, err := data(ctx, op.a, op.b)
	if err != nil {
		return fmt.Errorf("mul backward: %w", err)
	}
	g, err := grads(ctx, op.output, op.a, op.b)
	if err != nil {
		return fmt.Errorf("mul backward: %w", err)
	}
	dy, da, db := g[0], g[1], g[2]
	be := ctx.Backend()
	if da.Data != nil {
		if err := be.AccumulateProduct(da, dy, m[1], 1); err != nil {
			return fmt.Errorf("mul backward: %w", err)
		}
	}
	if db.Data != nil {
		if err := be.AccumulateProduct(db, dy, m[0], 1); err != nil {
			return fmt.Errorf("mul backward: %w", err)
		}
	}
	return nil
}
