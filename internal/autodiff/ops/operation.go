// Package ops implements the differentiable units of a graph.
//
// Each unit binds tensor keys, never buffers: it resolves its buffers
// through the autodiff.Context it is run with, so the graph stays free to
// migrate or recycle storage between forward and backward.
//
// Supported units:
//   - Linear: y = x @ W + b (dx = dy @ Wᵀ, dW = Σ xᵀ @ dy, db = Σ dy)
//   - Add: y = a + b with broadcasting (da = Σ dy, db = Σ dy)
//   - Mul: y = a * b with broadcasting (da = Σ dy * b, db = Σ dy * a)
//   - ReLU, LeakyReLU: y = max(0, x) / leaky variant (dx = dy where x > 0, else slope * dy)
//   - Mean: y = mean(x) along one dimension (dx = dy / n)
//   - MSE: loss = mean((x - label)²) (dx = 2 (x - label) / n)
//   - Split: two outputs from a column split (dx = concat(dLeft, dRight))
//   - Conv2D: direct convolution with optional bias
//
// Units with trainable parameters may own an optim.Optimizer. Such units
// recompute their parameter gradients on every backward pass and step the
// parameters immediately; without an optimizer parameter gradients
// accumulate until cleared.
package ops

import (
	"github.com/born-ml/sapphire/internal/autodiff"
	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/optim"
)

// Compile-time checks that every unit satisfies autodiff.Unit.
var (
	_ autodiff.Unit = (*Linear)(nil)
	_ autodiff.Unit = (*Add)(nil)
	_ autodiff.Unit = (*Mul)(nil)
	_ autodiff.Unit = (*ReLU)(nil)
	_ autodiff.Unit = (*LeakyReLU)(nil)
	_ autodiff.Unit = (*Mean)(nil)
	_ autodiff.Unit = (*MSE)(nil)
	_ autodiff.Unit = (*Split)(nil)
	_ autodiff.Unit = (*Conv2D)(nil)
)

// data returns the forward views of keys.
func data(ctx autodiff.Context, keys ...autodiff.TensorKey) ([]cpu.Matrix, error) {
	out := make([]cpu.Matrix, len(keys))
	for i, k := range keys {
		b, err := ctx.ForwardBuffer(k)
		if err != nil {
			return nil, err
		}
		if out[i], err = cpu.View(b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// grad returns the gradient view of key. A key without a gradient yields a
// zero Matrix whose Data is nil.
func grad(ctx autodiff.Context, key autodiff.TensorKey) (cpu.Matrix, error) {
	if key == autodiff.NoTensor {
		return cpu.Matrix{}, nil
	}
	b, err := ctx.BackwardBuffer(key)
	if err != nil || b == nil {
		return cpu.Matrix{}, err
	}
	return cpu.View(b)
}

// grads returns the gradient views of keys.
func grads(ctx autodiff.Context, keys ...autodiff.TensorKey) ([]cpu.Matrix, error) {
	out := make([]cpu.Matrix, len(keys))
	for i, k := range keys {
		m, err := grad(ctx, k)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// params drops NoTensor entries from optional parameter slots.
func params(keys ...autodiff.TensorKey) []autodiff.TensorKey {
	out := make([]autodiff.TensorKey, 0, len(keys))
	for _, k := range keys {
		if k != autodiff.NoTensor {
			out = append(out, k)
		}
	}
	return out
}

// resetParamGrads zeroes parameter gradients before a unit that owns an
// optimizer recomputes them.
func resetParamGrads(ctx autodiff.Context, opt optim.Optimizer, keys []autodiff.TensorKey) error {
	if opt == nil {
		return nil
	}
	for _, k := range keys {
		g, err := ctx.BackwardBuffer(k)
		if err != nil {
			return err
		}
		if g == nil {
			continue
		}
		if err := g.Zero(); err != nil {
			return err
		}
	}
	return nil
}

// step applies opt to every parameter that has a gradient.
func step(ctx autodiff.Context, opt optim.Optimizer, keys []autodiff.TensorKey) error {
	if opt == nil {
		return nil
	}
	for _, k := range keys {
		p, err := ctx.ForwardBuffer(k)
		if err != nil {
			return err
		}
		g, err := ctx.BackwardBuffer(k)
		if err != nil {
			return err
		}
		if g == nil {
			continue
		}
		if err := opt.Step(p, g); err != nil {
			return err
		}
	}
	return nil
}
