// Package optim implements parameter update rules for trainable tensors.
//
// This package provides:
//   - Optimizer interface: per-parameter update called from backward passes
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Units that own trainable parameters call Step once per parameter after
// accumulating its gradient. Optimizer state (velocities, moments) is
// keyed by the parameter buffer's ID, so one optimizer may serve several
// units.
//
// Example usage:
//
//	opt := optim.NewAdam(optim.AdamConfig{LR: 0.001})
//	y, err := nn.Linear(m, x, w, b, opt)
//	loss, err := nn.MSE(m, y, label)
//	err = m.BackProp(loss) // steps w and b
package optim

import (
	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/storage"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Optimizer updates one parameter from its accumulated gradient.
//
// All optimizers must implement:
//   - Step: Apply the gradient to the parameter in place
//   - GetLR / SetLR: Learning rate access for monitoring and scheduling
type Optimizer interface {
	// Step applies grad to param. Both buffers must share geometry;
	// only logical cells are read or written.
	Step(param, grad *storage.Buffer) error

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR updates the learning rate.
	SetLR(lr float32)
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// views returns padded views of a parameter and its gradient after
// checking that they line up.
func views(op string, param, grad *storage.Buffer) (p, g cpu.Matrix, err error) {
	if !param.Shape().Equal(grad.Shape()) || param.BatchSize() != grad.BatchSize() {
		return p, g, tensor.Mismatch(op, "shape", param.Shape(), grad.Shape())
	}
	if p, err = cpu.View(param); err != nil {
		return p, g, err
	}
	g, err = cpu.View(grad)
	return p, g, err
}

// eachCell calls f with the padded offset of every logical cell of m.
func eachCell(m cpu.Matrix, f func(i int)) {
	for b := 0; b < m.Batch; b++ {
		for r := 0; r < m.Rows; r++ {
			base := m.Index(b, r, 0)
			for c := 0; c < m.Cols; c++ {
				f(base + c)
			}
		}
	}
}
