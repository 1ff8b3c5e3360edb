package autodiff

import (
	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/storage"
)

// Context gives a unit access to the buffers behind its keys while it runs.
type Context interface {
	// ForwardBuffer returns the forward buffer of key.
	ForwardBuffer(key TensorKey) (*storage.Buffer, error)

	// BackwardBuffer returns the backward buffer of key, or nil when key carries no
	// gradient (for example a label).
	BackwardBuffer(key TensorKey) (*storage.Buffer, error)

	// Backend returns the kernel backend.
	Backend() *cpu.Backend
}

// Unit is a differentiable operation bound to tensor keys.
//
// Forward computes every output from the inputs and parameters. Backward
// reads the output gradients and accumulates into the gradients of inputs
// and parameters; units that own an optimizer also step their parameters.
// Backward runs at most once per unit, after every output slot has
// received its gradient.
type Unit interface {
	// Name returns a short operation name such as "linear".
	Name() string

	// Inputs returns the tensors gradients flow back to, one per operand
	// position. A key may repeat.
	Inputs() []TensorKey

	// Outputs returns the produced tensors in slot order.
	Outputs() []TensorKey

	// Parameters returns trainable tensors the unit updates itself.
	Parameters() []TensorKey

	Forward(ctx Context) error
	Backward(ctx Context) error
}

// Distinct returns keys with repeats removed, preserving first occurrence.
func Distinct(keys []TensorKey) []TensorKey {
	out := make([]TensorKey, 0, len(keys))
	seen := make(map[TensorKey]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
