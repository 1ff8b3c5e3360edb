// Package autodiff holds the reverse-mode differentiation bookkeeping of a
// graph: the per-tensor history ledger and the contract every differentiable
// operation (unit) implements.
//
// A tensor's ledger is a stack of frames. An output frame records that the
// tensor was produced by a unit at a given output slot. An operand frame
// records the tensors that were produced from this tensor and whose
// gradients have not yet been merged back. A tensor is ready to propagate
// its gradient once its top frame is an output frame or an empty operand
// frame.
//
// Units and tensors refer to each other by key only; the graph owns the
// descriptors and buffers behind the keys.
package autodiff

import "fmt"

// TensorKey identifies a tensor descriptor within one graph.
type TensorKey int

// UnitKey identifies a registered unit within one graph.
type UnitKey int

// NoTensor and NoUnit are the zero keys; graphs hand out keys starting at 1.
const (
	NoTensor TensorKey = 0
	NoUnit   UnitKey   = 0
)

// String implements fmt.Stringer.
func (k TensorKey) String() string {
	return fmt.Sprintf("t%d", int(k))
}

// String implements fmt.Stringer.
func (k UnitKey) String() string {
	return fmt.Sprintf("u%d", int(k))
}
