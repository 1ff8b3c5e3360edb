package autodiff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/sapphire/internal/tensor"
)

// Frame is one history entry of a tensor.
//
// An output frame has Output set and names the producing unit and slot.
// An operand frame lists the consumer tensors whose gradients are still
// outstanding, in insertion order.
type Frame struct {
	Output  bool
	Unit    UnitKey
	Slot    int
	Pending []TensorKey
}

// Ready reports whether the frame allows gradient propagation.
func (f Frame) Ready() bool {
	return f.Output || len(f.Pending) == 0
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	if f.Output {
		return fmt.Sprintf("out(%s#%d)", f.Unit, f.Slot)
	}
	keys := make([]string, len(f.Pending))
	for i, k := range f.Pending {
		keys[i] = k.String()
	}
	return "operand{" + strings.Join(keys, ",") + "}"
}

// Ledger is the history stack of a single tensor. The zero value is empty.
type Ledger struct {
	frames []Frame
}

// Len returns the number of frames.
func (l *Ledger) Len() int {
	return len(l.frames)
}

// Empty reports whether the ledger holds no frames.
func (l *Ledger) Empty() bool {
	return len(l.frames) == 0
}

// Top returns a copy of the top frame.
func (l *Ledger) Top() (Frame, bool) {
	if len(l.frames) == 0 {
		return Frame{}, false
	}
	f := l.frames[len(l.frames)-1]
	f.Pending = slices.Clone(f.Pending)
	return f, true
}

// Frames returns a copy of every frame, bottom first.
func (l *Ledger) Frames() []Frame {
	out := make([]Frame, len(l.frames))
	for i, f := range l.frames {
		f.Pending = slices.Clone(f.Pending)
		out[i] = f
	}
	return out
}

// AppendOutput records that the tensor was produced by unit at slot.
func (l *Ledger) AppendOutput(unit UnitKey, slot int) {
	l.frames = append(l.frames, Frame{Output: true, Unit: unit, Slot: slot})
}

// AppendOperand records that consumer was produced from the tensor. Keys
// merge into the top operand frame; a new frame is opened when the ledger
// is empty or its top is an output frame.
func (l *Ledger) AppendOperand(consumer TensorKey) {
	if n := len(l.frames); n > 0 && !l.frames[n-1].Output {
		top := &l.frames[n-1]
		if !slices.Contains(top.Pending, consumer) {
			top.Pending = append(top.Pending, consumer)
		}
		return
	}
	l.frames = append(l.frames, Frame{Pending: []TensorKey{consumer}})
}

// RemoveOperand marks the gradient of consumer as merged. Removing a key
// that is not pending is a no-op.
func (l *Ledger) RemoveOperand(consumer TensorKey) error {
	n := len(l.frames)
	if n == 0 || l.frames[n-1].Output {
		return fmt.Errorf("remove operand %s: top frame is not an operand frame: %w",
			consumer, tensor.ErrStructuralInvariant)
	}
	top := &l.frames[n-1]
	if i := slices.Index(top.Pending, consumer); i >= 0 {
		top.Pending = slices.Delete(top.Pending, i, i+1)
	}
	return nil
}

// IsBackPropReady reports whether the tensor may propagate its gradient.
// It never mutates the ledger.
func (l *Ledger) IsBackPropReady() bool {
	if len(l.frames) == 0 {
		return false
	}
	return l.frames[len(l.frames)-1].Ready()
}

// PopOperandIfPresent pops the top frame if it is an operand frame and
// reports whether it did. Popping an operand frame that still has pending
// consumers is a structural error.
func (l *Ledger) PopOperandIfPresent() (bool, error) {
	n := len(l.frames)
	if n == 0 || l.frames[n-1].Output {
		return false, nil
	}
	if pending := l.frames[n-1].Pending; len(pending) > 0 {
		return false, fmt.Errorf("pop operand frame with %d pending consumers: %w",
			len(pending), tensor.ErrStructuralInvariant)
	}
	l.frames = l.frames[:n-1]
	return true, nil
}

// PopOutput pops the top output frame and returns it.
func (l *Ledger) PopOutput() (Frame, error) {
	n := len(l.frames)
	if n == 0 || !l.frames[n-1].Output {
		return Frame{}, fmt.Errorf("pop output frame: top frame is not an output frame: %w",
			tensor.ErrStructuralInvariant)
	}
	f := l.frames[n-1]
	l.frames = l.frames[:n-1]
	return f, nil
}

// Clear drops every frame.
func (l *Ledger) Clear() {
	l.frames = l.frames[:0]
}

// String implements fmt.Stringer.
func (l *Ledger) String() string {
	parts := make([]string, len(l.frames))
	for i, f := range l.frames {
		parts[i] = f.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
