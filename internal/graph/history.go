package graph

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/autodiff"
	"github.com/born-ml/sapphire/internal/tensor"
)

// AppendOutputHistory records that t was produced by unit at slot.
func (m *Model) AppendOutputHistory(t Tensor, unit autodiff.UnitKey, slot int) error {
	d, err := m.Descriptor(t)
	if err != nil {
		return err
	}
	d.history.AppendOutput(unit, slot)
	return nil
}

// AppendOperandHistory records consumer as an outstanding gradient of t.
func (m *Model) AppendOperandHistory(t, consumer Tensor) error {
	d, err := m.Descriptor(t)
	if err != nil {
		return err
	}
	d.history.AppendOperand(consumer.key)
	return nil
}

// RemoveOperand marks the gradient of consumer as merged into t.
func (m *Model) RemoveOperand(t, consumer Tensor) error {
	d, err := m.Descriptor(t)
	if err != nil {
		return err
	}
	if err := d.history.RemoveOperand(consumer.key); err != nil {
		return fmt.Errorf("tensor %s: %w", t, err)
	}
	return nil
}

// BackProp propagates gradients from root through the recorded history.
//
// The root's backward buffer is the seed; loss units seed it during their
// forward pass, otherwise set it with SeedGradient or LoadGradient first.
// Traversal uses an explicit worklist and stops at leaves and at tensors
// still waiting on gradients from other consumers. A unit fires once,
// after every one of its outputs has delivered its gradient.
func (m *Model) BackProp(root Tensor) error {
	if _, err := m.Descriptor(root); err != nil {
		return fmt.Errorf("backprop: %w", err)
	}

	var (
		work    = []autodiff.TensorKey{root.key}
		visited int
		fired   int
	)
	for len(work) > 0 {
		key := work[len(work)-1]
		work = work[:len(work)-1]
		visited++

		ok, err := m.backPropStep(key, &work)
		if err != nil {
			return fmt.Errorf("backprop from %s: %w", root, err)
		}
		if ok {
			fired++
		}
	}
	m.log.Debug("backprop finished", "root", root.key, "visited", visited, "fired", fired,
		"pending_units", len(m.units))
	return nil
}

// backPropStep processes one tensor of the worklist and reports whether a
// unit fired.
func (m *Model) backPropStep(key autodiff.TensorKey, work *[]autodiff.TensorKey) (bool, error) {
	d, err := m.lookup(key)
	if err != nil {
		return false, err
	}
	if !d.history.IsBackPropReady() {
		return false, nil
	}
	if _, err := d.history.PopOperandIfPresent(); err != nil {
		return false, fmt.Errorf("tensor %s: %w", key, err)
	}
	top, ok := d.history.Top()
	if !ok {
		return false, nil // leaf
	}
	if !top.Output {
		return false, fmt.Errorf("tensor %s: operand frame below operand frame: %w",
			key, tensor.ErrStructuralInvariant)
	}

	entry, ok := m.units[top.Unit]
	if !ok {
		return false, fmt.Errorf("tensor %s: unit %s: %w", key, top.Unit, ErrUnknownUnit)
	}
	if top.Slot < 0 || top.Slot >= len(entry.received) {
		return false, fmt.Errorf("tensor %s: slot %d of unit %s: %w",
			key, top.Slot, top.Unit, tensor.ErrStructuralInvariant)
	}
	entry.received[top.Slot] = true

	fire := entry.complete()
	if fire {
		if err := entry.unit.Backward(m); err != nil {
			return false, fmt.Errorf("%s backward: %w", entry.unit.Name(), err)
		}
	}
	if _, err := d.history.PopOutput(); err != nil {
		return false, fmt.Errorf("tensor %s: %w", key, err)
	}
	if !fire {
		return false, nil
	}

	outputs := entry.unit.Outputs()
	for _, in := range autodiff.Distinct(entry.unit.Inputs()) {
		inDesc, err := m.lookup(in)
		if err != nil {
			return false, err
		}
		for _, out := range outputs {
			if err := inDesc.history.RemoveOperand(out); err != nil {
				return false, fmt.Errorf("tensor %s: %w", in, err)
			}
		}
		*work = append(*work, in)
	}
	delete(m.units, top.Unit)
	return true, nil
}
