package graph

import (
	"errors"
)

// ClearGraph drops every unit and every tensor that is neither trainable
// nor preserved. Surviving tensors keep their data but lose their history.
// Buffers of dropped tensors stay allocated until Collect.
func (m *Model) ClearGraph() {
	units := len(m.units)
	clear(m.units)

	dropped := 0
	for key, d := range m.descriptors {
		if d.Preserved() {
			d.history.Clear()
			continue
		}
		m.retired[d.owner] = struct{}{}
		delete(m.descriptors, key)
		dropped++
	}
	m.log.Debug("cleared graph", "units", units, "tensors_dropped", dropped,
		"tensors_kept", len(m.descriptors))
}

// Collect releases the buffers of tensors dropped by ClearGraph, returning
// them to the manager's pool when it has one. Busy buffers are skipped and
// picked up by a later call.
func (m *Model) Collect() (int, error) {
	live := func(owner int) bool {
		_, dead := m.retired[owner]
		return !dead
	}
	n, err := m.res.ReleaseUnused(live)

	pending := make(map[int]struct{})
	for _, b := range m.res.Buffers() {
		if _, dead := m.retired[b.Owner]; dead {
			pending[b.Owner] = struct{}{}
		}
	}
	m.retired = pending

	m.log.Debug("collected buffers", "released", n, "pending", len(pending))
	return n, err
}

// Reset drops every tensor and unit and releases everything the resource
// manager holds. Keys are not reused afterwards.
func (m *Model) Reset() error {
	clear(m.units)
	clear(m.descriptors)
	clear(m.retired)
	err := m.res.ReleaseAll()
	m.log.Debug("reset model", "error", err)
	return err
}

// ZeroGradients zeroes the backward buffer of every tensor.
func (m *Model) ZeroGradients() error {
	var errs []error
	for _, d := range m.descriptors {
		if d.backward == nil {
			continue
		}
		if err := d.backward.Zero(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
