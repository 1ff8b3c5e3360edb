package graph

import (
	"errors"
	"fmt"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/tensor"
)

// MoveTo migrates the forward and backward buffers of t to device. When
// the backward migration fails the forward buffer is moved back, so t
// never ends up split across devices.
func (m *Model) MoveTo(t Tensor, device tensor.Device) error {
	d, err := m.Descriptor(t)
	if err != nil {
		return err
	}
	from := d.forward.Device()
	if _, err := d.forward.Migrate(device); err != nil {
		return fmt.Errorf("move %s to %s: %w", t, device, err)
	}
	if d.backward == nil {
		return nil
	}
	if _, err := d.backward.Migrate(device); err != nil {
		if _, rerr := d.forward.Migrate(from); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return fmt.Errorf("move %s gradient to %s: %w", t, device, err)
	}
	return nil
}

// ToHost moves t to the host.
func (m *Model) ToHost(t Tensor) error {
	return m.MoveTo(t, tensor.HostDevice())
}

// ToDevice moves t to its home accelerator, or to the model's accelerator
// when t was registered on the host.
func (m *Model) ToDevice(t Tensor) error {
	d, err := m.Descriptor(t)
	if err != nil {
		return err
	}
	target := d.home
	if target.IsHost() {
		target = m.accel
	}
	if target.IsHost() {
		return fmt.Errorf("to device %s: no accelerator configured: %w", t, accel.ErrUnavailable)
	}
	return m.MoveTo(t, target)
}

// Load copies logical row-major values into the forward buffer of t.
func (m *Model) Load(t Tensor, values []float32) error {
	d, err := m.Descriptor(t)
	if err != nil {
		return err
	}
	return d.forward.Load(values)
}

// Data returns the logical values of t.
func (m *Model) Data(t Tensor) ([]float32, error) {
	d, err := m.Descriptor(t)
	if err != nil {
		return nil, err
	}
	return d.forward.Values()
}

// Gradient returns the logical gradient values of t.
func (m *Model) Gradient(t Tensor) ([]float32, error) {
	d, err := m.gradient(t)
	if err != nil {
		return nil, err
	}
	return d.backward.Values()
}

// LoadGradient copies logical values into the gradient of t.
func (m *Model) LoadGradient(t Tensor, values []float32) error {
	d, err := m.gradient(t)
	if err != nil {
		return err
	}
	return d.backward.Load(values)
}

// SeedGradient sets every logical gradient cell of t to v.
func (m *Model) SeedGradient(t Tensor, v float32) error {
	d, err := m.gradient(t)
	if err != nil {
		return err
	}
	return d.backward.Fill(v)
}

func (m *Model) gradient(t Tensor) (*Descriptor, error) {
	d, err := m.Descriptor(t)
	if err != nil {
		return nil, err
	}
	if d.backward == nil {
		return nil, fmt.Errorf("tensor %s: %w", t, ErrNoGradient)
	}
	return d, nil
}

// Reshape changes the shape of t keeping its logical values in row-major
// order. The new shape must hold the same number of elements.
func (m *Model) Reshape(t Tensor, shape tensor.Shape) error {
	d, err := m.Descriptor(t)
	if err != nil {
		return err
	}
	old := d.shape
	if err := d.forward.Reshape(shape); err != nil {
		return fmt.Errorf("reshape %s: %w", t, err)
	}
	if d.backward != nil {
		if err := d.backward.Reshape(shape); err != nil {
			if rerr := d.forward.Reshape(old); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return fmt.Errorf("reshape %s gradient: %w", t, err)
		}
	}
	d.shape = shape.Clone()
	return nil
}
