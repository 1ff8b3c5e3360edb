package storage

import (
	"errors"
	"fmt"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Migrate moves the authoritative residency to target and reports whether
// anything changed.
//
// Host to accelerator allocates (or reuses) device memory and uploads the
// host array. Accelerator to host downloads into the host array. Moving
// between two accelerators goes through the host. On failure the buffer
// stays on its original device.
func (b *Buffer) Migrate(target tensor.Device) (bool, error) {
	if b.device.Equal(target) {
		return false, nil
	}
	if err := b.acquire("migrate"); err != nil {
		return false, err
	}
	defer b.Unlock()

	var (
		stale accel.Memory
		err   error
	)
	switch {
	case b.device.IsHost():
		stale, err = b.upload(target)
	case target.IsHost():
		err = b.download()
	default:
		if err = b.download(); err == nil {
			stale, err = b.upload(target)
		}
	}
	if err != nil {
		return false, fmt.Errorf("migrate %s -> %s: %w", b.device, target, err)
	}
	b.device = target

	if stale != nil {
		if err := b.release(stale); err != nil {
			return true, fmt.Errorf("migrate: release device %d memory: %w", stale.Ordinal(), err)
		}
	}
	return true, nil
}

// ToHost migrates the buffer to host memory.
func (b *Buffer) ToHost() error {
	_, err := b.Migrate(tensor.HostDevice())
	return err
}

// ToDevice migrates the buffer to device.
func (b *Buffer) ToDevice(device tensor.Device) error {
	_, err := b.Migrate(device)
	return err
}

// upload copies the host array into device memory on target, reusing the
// cached allocation when it already lives there. It returns the allocation
// it replaced, which the caller releases once the move is committed.
func (b *Buffer) upload(target tensor.Device) (accel.Memory, error) {
	mem := b.dev
	fresh := mem == nil || mem.Ordinal() != target.Ordinal
	if fresh {
		var err error
		if mem, err = b.malloc(target.Ordinal); err != nil {
			return nil, err
		}
	}

	err := b.onDevice(target.Ordinal, func() error {
		return b.driver.CopyHostToDevice(mem, b.host)
	})
	if err != nil {
		if fresh {
			if relErr := b.release(mem); relErr != nil {
				return nil, errors.Join(err, relErr)
			}
		}
		return nil, err
	}

	var stale accel.Memory
	if fresh {
		stale = b.dev
	}
	b.dev = mem
	return stale, nil
}

// download refreshes the host array from device memory.
func (b *Buffer) download() error {
	if b.dev == nil {
		return fmt.Errorf("buffer %d has no device memory: %w", b.id, tensor.ErrStructuralInvariant)
	}
	return b.onDevice(b.dev.Ordinal(), func() error {
		return b.driver.CopyDeviceToHost(b.host, b.dev)
	})
}
