// Package accel defines the accelerator driver contract used by storage
// buffers and provides the drivers compiled into this build.
//
// Every driver exposes a process-wide "current device" that must be
// selected with SetDevice before any allocation or copy, mirroring how
// accelerator runtimes bind a device to the calling thread.
package accel

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Driver names accepted by Open.
const (
	Sim    = "sim"
	CUDA   = "cuda"
	WebGPU = "webgpu"
	None   = "none"
)

var (
	// ErrOutOfMemory is returned when a device cannot satisfy an allocation.
	ErrOutOfMemory = errors.New("accelerator out of memory")
	// ErrWrongDevice is returned when memory is used while another device is current.
	ErrWrongDevice = errors.New("memory belongs to a different device")
	// ErrUnavailable is returned when a driver is not compiled in or has no devices.
	ErrUnavailable = errors.New("accelerator unavailable")
	// ErrFreed is returned when memory is used after Free.
	ErrFreed = errors.New("accelerator memory already freed")
)

// Memory is an opaque device allocation.
type Memory interface {
	// Ordinal is the device the memory was allocated on.
	Ordinal() int
	// Bytes is the allocation size.
	Bytes() int
}

// Driver moves bytes between host memory and accelerator memory.
type Driver interface {
	Name() string
	DeviceCount() int
	DeviceName(ordinal int) (string, error)

	// SetDevice selects the device subsequent calls operate on.
	SetDevice(ordinal int) error

	Malloc(bytes int) (Memory, error)
	Free(m Memory) error
	Zero(m Memory) error

	CopyHostToDevice(dst Memory, src []byte) error
	CopyDeviceToHost(dst []byte, src Memory) error
	CopyDeviceToDevice(dst, src Memory) error

	Close() error
}

// Mapper is implemented by drivers whose device memory is addressable
// from the host, such as unified-memory or simulated devices.
type Mapper interface {
	Map(m Memory) ([]byte, error)
}

// Options configure a driver at Open time.
type Options struct {
	// Devices is the number of simulated devices (sim only).
	Devices int
	// CapacityBytes bounds each simulated device; 0 means unbounded (sim only).
	CapacityBytes int
}

// Open returns the named driver. The "none" driver returns (nil, nil):
// callers treat a nil driver as host-only operation.
func Open(name string, opts Options) (Driver, error) {
	switch strings.ToLower(name) {
	case "", Sim:
		return NewSim(opts.Devices, opts.CapacityBytes), nil
	case CUDA:
		return newCUDA()
	case WebGPU:
		return newWebGPU()
	case None:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown accelerator driver %q (available: %s)", name, Available())
	}
}

// Has reports whether the named driver is compiled into this build.
func Has(name string) bool {
	return slices.Contains(compiled(), strings.ToLower(name))
}

// Available returns a comma-separated list of drivers in this build.
func Available() string {
	return strings.Join(compiled(), ",")
}

func compiled() []string {
	entries := []string{Sim}
	if hasCUDA {
		entries = append(entries, CUDA)
	}
	if hasWebGPU {
		entries = append(entries, WebGPU)
	}
	return entries
}

func checkOrdinal(d Driver, ordinal int) error {
	if ordinal < 0 || ordinal >= d.DeviceCount() {
		return fmt.Errorf("%s: device %d out of range [0,%d): %w", d.Name(), ordinal, d.DeviceCount(), ErrUnavailable)
	}
	return nil
}
