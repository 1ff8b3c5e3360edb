// Package storage implements padded, aligned tensor buffers that can live in
// host memory or on an accelerator and migrate between the two.
//
// A Buffer always owns a host array. For accelerator buffers that array is
// the staging mirror; only the residency named by Device is authoritative.
// Structural operations (migration, copy, zeroing, loading, freeing) take
// the buffer's busy guard without blocking and fail with tensor.ErrBusy when
// it is already held.
package storage

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/tensor"
)

// NoOwner marks a buffer that belongs to no tensor descriptor.
const NoOwner = -1

// ErrReleased is returned by operations on a freed buffer.
var ErrReleased = errors.New("buffer released")

var nextID atomic.Uint64

// Buffer is one padded element array with host and device residencies.
type Buffer struct {
	id        uint64
	owner     int
	shape     tensor.Shape
	batchSize int
	dtype     tensor.DataType
	layout    tensor.Layout
	align     int
	geom      tensor.Geometry
	device    tensor.Device
	driver    accel.Driver

	host []byte
	dev  accel.Memory

	busy  atomic.Bool
	freed bool
}

// Option configures Allocate.
type Option func(*options)

type options struct {
	dtype  tensor.DataType
	layout tensor.Layout
	align  int
	driver accel.Driver
}

// WithDataType sets the element type (default Float32).
func WithDataType(dt tensor.DataType) Option {
	return func(o *options) { o.dtype = dt }
}

// WithLayout sets the storage layout (default Dense).
func WithLayout(l tensor.Layout) Option {
	return func(o *options) { o.layout = l }
}

// WithAlignment sets the byte alignment used for padding and the host base address.
func WithAlignment(bytes int) Option {
	return func(o *options) { o.align = bytes }
}

// WithDriver sets the accelerator driver. Required for accelerator devices
// and for any later migration to one.
func WithDriver(d accel.Driver) Option {
	return func(o *options) { o.driver = d }
}

// Spec is the resolved form of a set of Options.
type Spec struct {
	DataType  tensor.DataType
	Layout    tensor.Layout
	Alignment int
	Driver    accel.Driver
}

// Resolve applies opts over the defaults.
func Resolve(opts ...Option) Spec {
	o := options{dtype: tensor.Float32, layout: tensor.Dense, align: tensor.DefaultAlignment}
	for _, opt := range opts {
		opt(&o)
	}
	if o.align <= 0 {
		o.align = tensor.DefaultAlignment
	}
	return Spec{DataType: o.dtype, Layout: o.layout, Alignment: o.align, Driver: o.driver}
}

// Matches reports whether b could stand in for a fresh allocation of
// shape, batch size and device under spec.
func (b *Buffer) Matches(shape tensor.Shape, device tensor.Device, batchSize int, spec Spec) bool {
	return !b.freed &&
		b.shape.Equal(shape) &&
		b.batchSize == batchSize &&
		b.device.Equal(device) &&
		b.dtype == spec.DataType &&
		b.layout == spec.Layout &&
		b.align == spec.Alignment &&
		b.driver == spec.Driver
}

// Allocate creates a zeroed buffer for shape and batch size on device.
//
// Accelerator allocation failures are reported as *tensor.AllocationError;
// there is no silent fallback to host memory.
func Allocate(shape tensor.Shape, device tensor.Device, batchSize int, opts ...Option) (*Buffer, error) {
	o := Resolve(opts...)
	if o.Layout == tensor.Sparse {
		return nil, fmt.Errorf("allocate sparse buffer: %w", tensor.ErrNotImplemented)
	}

	geom, err := tensor.NewGeometry(shape, batchSize, o.DataType, o.Alignment)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	b := &Buffer{
		id:        nextID.Add(1),
		owner:     NoOwner,
		shape:     shape.Clone(),
		batchSize: batchSize,
		dtype:     o.DataType,
		layout:    o.Layout,
		align:     o.Alignment,
		geom:      geom,
		device:    device,
		driver:    o.Driver,
		host:      alignedBytes(geom.Len()*o.DataType.Size(), o.Alignment),
	}

	if !device.IsHost() {
		mem, err := b.malloc(device.Ordinal)
		if err != nil {
			return nil, err
		}
		b.dev = mem
	}
	return b, nil
}

// AllocateLike creates a zeroed buffer with b's shape, batch, type, layout,
// alignment, device and driver.
func AllocateLike(b *Buffer) (*Buffer, error) {
	return Allocate(b.shape, b.device, b.batchSize,
		WithDataType(b.dtype), WithLayout(b.layout), WithAlignment(b.align), WithDriver(b.driver))
}

// ID returns a process-unique buffer identifier.
func (b *Buffer) ID() uint64 { return b.id }

// Owner returns the owning descriptor key, or NoOwner.
func (b *Buffer) Owner() int { return b.owner }

// SetOwner records the owning descriptor key.
func (b *Buffer) SetOwner(key int) { b.owner = key }

// Shape returns a copy of the logical shape.
func (b *Buffer) Shape() tensor.Shape { return b.shape.Clone() }

// BatchSize returns the batch size the buffer was allocated with.
func (b *Buffer) BatchSize() int { return b.batchSize }

// DataType returns the element type.
func (b *Buffer) DataType() tensor.DataType { return b.dtype }

// Layout returns the storage layout.
func (b *Buffer) Layout() tensor.Layout { return b.layout }

// Alignment returns the byte alignment.
func (b *Buffer) Alignment() int { return b.align }

// Geometry returns the padded layout.
func (b *Buffer) Geometry() tensor.Geometry { return b.geom }

// Len returns the padded element count.
func (b *Buffer) Len() int { return b.geom.Len() }

// Bytes returns the padded byte size of one residency.
func (b *Buffer) Bytes() int { return b.geom.Len() * b.dtype.Size() }

// Device returns the authoritative residency.
func (b *Buffer) Device() tensor.Device { return b.device }

// Driver returns the accelerator driver, which may be nil for host-only buffers.
func (b *Buffer) Driver() accel.Driver { return b.driver }

// Released reports whether Free has been called.
func (b *Buffer) Released() bool { return b.freed }

// TryLock acquires the busy guard without blocking.
func (b *Buffer) TryLock() bool {
	return b.busy.CompareAndSwap(false, true)
}

// Unlock releases the busy guard.
func (b *Buffer) Unlock() {
	b.busy.Store(false)
}

// Busy reports whether the guard is currently held.
func (b *Buffer) Busy() bool {
	return b.busy.Load()
}

// Zero clears every element of the authoritative residency.
func (b *Buffer) Zero() error {
	if err := b.acquire("zero"); err != nil {
		return err
	}
	defer b.Unlock()

	if b.device.IsHost() {
		clear(b.host)
		return nil
	}
	return b.onDevice(b.device.Ordinal, func() error {
		return b.driver.Zero(b.dev)
	})
}

// Free releases host and device memory. A busy buffer is left untouched.
func (b *Buffer) Free() error {
	if !b.TryLock() {
		return fmt.Errorf("free buffer %d: %w", b.id, tensor.ErrBusy)
	}
	defer b.Unlock()
	if b.freed {
		return nil
	}

	var err error
	if b.dev != nil {
		err = b.release(b.dev)
		b.dev = nil
	}
	b.host = nil
	b.freed = true
	return err
}

// acquire takes the busy guard and checks the buffer is usable.
func (b *Buffer) acquire(op string) error {
	if b.layout == tensor.Sparse {
		return fmt.Errorf("%s: %w", op, tensor.ErrNotImplemented)
	}
	if !b.TryLock() {
		return fmt.Errorf("%s buffer %d: %w", op, b.id, tensor.ErrBusy)
	}
	if b.freed {
		b.Unlock()
		return fmt.Errorf("%s buffer %d: %w", op, b.id, ErrReleased)
	}
	return nil
}

// onDevice pins the goroutine to its OS thread, selects ordinal and runs fn.
func (b *Buffer) onDevice(ordinal int, fn func() error) error {
	if b.driver == nil {
		return fmt.Errorf("no accelerator driver configured: %w", accel.ErrUnavailable)
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := b.driver.SetDevice(ordinal); err != nil {
		return err
	}
	return fn()
}

func (b *Buffer) malloc(ordinal int) (accel.Memory, error) {
	var mem accel.Memory
	err := b.onDevice(ordinal, func() error {
		var err error
		mem, err = b.driver.Malloc(b.Bytes())
		return err
	})
	if err != nil {
		return nil, &tensor.AllocationError{
			Device: tensor.AcceleratorDevice(ordinal, ""),
			Bytes:  b.Bytes(),
			Err:    err,
		}
	}
	return mem, nil
}

func (b *Buffer) release(mem accel.Memory) error {
	return b.onDevice(mem.Ordinal(), func() error {
		return b.driver.Free(mem)
	})
}

// alignedBytes returns n zeroed bytes whose first element sits on an align boundary.
func alignedBytes(n, align int) []byte {
	if n == 0 {
		return nil
	}
	raw := make([]byte, n+align)
	off := 0
	//nolint:gosec // address arithmetic only, no pointer is formed from the integer
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % uintptr(align)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+n : off+n]
}
