package storage

import (
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/tensor"
)

func accelDev(ordinal int) tensor.Device {
	return tensor.AcceleratorDevice(ordinal, "sim")
}

func ones(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func seq(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i + 1)
	}
	return v
}

func TestAllocate_PaddedLengthAndAlignment(t *testing.T) {
	b, err := Allocate(tensor.Shape{2, 3, 5}, tensor.HostDevice(), 1)
	require.NoError(t, err)

	assert.Equal(t, 128, b.Len())
	assert.Equal(t, 512, b.Bytes())
	assert.Equal(t, NoOwner, b.Owner())

	data, err := b.Float32()
	require.NoError(t, err)
	assert.Len(t, data, 128)
	assert.Zero(t, uintptr(unsafe.Pointer(&data[0]))%32)
	for _, v := range data {
		assert.Zero(t, v)
	}
}

func TestAllocate_SparseNotImplemented(t *testing.T) {
	_, err := Allocate(tensor.Shape{4}, tensor.HostDevice(), 1, WithLayout(tensor.Sparse))
	assert.ErrorIs(t, err, tensor.ErrNotImplemented)

	_, err = DenseToSparse(nil)
	assert.ErrorIs(t, err, tensor.ErrNotImplemented)
	_, err = SparseToDense(nil)
	assert.ErrorIs(t, err, tensor.ErrNotImplemented)
}

func TestAllocate_AcceleratorWithoutDriver(t *testing.T) {
	_, err := Allocate(tensor.Shape{4}, accelDev(0), 1)
	assert.ErrorIs(t, err, tensor.ErrAllocation)
	assert.ErrorIs(t, err, accel.ErrUnavailable)
}

func TestAllocate_AcceleratorOutOfMemory(t *testing.T) {
	drv := accel.NewSim(1, 64)
	_, err := Allocate(tensor.Shape{3, 5}, accelDev(0), 1, WithDriver(drv))

	var allocErr *tensor.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.ErrorIs(t, err, accel.ErrOutOfMemory)
	assert.Equal(t, 256, allocErr.Bytes)
}

// Host -> accelerator -> host keeps the 30 logical ones of a (2,3,5) tensor.
func TestMigrate_RoundTripScenario(t *testing.T) {
	drv := accel.NewSim(1, 0)
	b, err := Allocate(tensor.Shape{2, 3, 5}, tensor.HostDevice(), 1, WithDriver(drv))
	require.NoError(t, err)
	require.NoError(t, b.Load(ones(30)))

	changed, err := b.Migrate(accelDev(0))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, tensor.Accelerator, b.Device().Kind)
	assert.Equal(t, 512, drv.Used(0))

	changed, err = b.Migrate(accelDev(0))
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, b.ToHost())
	assert.True(t, b.Device().IsHost())

	got, err := b.Values()
	require.NoError(t, err)
	assert.Equal(t, ones(30), got)
	assert.Equal(t, 128, b.Len())
	assert.False(t, b.Busy())
}

func TestMigrate_BetweenAccelerators(t *testing.T) {
	drv := accel.NewSim(2, 0)
	b, err := Allocate(tensor.Shape{3, 4}, accelDev(0), 1, WithDriver(drv))
	require.NoError(t, err)
	require.NoError(t, b.Load(seq(12)))

	require.NoError(t, b.ToDevice(accelDev(1)))
	assert.Equal(t, 1, b.Device().Ordinal)
	assert.Equal(t, 0, drv.Used(0))
	assert.Equal(t, b.Bytes(), drv.Used(1))

	got, err := b.Values()
	require.NoError(t, err)
	assert.Equal(t, seq(12), got)
}

func TestMigrate_ConcurrentOnDifferentDevices(t *testing.T) {
	if !accel.ThreadScopedDevices {
		t.Skip("sim device selection is process-wide on this platform")
	}
	drv := accel.NewSim(2, 0)
	a, err := Allocate(tensor.Shape{4, 4}, tensor.HostDevice(), 1, WithDriver(drv))
	require.NoError(t, err)
	require.NoError(t, a.Load(seq(16)))
	b, err := AllocateLike(a)
	require.NoError(t, err)
	require.NoError(t, b.Load(ones(16)))

	// Hold the first upload open while the second one runs to completion.
	entered := make(chan struct{})
	release := make(chan struct{})
	var held atomic.Bool
	drv.BeforeCopy = func() {
		if held.CompareAndSwap(false, true) {
			close(entered)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() { done <- a.ToDevice(accelDev(0)) }()
	<-entered

	require.NoError(t, b.ToDevice(accelDev(1)))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 0, a.Device().Ordinal)
	assert.Equal(t, 1, b.Device().Ordinal)
	assert.Equal(t, a.Bytes(), drv.Used(0))
	assert.Equal(t, b.Bytes(), drv.Used(1))

	got, err := a.Values()
	require.NoError(t, err)
	assert.Equal(t, seq(16), got)
	got, err = b.Values()
	require.NoError(t, err)
	assert.Equal(t, ones(16), got)
}

func TestMigrate_FailureKeepsOriginalDevice(t *testing.T) {
	drv := accel.NewSim(1, 16)
	b, err := Allocate(tensor.Shape{8, 8}, tensor.HostDevice(), 1, WithDriver(drv))
	require.NoError(t, err)
	require.NoError(t, b.Load(seq(64)))

	_, err = b.Migrate(accelDev(0))
	assert.ErrorIs(t, err, tensor.ErrAllocation)
	assert.True(t, b.Device().IsHost())
	assert.False(t, b.Busy())

	got, err := b.Values()
	require.NoError(t, err)
	assert.Equal(t, seq(64), got)
}

func TestMigrate_Busy(t *testing.T) {
	drv := accel.NewSim(1, 0)
	b, err := Allocate(tensor.Shape{4}, tensor.HostDevice(), 1, WithDriver(drv))
	require.NoError(t, err)

	require.True(t, b.TryLock())
	_, err = b.Migrate(accelDev(0))
	assert.ErrorIs(t, err, tensor.ErrBusy)
	b.Unlock()

	_, err = b.Migrate(accelDev(0))
	assert.NoError(t, err)
}

// Padding cells never leak into logical data, even when poisoned.
func TestLoad_PaddingTransparency(t *testing.T) {
	b, err := Allocate(tensor.Shape{3, 5}, tensor.HostDevice(), 1)
	require.NoError(t, err)

	data, err := b.Float32()
	require.NoError(t, err)
	for i := range data {
		data[i] = 999
	}
	require.NoError(t, b.Load(seq(15)))

	got, err := b.Values()
	require.NoError(t, err)
	assert.Equal(t, seq(15), got)
	assert.Equal(t, float32(999), data[5])
	assert.Equal(t, float32(6), data[8])
}

func TestLoad_WrongLength(t *testing.T) {
	b, err := Allocate(tensor.Shape{2, 2}, tensor.HostDevice(), 1)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Load(seq(3)), tensor.ErrMismatch)
}

func TestLoad_Float64(t *testing.T) {
	b, err := Allocate(tensor.Shape{2, 3}, tensor.HostDevice(), 2, WithDataType(tensor.Float64))
	require.NoError(t, err)
	require.NoError(t, b.Load(seq(12)))

	data, err := b.Float64()
	require.NoError(t, err)
	assert.Equal(t, 2*4*4, len(data))
	assert.Equal(t, 4.0, data[b.Geometry().Index(0, 1, 0)])

	_, err = b.Float32()
	assert.ErrorIs(t, err, tensor.ErrMismatch)
}

func TestCopyInto(t *testing.T) {
	drv := accel.NewSim(1, 0)
	for _, dev := range []tensor.Device{tensor.HostDevice(), accelDev(0)} {
		t.Run(dev.String(), func(t *testing.T) {
			src, err := Allocate(tensor.Shape{2, 5}, dev, 1, WithDriver(drv))
			require.NoError(t, err)
			dst, err := AllocateLike(src)
			require.NoError(t, err)
			require.NoError(t, src.Load(seq(10)))

			require.NoError(t, CopyInto(dst, src))
			got, err := dst.Values()
			require.NoError(t, err)
			assert.Equal(t, seq(10), got)
			assert.False(t, dst.Busy())
			assert.False(t, src.Busy())

			assert.NoError(t, CopyInto(src, src))
		})
	}
}

func TestCopyInto_MismatchLeavesDestination(t *testing.T) {
	drv := accel.NewSim(1, 0)
	dst, err := Allocate(tensor.Shape{2, 5}, tensor.HostDevice(), 1, WithDriver(drv))
	require.NoError(t, err)
	require.NoError(t, dst.Load(seq(10)))

	cases := map[string]func() (*Buffer, error){
		"shape": func() (*Buffer, error) {
			return Allocate(tensor.Shape{5, 2}, tensor.HostDevice(), 1)
		},
		"batch size": func() (*Buffer, error) {
			return Allocate(tensor.Shape{2, 5}, tensor.HostDevice(), 2)
		},
		"device": func() (*Buffer, error) {
			return Allocate(tensor.Shape{2, 5}, accelDev(0), 1, WithDriver(drv))
		},
		"data type": func() (*Buffer, error) {
			return Allocate(tensor.Shape{2, 5}, tensor.HostDevice(), 1, WithDataType(tensor.Float64))
		},
	}
	for field, mk := range cases {
		t.Run(field, func(t *testing.T) {
			src, err := mk()
			require.NoError(t, err)
			require.NoError(t, src.Fill(7))

			err = CopyInto(dst, src)
			var me *tensor.MismatchError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, field, me.Field)

			got, err := dst.Values()
			require.NoError(t, err)
			assert.Equal(t, seq(10), got)
		})
	}
}

// A copy in flight holds both guards; a concurrent copy fails fast with
// ErrBusy instead of interleaving, and the guards are free afterwards.
func TestCopyInto_BusyNonInterleaving(t *testing.T) {
	drv := accel.NewSim(1, 0)
	a, err := Allocate(tensor.Shape{4, 4}, accelDev(0), 1, WithDriver(drv))
	require.NoError(t, err)
	b, err := AllocateLike(a)
	require.NoError(t, err)
	c, err := AllocateLike(a)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	drv.BeforeCopy = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan error, 1)
	go func() { done <- CopyInto(a, b) }()
	<-entered

	assert.True(t, a.Busy())
	assert.True(t, b.Busy())
	assert.ErrorIs(t, CopyInto(c, a), tensor.ErrBusy)
	assert.ErrorIs(t, CopyInto(b, c), tensor.ErrBusy)
	assert.False(t, c.Busy())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, a.Busy())
	assert.False(t, b.Busy())
	assert.NoError(t, CopyInto(c, a))
}

func TestZero(t *testing.T) {
	drv := accel.NewSim(1, 0)
	b, err := Allocate(tensor.Shape{3, 3}, accelDev(0), 1, WithDriver(drv))
	require.NoError(t, err)
	require.NoError(t, b.Fill(2))
	require.NoError(t, b.Zero())

	got, err := b.Values()
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 9), got)
}

func TestFree(t *testing.T) {
	drv := accel.NewSim(1, 0)
	b, err := Allocate(tensor.Shape{3, 3}, accelDev(0), 1, WithDriver(drv))
	require.NoError(t, err)
	assert.NotZero(t, drv.Used(0))

	require.True(t, b.TryLock())
	assert.ErrorIs(t, b.Free(), tensor.ErrBusy)
	b.Unlock()

	require.NoError(t, b.Free())
	assert.True(t, b.Released())
	assert.Zero(t, drv.Used(0))
	assert.ErrorIs(t, b.Zero(), ErrReleased)
	assert.NoError(t, b.Free())
}

func TestReshape(t *testing.T) {
	drv := accel.NewSim(1, 0)
	b, err := Allocate(tensor.Shape{2, 6}, accelDev(0), 1, WithDriver(drv))
	require.NoError(t, err)
	require.NoError(t, b.Load(seq(12)))

	require.NoError(t, b.Reshape(tensor.Shape{3, 4}))
	assert.Equal(t, tensor.Shape{3, 4}, b.Shape())

	got, err := b.Values()
	require.NoError(t, err)
	assert.Equal(t, seq(12), got)

	assert.ErrorIs(t, b.Reshape(tensor.Shape{5}), tensor.ErrMismatch)
}

func TestFloat32_AcceleratorMappedView(t *testing.T) {
	drv := accel.NewSim(1, 0)
	b, err := Allocate(tensor.Shape{2, 2}, accelDev(0), 1, WithDriver(drv))
	require.NoError(t, err)
	require.NoError(t, b.Load([]float32{1, 2, 3, 4}))

	data, err := b.Float32()
	require.NoError(t, err)
	assert.Equal(t, float32(3), data[b.Geometry().Index(0, 1, 0)])
}
