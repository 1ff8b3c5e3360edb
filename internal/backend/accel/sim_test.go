package accel

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockThread keeps the test goroutine on one OS thread so a device
// selection stays visible to the calls that follow it.
func lockThread(t *testing.T) {
	t.Helper()
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)
}

func TestSim_RoundTrip(t *testing.T) {
	lockThread(t)
	d := NewSim(2, 0)
	require.NoError(t, d.SetDevice(1))

	mem, err := d.Malloc(16)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Ordinal())
	assert.Equal(t, 16, d.Used(1))

	src := []byte("0123456789abcdef")
	require.NoError(t, d.CopyHostToDevice(mem, src))

	dst := make([]byte, 16)
	require.NoError(t, d.CopyDeviceToHost(dst, mem))
	assert.Equal(t, src, dst)

	require.NoError(t, d.Zero(mem))
	mapped, err := d.Map(mem)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), mapped)

	require.NoError(t, d.Free(mem))
	assert.Equal(t, 0, d.Used(1))
	assert.ErrorIs(t, d.Free(mem), ErrFreed)
}

func TestSim_EnforcesCurrentDevice(t *testing.T) {
	lockThread(t)
	d := NewSim(2, 0)
	require.NoError(t, d.SetDevice(0))
	mem, err := d.Malloc(8)
	require.NoError(t, err)

	require.NoError(t, d.SetDevice(1))
	assert.ErrorIs(t, d.CopyHostToDevice(mem, make([]byte, 8)), ErrWrongDevice)

	other, err := d.Malloc(8)
	require.NoError(t, err)
	assert.ErrorIs(t, d.CopyDeviceToDevice(other, mem), ErrWrongDevice)
}

func TestSim_CapacityExhaustion(t *testing.T) {
	lockThread(t)
	d := NewSim(1, 32)
	require.NoError(t, d.SetDevice(0))

	_, err := d.Malloc(24)
	require.NoError(t, err)
	_, err = d.Malloc(16)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestSim_OrdinalRange(t *testing.T) {
	d := NewSim(1, 0)
	assert.ErrorIs(t, d.SetDevice(3), ErrUnavailable)
	_, err := d.DeviceName(-1)
	assert.ErrorIs(t, err, ErrUnavailable)

	name, err := d.DeviceName(0)
	require.NoError(t, err)
	assert.Equal(t, "sim-0", name)
}

func TestOpen(t *testing.T) {
	drv, err := Open(Sim, Options{Devices: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, drv.DeviceCount())

	drv, err = Open(None, Options{})
	require.NoError(t, err)
	assert.Nil(t, drv)

	_, err = Open("tpu", Options{})
	assert.Error(t, err)

	assert.True(t, Has(Sim))
	assert.Contains(t, Available(), Sim)
}

func TestSim_SelectionIsPerThread(t *testing.T) {
	if !ThreadScopedDevices {
		t.Skip("device selection is process-wide on this platform")
	}
	lockThread(t)
	d := NewSim(2, 0)
	require.NoError(t, d.SetDevice(0))
	mem, err := d.Malloc(8)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := d.SetDevice(1); err != nil {
			done <- err
			return
		}
		other, err := d.Malloc(8)
		if err == nil && other.Ordinal() != 1 {
			err = ErrWrongDevice
		}
		done <- err
	}()
	require.NoError(t, <-done)

	assert.Equal(t, 0, d.Current())
	assert.NoError(t, d.CopyHostToDevice(mem, make([]byte, 8)))
}
