//go:build webgpu

package accel

import (
	"fmt"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
)

const hasWebGPU = true

type webgpuMemory struct {
	buffer *wgpu.Buffer
	bytes  int
}

func (m *webgpuMemory) Ordinal() int { return 0 }
func (m *webgpuMemory) Bytes() int   { return m.bytes }

// WebGPUDriver exposes the default high-performance adapter as device 0.
// Storage buffers are not host-mappable, so transfers go through staging
// buffers.
type WebGPUDriver struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
}

func newWebGPU() (drv Driver, err error) {
	defer func() {
		if r := recover(); r != nil {
			drv = nil
			err = fmt.Errorf("webgpu: native library not available: %v: %w", r, ErrUnavailable)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue: %w", ErrUnavailable)
	}

	return &WebGPUDriver{instance: instance, adapter: adapter, device: device, queue: queue}, nil
}

func (d *WebGPUDriver) Name() string     { return WebGPU }
func (d *WebGPUDriver) DeviceCount() int { return 1 }

func (d *WebGPUDriver) DeviceName(ordinal int) (string, error) {
	if err := checkOrdinal(d, ordinal); err != nil {
		return "", err
	}
	return "webgpu-0", nil
}

// SetDevice only validates the ordinal: a WebGPU device is bound to its queue.
func (d *WebGPUDriver) SetDevice(ordinal int) error {
	return checkOrdinal(d, ordinal)
}

func (d *WebGPUDriver) Malloc(bytes int) (Memory, error) {
	if bytes <= 0 {
		return nil, fmt.Errorf("webgpu: alloc size %d must be > 0", bytes)
	}
	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  uint64(bytes),
	})
	if buffer == nil {
		return nil, fmt.Errorf("webgpu: %d bytes: %w", bytes, ErrOutOfMemory)
	}
	mem := &webgpuMemory{buffer: buffer, bytes: bytes}
	if err := d.Zero(mem); err != nil {
		buffer.Release()
		return nil, err
	}
	return mem, nil
}

func (d *WebGPUDriver) Free(m Memory) error {
	mem, err := d.resolve(m)
	if err != nil {
		return err
	}
	mem.buffer.Release()
	mem.buffer = nil
	return nil
}

func (d *WebGPUDriver) Zero(m Memory) error {
	mem, err := d.resolve(m)
	if err != nil {
		return err
	}
	return d.upload(mem, make([]byte, mem.bytes))
}

func (d *WebGPUDriver) CopyHostToDevice(dst Memory, src []byte) error {
	mem, err := d.resolve(dst)
	if err != nil || len(src) == 0 {
		return err
	}
	if len(src) > mem.bytes {
		return fmt.Errorf("webgpu: upload of %d bytes into %d byte allocation", len(src), mem.bytes)
	}
	return d.upload(mem, src)
}

func (d *WebGPUDriver) CopyDeviceToHost(dst []byte, src Memory) error {
	mem, err := d.resolve(src)
	if err != nil || len(dst) == 0 {
		return err
	}
	if len(dst) > mem.bytes {
		return fmt.Errorf("webgpu: download of %d bytes from %d byte allocation", len(dst), mem.bytes)
	}
	size := uint64(len(dst))

	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(mem.buffer, 0, staging, 0, size)
	d.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: failed to map staging buffer: %w", err)
	}
	mapped := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(dst, unsafe.Slice((*byte)(mapped), size))
	staging.Unmap()
	return nil
}

func (d *WebGPUDriver) CopyDeviceToDevice(dst, src Memory) error {
	dm, err := d.resolve(dst)
	if err != nil {
		return err
	}
	sm, err := d.resolve(src)
	if err != nil {
		return err
	}
	if sm.bytes > dm.bytes {
		return fmt.Errorf("webgpu: device copy of %d bytes into %d byte allocation", sm.bytes, dm.bytes)
	}
	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(sm.buffer, 0, dm.buffer, 0, uint64(sm.bytes))
	d.queue.Submit(encoder.Finish(nil))
	return nil
}

func (d *WebGPUDriver) Close() error {
	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
	return nil
}

// upload writes data through a mapped-at-creation staging buffer.
func (d *WebGPUDriver) upload(mem *webgpuMemory, data []byte) error {
	size := uint64(len(data))
	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	defer staging.Release()

	mapped := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mapped), size), data)
	staging.Unmap()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, mem.buffer, 0, size)
	d.queue.Submit(encoder.Finish(nil))
	return nil
}

func (d *WebGPUDriver) resolve(m Memory) (*webgpuMemory, error) {
	mem, ok := m.(*webgpuMemory)
	if !ok || mem == nil {
		return nil, fmt.Errorf("webgpu: foreign memory handle %T", m)
	}
	if mem.buffer == nil {
		return nil, ErrFreed
	}
	return mem, nil
}
