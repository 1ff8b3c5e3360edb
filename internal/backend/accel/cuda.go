//go:build cuda

package accel

/*
#cgo LDFLAGS: -lcudart

// Minimal CUDA runtime forward declarations to avoid requiring headers at compile time.
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemset(void* ptr, int value, unsigned long long size);
extern cudaError_t cudaMemcpy(void* dst, const void* src, unsigned long long size, int kind);
extern cudaError_t cudaDeviceSynchronize(void);

#define SAPPHIRE_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define SAPPHIRE_CUDA_MEMCPY_DEVICE_TO_HOST 2
#define SAPPHIRE_CUDA_MEMCPY_DEVICE_TO_DEVICE 3

static const char* sapphireCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int sapphireCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int sapphireCudaSetDevice(int device) {
	return (int)cudaSetDevice(device);
}

static int sapphireCudaMalloc(void** ptr, unsigned long long size) {
	return (int)cudaMalloc(ptr, size);
}

static int sapphireCudaFree(void* ptr) {
	return (int)cudaFree(ptr);
}

static int sapphireCudaMemset(void* ptr, unsigned long long size) {
	return (int)cudaMemset(ptr, 0, size);
}

static int sapphireCudaMemcpy(void* dst, const void* src, unsigned long long size, int kind) {
	return (int)cudaMemcpy(dst, src, size, kind);
}

static int sapphireCudaDeviceSynchronize(void) {
	return (int)cudaDeviceSynchronize();
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

const hasCUDA = true

// cudaErrorMemoryAllocation is cudaErrorMemoryAllocation from driver_types.h.
const cudaErrorMemoryAllocation = 2

type cudaMemory struct {
	ptr     unsafe.Pointer
	bytes   int
	ordinal int
}

func (m *cudaMemory) Ordinal() int { return m.ordinal }
func (m *cudaMemory) Bytes() int   { return m.bytes }

// CUDADriver drives NVIDIA devices through the CUDA runtime.
type CUDADriver struct {
	mu      sync.Mutex
	count   int
	current int
}

func newCUDA() (Driver, error) {
	var count C.int
	if err := cudaErr(C.sapphireCudaGetDeviceCount(&count)); err != nil {
		return nil, fmt.Errorf("cuda: %w: %w", ErrUnavailable, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("cuda: no devices: %w", ErrUnavailable)
	}
	return &CUDADriver{count: int(count)}, nil
}

func (d *CUDADriver) Name() string     { return CUDA }
func (d *CUDADriver) DeviceCount() int { return d.count }

func (d *CUDADriver) DeviceName(ordinal int) (string, error) {
	if err := checkOrdinal(d, ordinal); err != nil {
		return "", err
	}
	return fmt.Sprintf("cuda-%d", ordinal), nil
}

// SetDevice binds ordinal to the calling OS thread. Callers pin the
// goroutine to its thread around device work.
func (d *CUDADriver) SetDevice(ordinal int) error {
	if err := checkOrdinal(d, ordinal); err != nil {
		return err
	}
	if err := cudaErr(C.sapphireCudaSetDevice(C.int(ordinal))); err != nil {
		return err
	}
	d.mu.Lock()
	d.current = ordinal
	d.mu.Unlock()
	return nil
}

func (d *CUDADriver) Malloc(bytes int) (Memory, error) {
	if bytes <= 0 {
		return nil, fmt.Errorf("cuda: alloc size %d must be > 0", bytes)
	}
	var ptr unsafe.Pointer
	code := C.sapphireCudaMalloc((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))
	if code == cudaErrorMemoryAllocation {
		return nil, fmt.Errorf("cuda: %d bytes: %w", bytes, ErrOutOfMemory)
	}
	if err := cudaErr(code); err != nil {
		return nil, err
	}
	d.mu.Lock()
	ordinal := d.current
	d.mu.Unlock()
	mem := &cudaMemory{ptr: ptr, bytes: bytes, ordinal: ordinal}
	if err := d.Zero(mem); err != nil {
		_ = d.Free(mem)
		return nil, err
	}
	return mem, nil
}

func (d *CUDADriver) Free(m Memory) error {
	mem, err := d.resolve(m)
	if err != nil {
		return err
	}
	if mem.ptr == nil {
		return ErrFreed
	}
	err = cudaErr(C.sapphireCudaFree(mem.ptr))
	mem.ptr = nil
	return err
}

func (d *CUDADriver) Zero(m Memory) error {
	mem, err := d.resolve(m)
	if err != nil {
		return err
	}
	return cudaErr(C.sapphireCudaMemset(mem.ptr, C.ulonglong(mem.bytes)))
}

func (d *CUDADriver) CopyHostToDevice(dst Memory, src []byte) error {
	mem, err := d.resolve(dst)
	if err != nil || len(src) == 0 {
		return err
	}
	if len(src) > mem.bytes {
		return fmt.Errorf("cuda: upload of %d bytes into %d byte allocation", len(src), mem.bytes)
	}
	return cudaErr(C.sapphireCudaMemcpy(mem.ptr, unsafe.Pointer(&src[0]), C.ulonglong(len(src)), C.SAPPHIRE_CUDA_MEMCPY_HOST_TO_DEVICE))
}

func (d *CUDADriver) CopyDeviceToHost(dst []byte, src Memory) error {
	mem, err := d.resolve(src)
	if err != nil || len(dst) == 0 {
		return err
	}
	if len(dst) > mem.bytes {
		return fmt.Errorf("cuda: download of %d bytes from %d byte allocation", len(dst), mem.bytes)
	}
	return cudaErr(C.sapphireCudaMemcpy(unsafe.Pointer(&dst[0]), mem.ptr, C.ulonglong(len(dst)), C.SAPPHIRE_CUDA_MEMCPY_DEVICE_TO_HOST))
}

func (d *CUDADriver) CopyDeviceToDevice(dst, src Memory) error {
	dm, err := d.resolve(dst)
	if err != nil {
		return err
	}
	sm, err := d.resolve(src)
	if err != nil {
		return err
	}
	if sm.bytes > dm.bytes {
		return fmt.Errorf("cuda: device copy of %d bytes into %d byte allocation", sm.bytes, dm.bytes)
	}
	return cudaErr(C.sapphireCudaMemcpy(dm.ptr, sm.ptr, C.ulonglong(sm.bytes), C.SAPPHIRE_CUDA_MEMCPY_DEVICE_TO_DEVICE))
}

func (d *CUDADriver) Close() error {
	return cudaErr(C.sapphireCudaDeviceSynchronize())
}

func (d *CUDADriver) resolve(m Memory) (*cudaMemory, error) {
	mem, ok := m.(*cudaMemory)
	if !ok || mem == nil {
		return nil, fmt.Errorf("cuda: foreign memory handle %T", m)
	}
	d.mu.Lock()
	current := d.current
	d.mu.Unlock()
	if mem.ordinal != current {
		return nil, fmt.Errorf("cuda: memory on device %d used while device %d is current: %w",
			mem.ordinal, current, ErrWrongDevice)
	}
	return mem, nil
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.sapphireCudaGetErrorString(C.cudaError_t(code)))
	return fmt.Errorf("cuda runtime error %d: %s", int(code), msg)
}
