package accel

import (
	"fmt"
	"sync"
)

// SimDriver is a host-backed accelerator. It enforces device selection,
// per-device capacity and the no-peer-copy rule the same way a real
// runtime does, which makes migration paths testable without hardware.
//
// The selected device belongs to the calling OS thread, as with
// cudaSetDevice. Callers that select a device and then use it must stay on
// one thread (runtime.LockOSThread) between the two calls.
type SimDriver struct {
	mu       sync.Mutex
	devices  int
	capacity int
	used     []int
	current  map[int]int // OS thread -> selected device, 0 when unset
	closed   bool

	// BeforeCopy, when set, runs at the start of every copy. Tests use it
	// to hold a transfer open while probing busy guards.
	BeforeCopy func()
}

type simMemory struct {
	ordinal int
	data    []byte
	freed   bool
}

func (m *simMemory) Ordinal() int { return m.ordinal }
func (m *simMemory) Bytes() int   { return len(m.data) }

// NewSim creates a simulated driver with the given device count (at least 1)
// and per-device capacity in bytes (0 for unbounded).
func NewSim(devices, capacityBytes int) *SimDriver {
	if devices <= 0 {
		devices = 1
	}
	return &SimDriver{
		devices:  devices,
		capacity: capacityBytes,
		used:     make([]int, devices),
		current:  make(map[int]int),
	}
}

// Name returns "sim".
func (s *SimDriver) Name() string { return Sim }

// DeviceCount returns the number of simulated devices.
func (s *SimDriver) DeviceCount() int { return s.devices }

// DeviceName returns "sim-N".
func (s *SimDriver) DeviceName(ordinal int) (string, error) {
	if err := checkOrdinal(s, ordinal); err != nil {
		return "", err
	}
	return fmt.Sprintf("sim-%d", ordinal), nil
}

// Current returns the device selected on the calling thread.
func (s *SimDriver) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current[threadID()]
}

// Used returns the bytes allocated on a device.
func (s *SimDriver) Used(ordinal int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ordinal < 0 || ordinal >= s.devices {
		return 0
	}
	return s.used[ordinal]
}

// SetDevice selects the device subsequent calls on this thread operate on.
func (s *SimDriver) SetDevice(ordinal int) error {
	if err := checkOrdinal(s, ordinal); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sim: driver closed: %w", ErrUnavailable)
	}
	s.current[threadID()] = ordinal
	return nil
}

// Malloc allocates zeroed memory on the current device.
func (s *SimDriver) Malloc(bytes int) (Memory, error) {
	if bytes <= 0 {
		return nil, fmt.Errorf("sim: alloc size %d must be > 0", bytes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("sim: driver closed: %w", ErrUnavailable)
	}
	cur := s.current[threadID()]
	if s.capacity > 0 && s.used[cur]+bytes > s.capacity {
		return nil, fmt.Errorf("sim: device %d: %d bytes requested, %d of %d in use: %w",
			cur, bytes, s.used[cur], s.capacity, ErrOutOfMemory)
	}
	s.used[cur] += bytes
	return &simMemory{ordinal: cur, data: make([]byte, bytes)}, nil
}

// Free releases memory. Freeing twice is an error.
func (s *SimDriver) Free(m Memory) error {
	mem, err := s.resolve(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mem.freed = true
	s.used[mem.ordinal] -= len(mem.data)
	mem.data = nil
	return nil
}

// Zero clears memory on the current device.
func (s *SimDriver) Zero(m Memory) error {
	mem, err := s.resolve(m)
	if err != nil {
		return err
	}
	clear(mem.data)
	return nil
}

// CopyHostToDevice uploads src into dst.
func (s *SimDriver) CopyHostToDevice(dst Memory, src []byte) error {
	s.beforeCopy()
	mem, err := s.resolve(dst)
	if err != nil {
		return err
	}
	if len(src) > len(mem.data) {
		return fmt.Errorf("sim: upload of %d bytes into %d byte allocation", len(src), len(mem.data))
	}
	copy(mem.data, src)
	return nil
}

// CopyDeviceToHost downloads src into dst.
func (s *SimDriver) CopyDeviceToHost(dst []byte, src Memory) error {
	s.beforeCopy()
	mem, err := s.resolve(src)
	if err != nil {
		return err
	}
	if len(dst) > len(mem.data) {
		return fmt.Errorf("sim: download of %d bytes from %d byte allocation", len(dst), len(mem.data))
	}
	copy(dst, mem.data)
	return nil
}

// CopyDeviceToDevice copies between two allocations on the current device.
func (s *SimDriver) CopyDeviceToDevice(dst, src Memory) error {
	s.beforeCopy()
	d, err := s.resolve(dst)
	if err != nil {
		return err
	}
	sm, err := s.resolve(src)
	if err != nil {
		return err
	}
	if len(sm.data) > len(d.data) {
		return fmt.Errorf("sim: device copy of %d bytes into %d byte allocation", len(sm.data), len(d.data))
	}
	copy(d.data, sm.data)
	return nil
}

// Map exposes simulated device memory to the host.
func (s *SimDriver) Map(m Memory) ([]byte, error) {
	mem, err := s.resolve(m)
	if err != nil {
		return nil, err
	}
	return mem.data, nil
}

// Close marks the driver closed. Outstanding allocations become unusable.
func (s *SimDriver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SimDriver) beforeCopy() {
	if hook := s.BeforeCopy; hook != nil {
		hook()
	}
}

// resolve checks that m is live simulated memory on the device current on
// the calling thread.
func (s *SimDriver) resolve(m Memory) (*simMemory, error) {
	mem, ok := m.(*simMemory)
	if !ok || mem == nil {
		return nil, fmt.Errorf("sim: foreign memory handle %T", m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mem.freed {
		return nil, ErrFreed
	}
	if cur := s.current[threadID()]; mem.ordinal != cur {
		return nil, fmt.Errorf("sim: memory on device %d used while device %d is current: %w",
			mem.ordinal, cur, ErrWrongDevice)
	}
	return mem, nil
}
