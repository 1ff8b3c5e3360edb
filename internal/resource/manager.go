// Package resource tracks every storage buffer a model allocates and
// releases them in bulk, optionally recycling them through a Pool.
//
// A Manager is an explicit object: tests and models each build their own
// and there is no process-wide instance.
package resource

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/logger"
	"github.com/born-ml/sapphire/internal/storage"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Manager owns the lifecycle of the buffers it allocates.
type Manager struct {
	mu      sync.Mutex
	log     logger.Logger
	driver  accel.Driver
	align   int
	pool    *Pool
	tracked map[uint64]*storage.Buffer
	owners  int

	allocated uint64
	freed     uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithDriver sets the accelerator driver passed to every allocation.
func WithDriver(d accel.Driver) Option {
	return func(m *Manager) { m.driver = d }
}

// WithAlignment sets the default byte alignment.
func WithAlignment(bytes int) Option {
	return func(m *Manager) { m.align = bytes }
}

// WithPool enables buffer reuse with at most maxPerClass idle buffers per size class.
func WithPool(maxPerClass int) Option {
	return func(m *Manager) { m.pool = NewPool(maxPerClass) }
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		log:     logger.Discard(),
		align:   tensor.DefaultAlignment,
		tracked: make(map[uint64]*storage.Buffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NextOwner reserves an owner tag that no other caller of this manager
// receives. Models sharing a manager tag their buffers with these so
// that ReleaseUnused never confuses their owners.
func (m *Manager) NextOwner() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners++
	return m.owners
}

// Driver returns the accelerator driver, possibly nil.
func (m *Manager) Driver() accel.Driver { return m.driver }

// Alignment returns the default byte alignment.
func (m *Manager) Alignment() int { return m.align }

// Pooling reports whether released buffers are recycled.
func (m *Manager) Pooling() bool { return m.pool != nil }

// Allocate returns a tracked, zeroed buffer. The manager's driver and
// alignment are applied before opts, so callers may override them.
func (m *Manager) Allocate(shape tensor.Shape, device tensor.Device, batchSize int, opts ...storage.Option) (*storage.Buffer, error) {
	all := append([]storage.Option{storage.WithDriver(m.driver), storage.WithAlignment(m.align)}, opts...)

	if m.pool != nil {
		b, err := m.pool.Acquire(shape, device, batchSize, storage.Resolve(all...))
		if err != nil {
			return nil, err
		}
		if b != nil {
			m.Track(b)
			return b, nil
		}
	}

	b, err := storage.Allocate(shape, device, batchSize, all...)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.allocated++
	m.mu.Unlock()
	m.Track(b)
	return b, nil
}

// Track registers a buffer allocated elsewhere.
func (m *Manager) Track(b *storage.Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[b.ID()] = b
}

// Tracked reports whether b is tracked.
func (m *Manager) Tracked(b *storage.Buffer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracked[b.ID()]
	return ok
}

// ReleaseUnused releases every tracked buffer whose owner is not live,
// returning it to the pool when pooling is enabled. Busy buffers are
// skipped and stay tracked. It returns how many buffers were released.
func (m *Manager) ReleaseUnused(live func(owner int) bool) (int, error) {
	m.mu.Lock()
	var candidates []*storage.Buffer
	for _, b := range m.tracked {
		if !live(b.Owner()) && !b.Busy() {
			candidates = append(candidates, b)
		}
	}
	m.mu.Unlock()

	released := 0
	var errs []error
	for _, b := range candidates {
		if err := m.release(b, true); err != nil {
			if !errors.Is(err, tensor.ErrBusy) {
				errs = append(errs, err)
			}
			continue
		}
		released++
	}
	m.log.Debug("released unused buffers", "count", released)
	return released, errors.Join(errs...)
}

// ReleaseAll frees every tracked and pooled buffer. Buffers whose busy
// guard is held are left tracked and reported with tensor.ErrBusy.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	all := make([]*storage.Buffer, 0, len(m.tracked))
	for _, b := range m.tracked {
		all = append(all, b)
	}
	m.mu.Unlock()

	var errs []error
	for _, b := range all {
		if err := m.release(b, false); err != nil {
			errs = append(errs, err)
		}
	}
	if m.pool != nil {
		for _, b := range m.pool.Drain() {
			if err := m.free(b); err != nil {
				errs = append(errs, err)
			}
		}
	}
	m.log.Debug("released all buffers", "count", len(all), "errors", len(errs))
	return errors.Join(errs...)
}

// release untracks b and either pools or frees it.
func (m *Manager) release(b *storage.Buffer, recycle bool) error {
	if b.Busy() {
		return fmt.Errorf("release buffer %d: %w", b.ID(), tensor.ErrBusy)
	}
	m.mu.Lock()
	delete(m.tracked, b.ID())
	m.mu.Unlock()

	if recycle && m.pool != nil && m.pool.Put(b) {
		return nil
	}
	if err := m.free(b); err != nil {
		m.Track(b)
		return err
	}
	return nil
}

func (m *Manager) free(b *storage.Buffer) error {
	if err := b.Free(); err != nil {
		return err
	}
	m.mu.Lock()
	m.freed++
	m.mu.Unlock()
	return nil
}

// Stats is a snapshot of manager state.
type Stats struct {
	Tracked      int        `json:"tracked"`
	TrackedBytes int        `json:"tracked_bytes"`
	Allocated    uint64     `json:"allocated"`
	Freed        uint64     `json:"freed"`
	Pool         *PoolStats `json:"pool,omitempty"`
}

// Stats returns a snapshot of manager state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{Tracked: len(m.tracked), Allocated: m.allocated, Freed: m.freed}
	for _, b := range m.tracked {
		s.TrackedBytes += b.Bytes()
	}
	m.mu.Unlock()

	if m.pool != nil {
		ps := m.pool.Stats()
		s.Pool = &ps
	}
	return s
}

// BufferInfo describes one tracked buffer.
type BufferInfo struct {
	ID     uint64 `json:"id"`
	Owner  int    `json:"owner"`
	Shape  []int  `json:"shape"`
	Batch  int    `json:"batch"`
	Device string `json:"device"`
	Bytes  int    `json:"bytes"`
	Busy   bool   `json:"busy"`
}

// Buffers lists tracked buffers ordered by ID.
func (m *Manager) Buffers() []BufferInfo {
	m.mu.Lock()
	out := make([]BufferInfo, 0, len(m.tracked))
	for _, b := range m.tracked {
		out = append(out, BufferInfo{
			ID:     b.ID(),
			Owner:  b.Owner(),
			Shape:  b.Shape(),
			Batch:  b.BatchSize(),
			Device: b.Device().String(),
			Bytes:  b.Bytes(),
			Busy:   b.Busy(),
		})
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b BufferInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}
