// Package graph is the registry that ties tensors, units and storage
// together: it owns every descriptor and unit of one model by key, records
// history as units are applied, and walks that history backwards to
// propagate gradients.
//
// A Model is an explicit object. It shares buffers with nothing but the
// resource.Manager it was built with.
package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/born-ml/sapphire/internal/autodiff"
	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/logger"
	"github.com/born-ml/sapphire/internal/parallel"
	"github.com/born-ml/sapphire/internal/resource"
	"github.com/born-ml/sapphire/internal/storage"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Lookup errors. Both wrap tensor.ErrStructuralInvariant.
var (
	ErrUnknownTensor = fmt.Errorf("unknown tensor: %w", tensor.ErrStructuralInvariant)
	ErrUnknownUnit   = fmt.Errorf("unknown unit: %w", tensor.ErrStructuralInvariant)
)

// ErrNoGradient is returned when reading the gradient of a tensor
// registered without one.
var ErrNoGradient = errors.New("tensor carries no gradient")

// unitEntry is a registered unit plus the output slots whose gradients
// have arrived during the current backward pass.
type unitEntry struct {
	unit     autodiff.Unit
	received []bool
}

func (e *unitEntry) complete() bool {
	return !slices.Contains(e.received, false)
}

// Model owns the descriptor and unit pools of one computation graph.
type Model struct {
	id    uuid.UUID
	name  string
	log   logger.Logger
	res   *resource.Manager
	be    *cpu.Backend
	accel tensor.Device

	descriptors map[autodiff.TensorKey]*Descriptor
	units       map[autodiff.UnitKey]*unitEntry
	nextTensor  autodiff.TensorKey
	nextUnit    autodiff.UnitKey

	// retired holds owner tags of dropped descriptors whose buffers have
	// not been collected yet.
	retired map[int]struct{}
}

var _ autodiff.Context = (*Model)(nil)

// Option configures a Model.
type Option func(*Model)

// WithName sets the model name used in logs and snapshots.
func WithName(name string) Option {
	return func(m *Model) { m.name = name }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Model) { m.log = l }
}

// WithBackend sets the kernel backend.
func WithBackend(be *cpu.Backend) Option {
	return func(m *Model) { m.be = be }
}

// WithAccelerator sets the accelerator ToDevice uses for host-registered tensors.
func WithAccelerator(d tensor.Device) Option {
	return func(m *Model) { m.accel = d }
}

// New creates a Model allocating through res. A nil res gets a private
// host-only manager.
func New(res *resource.Manager, opts ...Option) *Model {
	if res == nil {
		res = resource.New()
	}
	m := &Model{
		id:          uuid.New(),
		name:        "model",
		log:         logger.Discard(),
		res:         res,
		accel:       tensor.HostDevice(),
		descriptors: make(map[autodiff.TensorKey]*Descriptor),
		units:       make(map[autodiff.UnitKey]*unitEntry),
		retired:     make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.be == nil {
		m.be = cpu.New(parallel.DefaultConfig())
	}
	m.log = m.log.With("model", m.name, "model_id", m.id.String())
	return m
}

// ID returns the model's unique identifier.
func (m *Model) ID() uuid.UUID { return m.id }

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Resources returns the resource manager.
func (m *Model) Resources() *resource.Manager { return m.res }

// Backend returns the kernel backend.
func (m *Model) Backend() *cpu.Backend { return m.be }

// Accelerator returns the default accelerator, or the host when none is set.
func (m *Model) Accelerator() tensor.Device { return m.accel }

// RegisterTensorDescriptor creates a tensor with zeroed forward and (unless
// WithoutGradient is given) backward buffers on device.
func (m *Model) RegisterTensorDescriptor(
	shape tensor.Shape,
	layout tensor.Layout,
	device tensor.Device,
	batchSize int,
	trainable bool,
	opts ...DescriptorOption,
) (Tensor, error) {
	cfg := descriptorConfig{dtype: tensor.Float32}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := shape.Validate(); err != nil {
		return Tensor{}, fmt.Errorf("register tensor: %w", err)
	}
	if trainable && cfg.noGrad {
		return Tensor{}, fmt.Errorf("register tensor: trainable tensor without gradient: %w", tensor.ErrMismatch)
	}

	d := &Descriptor{
		owner:     m.res.NextOwner(),
		shape:     shape.Clone(),
		batchSize: batchSize,
		dtype:     cfg.dtype,
		layout:    layout,
		home:      device,
		trainable: trainable,
		preserve:  cfg.preserve,
	}
	alloc := func() (*storage.Buffer, error) {
		b, err := m.res.Allocate(shape, device, batchSize, storage.WithDataType(cfg.dtype), storage.WithLayout(layout))
		if err != nil {
			return nil, err
		}
		b.SetOwner(d.owner)
		return b, nil
	}

	var err error
	if d.forward, err = alloc(); err != nil {
		return Tensor{}, fmt.Errorf("register tensor %s: %w", shape, err)
	}
	if !cfg.noGrad {
		if d.backward, err = alloc(); err != nil {
			m.retired[d.owner] = struct{}{}
			return Tensor{}, fmt.Errorf("register tensor %s gradient: %w", shape, err)
		}
	}

	m.nextTensor++
	d.key = m.nextTensor
	m.descriptors[d.key] = d
	m.log.Debug("registered tensor", "key", d.key, "shape", shape, "batch", batchSize,
		"device", device, "trainable", trainable)
	return Tensor{key: d.key}, nil
}

// RegisterOutputDescriptor creates a gradient-carrying tensor for a unit
// output, matching the data type, layout and current device of like.
func (m *Model) RegisterOutputDescriptor(shape tensor.Shape, batchSize int, like Tensor) (Tensor, error) {
	d, err := m.Descriptor(like)
	if err != nil {
		return Tensor{}, err
	}
	return m.RegisterTensorDescriptor(shape, d.layout, d.Device(), batchSize, false, WithDataType(d.dtype))
}

// Descriptor returns the descriptor behind t.
func (m *Model) Descriptor(t Tensor) (*Descriptor, error) {
	return m.lookup(t.key)
}

func (m *Model) lookup(key autodiff.TensorKey) (*Descriptor, error) {
	d, ok := m.descriptors[key]
	if !ok {
		return nil, fmt.Errorf("tensor %s: %w", key, ErrUnknownTensor)
	}
	return d, nil
}

// Tensors returns handles to every live descriptor, ordered by key.
func (m *Model) Tensors() []Tensor {
	keys := make([]autodiff.TensorKey, 0, len(m.descriptors))
	for k := range m.descriptors {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]Tensor, len(keys))
	for i, k := range keys {
		out[i] = Tensor{key: k}
	}
	return out
}

// ForwardBuffer implements autodiff.Context.
func (m *Model) ForwardBuffer(key autodiff.TensorKey) (*storage.Buffer, error) {
	d, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	return d.forward, nil
}

// BackwardBuffer implements autodiff.Context.
func (m *Model) BackwardBuffer(key autodiff.TensorKey) (*storage.Buffer, error) {
	d, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	return d.backward, nil
}

// RegisterUnit adds u to the unit pool without running it or recording
// history.
func (m *Model) RegisterUnit(u autodiff.Unit) autodiff.UnitKey {
	m.nextUnit++
	m.units[m.nextUnit] = &unitEntry{unit: u, received: make([]bool, len(u.Outputs()))}
	return m.nextUnit
}

// Unit returns the registered unit behind key.
func (m *Model) Unit(key autodiff.UnitKey) (autodiff.Unit, error) {
	e, ok := m.units[key]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", key, ErrUnknownUnit)
	}
	return e.unit, nil
}

// UnitInfo describes a registered unit.
type UnitInfo struct {
	Key      autodiff.UnitKey
	Name     string
	Inputs   []autodiff.TensorKey
	Outputs  []autodiff.TensorKey
	Received []bool
}

// Units describes every registered unit ordered by key.
func (m *Model) Units() []UnitInfo {
	out := make([]UnitInfo, 0, len(m.units))
	for k, e := range m.units {
		out = append(out, UnitInfo{
			Key:      k,
			Name:     e.unit.Name(),
			Inputs:   e.unit.Inputs(),
			Outputs:  e.unit.Outputs(),
			Received: slices.Clone(e.received),
		})
	}
	slices.SortFunc(out, func(a, b UnitInfo) int { return int(a.Key - b.Key) })
	return out
}

// Apply runs u forward, registers it and records history: every output
// gets an output frame for its slot and every distinct input gets every
// output as a pending consumer.
func (m *Model) Apply(u autodiff.Unit) (autodiff.UnitKey, error) {
	all := slices.Concat(u.Inputs(), u.Outputs(), u.Parameters())
	for _, k := range all {
		if _, err := m.lookup(k); err != nil {
			return autodiff.NoUnit, fmt.Errorf("apply %s: %w", u.Name(), err)
		}
	}
	if err := u.Forward(m); err != nil {
		return autodiff.NoUnit, fmt.Errorf("apply %s: %w", u.Name(), err)
	}

	key := m.RegisterUnit(u)
	for slot, out := range u.Outputs() {
		m.descriptors[out].history.AppendOutput(key, slot)
	}
	for _, in := range autodiff.Distinct(u.Inputs()) {
		for _, out := range u.Outputs() {
			m.descriptors[in].history.AppendOperand(out)
		}
	}
	return key, nil
}
