package storage

import (
	"fmt"
	"unsafe"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/tensor"
)

// CopyInto copies the full padded contents of src into dst.
//
// Both buffers must agree on device, shape, batch size, data type and
// layout; otherwise a *tensor.MismatchError is returned and dst is not
// written. Both busy guards are taken without blocking; if either is held
// the call fails with tensor.ErrBusy.
func CopyInto(dst, src *Buffer) error {
	if dst == src {
		return nil
	}
	if err := compatible("copy", dst, src); err != nil {
		return err
	}
	if err := dst.acquire("copy"); err != nil {
		return err
	}
	defer dst.Unlock()
	if err := src.acquire("copy"); err != nil {
		return err
	}
	defer src.Unlock()

	if dst.device.IsHost() {
		copy(dst.host, src.host)
		return nil
	}
	return dst.onDevice(dst.device.Ordinal, func() error {
		return dst.driver.CopyDeviceToDevice(dst.dev, src.dev)
	})
}

// compatible reports the first attribute on which a and b disagree.
func compatible(op string, a, b *Buffer) error {
	switch {
	case !a.device.Equal(b.device):
		return tensor.Mismatch(op, "device", a.device, b.device)
	case !a.shape.Equal(b.shape):
		return tensor.Mismatch(op, "shape", a.shape, b.shape)
	case a.batchSize != b.batchSize:
		return tensor.Mismatch(op, "batch size", a.batchSize, b.batchSize)
	case a.dtype != b.dtype:
		return tensor.Mismatch(op, "data type", a.dtype, b.dtype)
	case a.layout != b.layout:
		return tensor.Mismatch(op, "layout", a.layout, b.layout)
	case a.geom != b.geom:
		return tensor.Mismatch(op, "geometry", a.geom, b.geom)
	}
	return nil
}

// Load writes values (logical cells in row-major order, padding excluded)
// into the authoritative residency.
func (b *Buffer) Load(values []float32) error {
	if len(values) != b.geom.Logical() {
		return tensor.Mismatch("load", "element count", b.geom.Logical(), len(values))
	}
	if err := b.acquire("load"); err != nil {
		return err
	}
	defer b.Unlock()

	if !b.device.IsHost() {
		if err := b.download(); err != nil {
			return err
		}
	}
	b.scatter(values)
	if b.device.IsHost() {
		return nil
	}
	return b.onDevice(b.device.Ordinal, func() error {
		return b.driver.CopyHostToDevice(b.dev, b.host)
	})
}

// Values returns the logical cells in row-major order, padding excluded.
func (b *Buffer) Values() ([]float32, error) {
	if err := b.acquire("read"); err != nil {
		return nil, err
	}
	defer b.Unlock()

	if !b.device.IsHost() {
		if err := b.download(); err != nil {
			return nil, err
		}
	}
	return b.gather(), nil
}

// Fill sets every logical cell to v and every padding cell to zero.
func (b *Buffer) Fill(v float32) error {
	values := make([]float32, b.geom.Logical())
	for i := range values {
		values[i] = v
	}
	return b.Load(values)
}

// Float32 returns the padded element view of the authoritative residency.
// Accelerator memory is only viewable when the driver can map it.
func (b *Buffer) Float32() ([]float32, error) {
	if b.dtype != tensor.Float32 {
		return nil, tensor.Mismatch("view", "data type", tensor.Float32, b.dtype)
	}
	raw, err := b.view()
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by geometry
	return unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), b.geom.Len()), nil
}

// Float64 returns the padded element view of the authoritative residency.
func (b *Buffer) Float64() ([]float64, error) {
	if b.dtype != tensor.Float64 {
		return nil, tensor.Mismatch("view", "data type", tensor.Float64, b.dtype)
	}
	raw, err := b.view()
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by geometry
	return unsafe.Slice((*float64)(unsafe.Pointer(&raw[0])), b.geom.Len()), nil
}

func (b *Buffer) view() ([]byte, error) {
	if b.freed {
		return nil, ErrReleased
	}
	if b.layout == tensor.Sparse {
		return nil, fmt.Errorf("view: %w", tensor.ErrNotImplemented)
	}
	if b.device.IsHost() {
		return b.host, nil
	}
	mapper, ok := b.driver.(accel.Mapper)
	if !ok {
		return nil, fmt.Errorf("view %s memory through %s: %w", b.device, b.driver.Name(), tensor.ErrNotImplemented)
	}
	var raw []byte
	err := b.onDevice(b.device.Ordinal, func() error {
		var err error
		raw, err = mapper.Map(b.dev)
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw[:b.Bytes()], nil
}

// Reshape changes the logical shape to one with the same element count and
// batch size, relaying the logical cells into the new padded geometry.
func (b *Buffer) Reshape(shape tensor.Shape) error {
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("reshape: %w", err)
	}
	if shape.Size() != b.shape.Size() {
		return tensor.Mismatch("reshape", "element count", b.shape.Size(), shape.Size())
	}
	geom, err := tensor.NewGeometry(shape, b.batchSize, b.dtype, b.align)
	if err != nil {
		return fmt.Errorf("reshape: %w", err)
	}
	if err := b.acquire("reshape"); err != nil {
		return err
	}
	defer b.Unlock()

	if geom == b.geom {
		b.shape = shape.Clone()
		return nil
	}

	if !b.device.IsHost() {
		if err := b.download(); err != nil {
			return err
		}
	}
	values := b.gather()

	old := b.geom
	oldHost := b.host
	b.geom = geom
	b.host = alignedBytes(geom.Len()*b.dtype.Size(), b.align)
	b.scatter(values)

	if b.device.IsHost() {
		b.shape = shape.Clone()
		if b.dev != nil {
			// The cached allocation has the old size.
			stale := b.dev
			b.dev = nil
			if err := b.release(stale); err != nil {
				return fmt.Errorf("reshape: release device memory: %w", err)
			}
		}
		return nil
	}

	stale := b.dev
	b.dev = nil
	mem, err := b.malloc(b.device.Ordinal)
	if err == nil {
		err = b.onDevice(b.device.Ordinal, func() error {
			return b.driver.CopyHostToDevice(mem, b.host)
		})
	}
	if err != nil {
		if mem != nil {
			_ = b.release(mem)
		}
		b.geom, b.host, b.dev = old, oldHost, stale
		return fmt.Errorf("reshape: %w", err)
	}
	b.dev = mem
	b.shape = shape.Clone()
	return b.release(stale)
}

// scatter writes logical values into the host array.
func (b *Buffer) scatter(values []float32) {
	g := b.geom
	i := 0
	switch b.dtype {
	case tensor.Float64:
		//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by geometry
		data := unsafe.Slice((*float64)(unsafe.Pointer(&b.host[0])), g.Len())
		for n := 0; n < g.Batch; n++ {
			for r := 0; r < g.Rows; r++ {
				row := g.Index(n, r, 0)
				for c := 0; c < g.Cols; c++ {
					data[row+c] = float64(values[i])
					i++
				}
			}
		}
	default:
		//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by geometry
		data := unsafe.Slice((*float32)(unsafe.Pointer(&b.host[0])), g.Len())
		for n := 0; n < g.Batch; n++ {
			for r := 0; r < g.Rows; r++ {
				row := g.Index(n, r, 0)
				copy(data[row:row+g.Cols], values[i:i+g.Cols])
				i += g.Cols
			}
		}
	}
}

// gather reads logical values from the host array.
func (b *Buffer) gather() []float32 {
	g := b.geom
	out := make([]float32, 0, g.Logical())
	switch b.dtype {
	case tensor.Float64:
		//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by geometry
		data := unsafe.Slice((*float64)(unsafe.Pointer(&b.host[0])), g.Len())
		for n := 0; n < g.Batch; n++ {
			for r := 0; r < g.Rows; r++ {
				row := g.Index(n, r, 0)
				for c := 0; c < g.Cols; c++ {
					out = append(out, float32(data[row+c]))
				}
			}
		}
	default:
		//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by geometry
		data := unsafe.Slice((*float32)(unsafe.Pointer(&b.host[0])), g.Len())
		for n := 0; n < g.Batch; n++ {
			for r := 0; r < g.Rows; r++ {
				row := g.Index(n, r, 0)
				out = append(out, data[row:row+g.Cols]...)
			}
		}
	}
	return out
}

// DenseToSparse converts a dense buffer to sparse storage.
func DenseToSparse(*Buffer) (*Buffer, error) {
	return nil, fmt.Errorf("dense to sparse: %w", tensor.ErrNotImplemented)
}

// SparseToDense converts a sparse buffer to dense storage.
func SparseToDense(*Buffer) (*Buffer, error) {
	return nil, fmt.Errorf("sparse to dense: %w", tensor.ErrNotImplemented)
}
