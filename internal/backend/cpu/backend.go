// Package cpu implements float32 kernels over padded storage buffers.
//
// Kernels read and write logical cells only; padding cells are never read
// and never written. Forward kernels overwrite their output. Backward
// kernels accumulate into their gradient outputs, so a tensor consumed on
// several paths receives the sum of every contribution.
package cpu

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/parallel"
	"github.com/born-ml/sapphire/internal/storage"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Backend runs kernels on the host, splitting large loops across goroutines.
type Backend struct {
	par parallel.Config
}

// New creates a CPU backend.
func New(cfg parallel.Config) *Backend {
	return &Backend{par: cfg}
}

// Name returns the backend name.
func (be *Backend) Name() string {
	return "CPU"
}

// Matrix is a padded float32 view: Batch stacked Rows x Cols matrices
// whose rows are PaddedCols apart and whose batch entries are
// PaddedRows x PaddedCols apart.
type Matrix struct {
	Data       []float32
	Batch      int
	Rows       int
	Cols       int
	PaddedRows int
	PaddedCols int
}

// View returns the padded view of a buffer's authoritative residency.
func View(b *storage.Buffer) (Matrix, error) {
	data, err := b.Float32()
	if err != nil {
		return Matrix{}, err
	}
	g := b.Geometry()
	return Matrix{
		Data:       data,
		Batch:      g.Batch,
		Rows:       g.Rows,
		Cols:       g.Cols,
		PaddedRows: g.PaddedRows,
		PaddedCols: g.PaddedCols,
	}, nil
}

// Views returns the views of several buffers, stopping at the first error.
func Views(bufs ...*storage.Buffer) ([]Matrix, error) {
	out := make([]Matrix, len(bufs))
	for i, b := range bufs {
		m, err := View(b)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// Index returns the offset of cell (b, r, c).
func (m Matrix) Index(b, r, c int) int {
	return b*m.PaddedRows*m.PaddedCols + r*m.PaddedCols + c
}

// At returns cell (b, r, c).
func (m Matrix) At(b, r, c int) float32 {
	return m.Data[m.Index(b, r, c)]
}

// Logical returns the number of meaningful cells.
func (m Matrix) Logical() int {
	return m.Batch * m.Rows * m.Cols
}

// Offset maps a row-major logical index to its padded offset.
func (m Matrix) Offset(i int) int {
	row := i / m.Cols
	return m.Index(row/m.Rows, row%m.Rows, i%m.Cols)
}

// bcast maps a cell of a larger grid onto m, repeating unit dimensions.
func (m Matrix) bcast(b, r, c int) int {
	if m.Batch == 1 {
		b = 0
	}
	if m.Rows == 1 {
		r = 0
	}
	if m.Cols == 1 {
		c = 0
	}
	return m.Index(b, r, c)
}

// broadcastDims returns the grid that a and b broadcast to, where each
// dimension must match or be 1.
func broadcastDims(op string, a, b Matrix) (batch, rows, cols int, err error) {
	dim := func(name string, x, y int) (int, error) {
		switch {
		case x == y || y == 1:
			return x, nil
		case x == 1:
			return y, nil
		default:
			return 0, tensor.Mismatch(op, name, x, y)
		}
	}
	if batch, err = dim("batch", a.Batch, b.Batch); err != nil {
		return
	}
	if rows, err = dim("rows", a.Rows, b.Rows); err != nil {
		return
	}
	cols, err = dim("cols", a.Cols, b.Cols)
	return
}

func sameDims(op string, a, b Matrix) error {
	if a.Batch != b.Batch || a.Rows != b.Rows || a.Cols != b.Cols {
		return tensor.Mismatch(op, "dims",
			fmt.Sprintf("%dx%dx%d", a.Batch, a.Rows, a.Cols),
			fmt.Sprintf("%dx%dx%d", b.Batch, b.Rows, b.Cols))
	}
	return nil
}

// eachRow calls f for every (batch, row) pair of a grid, split by row.
func (be *Backend) eachRow(batch, rows int, f func(b, r int)) {
	parallel.For(batch*rows, func(k int) {
		f(k/rows, k%rows)
	}, be.par)
}
