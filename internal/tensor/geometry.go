package tensor

import (
	"fmt"

	"golang.org/x/sys/cpu"
)

// DefaultAlignment is the byte alignment used when none is configured.
const DefaultAlignment = 32

// DetectAlignment returns the widest vector width the host supports,
// in bytes: 64 with AVX-512, 32 otherwise.
func DetectAlignment() int {
	if cpu.X86.HasAVX512F {
		return 64
	}
	return DefaultAlignment
}

// PadUnit returns how many elements of dtype fit into alignBytes (at least 1).
func PadUnit(alignBytes int, dtype DataType) int {
	unit := alignBytes / dtype.Size()
	if unit < 1 {
		return 1
	}
	return unit
}

// RoundUp rounds n up to the next multiple of unit.
func RoundUp(n, unit int) int {
	if unit <= 1 {
		return n
	}
	return ((n + unit - 1) / unit) * unit
}

// Geometry is the padded memory layout of a tensor.
//
// Cell (b, r, c) lives at b*PaddedRows*PaddedCols + r*PaddedCols + c.
// Cells with r >= Rows or c >= Cols are padding and carry no meaning.
type Geometry struct {
	Batch      int
	Rows       int
	Cols       int
	PaddedRows int
	PaddedCols int
}

// NewGeometry computes the padded layout for shape, batch size, element
// type and alignment.
func NewGeometry(shape Shape, batchSize int, dtype DataType, alignBytes int) (Geometry, error) {
	if err := shape.Validate(); err != nil {
		return Geometry{}, err
	}
	if batchSize <= 0 {
		return Geometry{}, fmt.Errorf("batch size %d must be > 0: %w", batchSize, ErrMismatch)
	}
	if alignBytes <= 0 {
		alignBytes = DefaultAlignment
	}
	unit := PadUnit(alignBytes, dtype)
	return Geometry{
		Batch:      batchSize * shape.Batches(),
		Rows:       shape.Rows(),
		Cols:       shape.Cols(),
		PaddedRows: RoundUp(shape.Rows(), unit),
		PaddedCols: RoundUp(shape.Cols(), unit),
	}, nil
}

// Len returns the total padded element count.
func (g Geometry) Len() int {
	return g.Batch * g.PaddedRows * g.PaddedCols
}

// Matrix returns the padded element count of one batch entry.
func (g Geometry) Matrix() int {
	return g.PaddedRows * g.PaddedCols
}

// Logical returns the number of meaningful cells.
func (g Geometry) Logical() int {
	return g.Batch * g.Rows * g.Cols
}

// Index returns the flat offset of logical cell (b, r, c).
func (g Geometry) Index(b, r, c int) int {
	return b*g.PaddedRows*g.PaddedCols + r*g.PaddedCols + c
}
