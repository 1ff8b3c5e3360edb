// Package tensor provides the value types shared by the runtime: shapes,
// devices, element types, padded geometry and the error taxonomy.
package tensor

// DataType represents runtime type information for tensor elements.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Float64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// Layout selects the storage format of a tensor.
type Layout int

// Supported layouts. Sparse is reserved: every sparse path reports ErrNotImplemented.
const (
	Dense Layout = iota
	Sparse
)

// String returns a human-readable layout name.
func (l Layout) String() string {
	switch l {
	case Dense:
		return "dense"
	case Sparse:
		return "sparse"
	default:
		return "unknown"
	}
}
