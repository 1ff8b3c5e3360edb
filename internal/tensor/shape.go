package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape represents the dimensions of a tensor, outermost first.
//
// Shapes are treated as immutable values: every type that stores a Shape
// keeps its own clone, and accessors hand out clones.
type Shape []int

// Validate checks that the shape has at least one dimension and that every
// dimension is positive.
func (s Shape) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("shape must have at least one dimension: %w", ErrMismatch)
	}
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0): %w", i, dim, ErrMismatch)
		}
	}
	return nil
}

// Size returns the number of logical elements.
func (s Shape) Size() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Dim returns the number of dimensions.
func (s Shape) Dim() int {
	return len(s)
}

// At returns the extent at index i. Negative indices count from the end.
func (s Shape) At(i int) int {
	if i < 0 {
		i += len(s)
	}
	return s[i]
}

// Cols returns the innermost extent.
func (s Shape) Cols() int {
	if len(s) == 0 {
		return 1
	}
	return s[len(s)-1]
}

// Rows returns the second-innermost extent, or 1 for one-dimensional shapes.
func (s Shape) Rows() int {
	if len(s) < 2 {
		return 1
	}
	return s[len(s)-2]
}

// Batches returns the product of every extent before the last two.
func (s Shape) Batches() int {
	n := 1
	for i := 0; i < len(s)-2; i++ {
		n *= s[i]
	}
	return n
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// String renders the shape as "(d0, d1, ...)".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = strconv.Itoa(dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
