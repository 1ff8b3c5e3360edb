package tensor

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every layer of the runtime.
var (
	// ErrMismatch reports incompatible shape, batch, device, layout or data type.
	ErrMismatch = errors.New("mismatch")
	// ErrNotImplemented reports a reserved path such as sparse storage.
	ErrNotImplemented = errors.New("not implemented")
	// ErrAllocation reports that device or host memory could not be obtained.
	ErrAllocation = errors.New("allocation failed")
	// ErrStructuralInvariant reports a history ledger or graph inconsistency.
	ErrStructuralInvariant = errors.New("structural invariant violated")
	// ErrBusy reports that a buffer's busy guard is held by someone else.
	ErrBusy = errors.New("buffer busy")
)

// MismatchError describes which attribute of two operands disagreed.
type MismatchError struct {
	Op    string
	Field string
	Want  any
	Got   any
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %s mismatch: want %v, got %v", e.Op, e.Field, e.Want, e.Got)
}

// Unwrap lets errors.Is match ErrMismatch.
func (e *MismatchError) Unwrap() error {
	return ErrMismatch
}

// AllocationError reports a failed allocation on a device.
type AllocationError struct {
	Device Device
	Bytes  int
	Err    error
}

func (e *AllocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("allocate %d bytes on %s: %v", e.Bytes, e.Device, ErrAllocation)
	}
	return fmt.Sprintf("allocate %d bytes on %s: %v", e.Bytes, e.Device, e.Err)
}

// Unwrap exposes both ErrAllocation and the underlying driver error.
func (e *AllocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAllocation}
	}
	return []error{ErrAllocation, e.Err}
}

// Mismatch builds a *MismatchError.
func Mismatch(op, field string, want, got any) error {
	return &MismatchError{Op: op, Field: field, Want: want, Got: got}
}
