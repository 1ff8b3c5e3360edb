//go:build !cuda

package accel

import "fmt"

const hasCUDA = false

func newCUDA() (Driver, error) {
	return nil, fmt.Errorf("cuda driver is not available in this build: %w", ErrUnavailable)
}
