//go:build !webgpu

package accel

import "fmt"

const hasWebGPU = false

func newWebGPU() (Driver, error) {
	return nil, fmt.Errorf("webgpu driver is not available in this build: %w", ErrUnavailable)
}
