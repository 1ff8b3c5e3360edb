// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package accel exposes the accelerator drivers.
//
// The "sim" driver is always compiled in: it keeps device memory in host
// slices, honours a per-device capacity and enforces the current device,
// which makes it the driver of choice for tests. The "cuda" and "webgpu"
// drivers are selected with build tags of the same name.
//
// Example:
//
//	drv, err := accel.Open(accel.Sim, accel.Options{Devices: 2})
//	if err != nil {
//	    return err
//	}
//	defer drv.Close()
//	res := autodiff.NewResources(autodiff.WithDriver(drv))
package accel

import (
	"github.com/born-ml/sapphire/internal/backend/accel"
)

// Driver names accepted by Open.
const (
	Sim    = accel.Sim
	CUDA   = accel.CUDA
	WebGPU = accel.WebGPU
	None   = accel.None
)

// Driver errors.
var (
	ErrOutOfMemory = accel.ErrOutOfMemory
	ErrWrongDevice = accel.ErrWrongDevice
	ErrUnavailable = accel.ErrUnavailable
	ErrFreed       = accel.ErrFreed
)

// Driver moves bytes between host memory and accelerator memory.
type Driver = accel.Driver

// Memory is an opaque device allocation.
type Memory = accel.Memory

// Options configure a driver at Open time.
type Options = accel.Options

// SimDriver is the simulated accelerator.
type SimDriver = accel.SimDriver

// Open returns the named driver. The "none" driver returns (nil, nil).
func Open(name string, opts Options) (Driver, error) {
	return accel.Open(name, opts)
}

// NewSim creates a simulated driver with the given device count and
// per-device capacity; capacity 0 means unbounded.
func NewSim(devices, capacityBytes int) *SimDriver {
	return accel.NewSim(devices, capacityBytes)
}

// Available returns a comma-separated list of drivers in this build.
func Available() string {
	return accel.Available()
}
