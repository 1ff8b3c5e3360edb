// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/sapphire/internal/tensor"
)

// Shape represents the dimensions of one sample.
// Example: Shape{2, 3, 4} is a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// DataType represents the element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
)

// Layout selects the storage format of a tensor.
type Layout = tensor.Layout

// Layout constants. Sparse is reserved.
const (
	Dense  Layout = tensor.Dense
	Sparse Layout = tensor.Sparse
)

// DeviceKind distinguishes host memory from accelerator memory.
type DeviceKind = tensor.DeviceKind

// Device kinds.
const (
	Host        DeviceKind = tensor.Host
	Accelerator DeviceKind = tensor.Accelerator
)

// Device identifies where a buffer lives.
type Device = tensor.Device

// HostDevice returns the host device.
func HostDevice() Device {
	return tensor.HostDevice()
}

// AcceleratorDevice returns the accelerator with the given ordinal.
// The label is informational.
//
// Example:
//
//	gpu := tensor.AcceleratorDevice(0, "sim")
func AcceleratorDevice(ordinal int, label string) Device {
	return tensor.AcceleratorDevice(ordinal, label)
}

// Geometry is the padded layout of a tensor.
type Geometry = tensor.Geometry

// DefaultAlignment is the row alignment in bytes when none is configured.
const DefaultAlignment = tensor.DefaultAlignment

// NewGeometry computes the padded layout for shape, batch size, element
// type and alignment in bytes.
func NewGeometry(shape Shape, batchSize int, dtype DataType, alignBytes int) (Geometry, error) {
	return tensor.NewGeometry(shape, batchSize, dtype, alignBytes)
}

// DetectAlignment returns the widest vector alignment of the running CPU.
func DetectAlignment() int {
	return tensor.DetectAlignment()
}
