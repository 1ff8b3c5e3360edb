// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public value types of the Sapphire runtime.
//
// # Overview
//
// A tensor in Sapphire is described by:
//   - Shape: the logical dimensions of one sample
//   - BatchSize: how many samples are stored side by side
//   - DataType: float32 (default) or float64
//   - Layout: Dense; Sparse is reserved and fails with ErrNotImplemented
//   - Device: the host or an accelerator ordinal
//
// Storage is padded: the last two dimensions are rounded up to a whole
// number of alignment units (32 bytes by default, wider on CPUs with AVX-512)
// so every row starts on an aligned address. Geometry reports the padded
// layout for a shape.
//
// # Geometry
//
//	g, _ := tensor.NewGeometry(tensor.Shape{2, 3, 5}, 1, tensor.Float32, 32)
//	// g.Batch == 2, g.PaddedRows == 8, g.PaddedCols == 8
//	// g.Len() == 128 cells for 30 logical values
//
// # Errors
//
// Every failure in the runtime wraps one of the sentinels below, so callers
// test with errors.Is:
//
//	if errors.Is(err, tensor.ErrMismatch) {
//	    // incompatible shape, batch, device, layout or data type
//	}
package tensor
