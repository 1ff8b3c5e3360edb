// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/sapphire/internal/tensor"
)

// Error sentinels shared by every package of the runtime.
var (
	ErrMismatch            = tensor.ErrMismatch
	ErrNotImplemented      = tensor.ErrNotImplemented
	ErrAllocation          = tensor.ErrAllocation
	ErrStructuralInvariant = tensor.ErrStructuralInvariant
	ErrBusy                = tensor.ErrBusy
)

// MismatchError describes which attribute of two operands disagreed.
type MismatchError = tensor.MismatchError

// AllocationError reports a failed allocation on a device.
type AllocationError = tensor.AllocationError
