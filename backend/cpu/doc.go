// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu exposes the host kernel backend.
//
// Kernels operate on padded float32 views of storage buffers. Forward
// kernels overwrite their output; backward kernels accumulate into the
// gradients they write, which is what lets a tensor consumed on several
// paths collect the sum of every contribution.
//
// Large loops are split across goroutines. The worker count defaults to
// runtime.NumCPU:
//
//	be := cpu.New()                 // one worker per CPU
//	be = cpu.NewWithWorkers(1)      // sequential, for reproducible timing
//
// A model uses its own backend unless one is passed with
// autodiff.WithBackend.
package cpu
