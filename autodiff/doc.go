// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides the graph that owns tensors and drives
// reverse-mode differentiation.
//
// # Overview
//
// A Model holds tensor descriptors and units (differentiable operations)
// by key. Each descriptor owns a padded forward buffer and, unless
// registered WithoutGradient, a backward buffer of the same geometry.
// Every descriptor keeps a history ledger: which unit produced it and
// which tensors were computed from it. BackProp walks the ledgers from a
// root and runs each unit's backward pass exactly once, after all of its
// outputs have received their gradients.
//
// # Basic Usage
//
//	res := autodiff.NewResources(autodiff.WithPool(8))
//	m := autodiff.New(res, autodiff.WithName("demo"))
//	defer m.Reset()
//
//	x, _ := m.RegisterTensorDescriptor(tensor.Shape{4}, tensor.Dense,
//	    tensor.HostDevice(), 1, false, autodiff.Preserve())
//	_ = m.Load(x, []float32{1, 2, 3, 4})
//
//	y, _ := nn.ReLU(m, x)
//	loss, _ := nn.Mean(m, y, 0)
//	_ = m.SeedGradient(loss, 1)
//	_ = m.BackProp(loss)
//
//	dx, _ := m.Gradient(x)
//
// # Lifecycle
//
// ClearGraph drops every non-preserved descriptor and all units after a
// step. Collect releases the buffers of dropped descriptors. Reset releases
// everything the model allocated.
package autodiff
