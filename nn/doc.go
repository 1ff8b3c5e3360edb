// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides forward functions, layers and initializers built on
// an autodiff.Model.
//
// # Functions
//
// Each function registers its output in the model and records history so
// BackProp can reach it:
//   - Linear, Conv2D: parameterised ops, stepped by an optional optimizer
//   - ReLU, LeakyReLU: activations
//   - Add, Mul: element-wise with broadcasting over unit dimensions
//   - Mean: reduction along one dimension
//   - MSE: mean squared error loss, seeds its own gradient
//   - Split: two outputs from one input
//
// # Layers
//
// Layers own their parameters:
//
//	fc1, _ := nn.NewLinear(m, 784, 128, nn.LayerConfig{Bias: true, Optimizer: opt})
//	fc2, _ := nn.NewLinear(m, 128, 10, nn.LayerConfig{Bias: true, Optimizer: opt})
//
//	h, _ := fc1.Forward(x)
//	h, _ = nn.ReLU(m, h)
//	y, _ := fc2.Forward(h)
//	loss, _ := nn.MSE(m, y, label)
//	_ = m.BackProp(loss)
package nn
