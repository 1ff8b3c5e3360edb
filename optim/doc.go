// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the optimizers layers use to update their
// parameters.
//
// An optimizer is handed to a layer (or a functional op) at construction.
// During BackProp the unit owning the parameters resets their gradients,
// accumulates the fresh ones and calls Step on each parameter, so no
// separate optimizer.Step call is needed in the training loop:
//
//	opt := optim.NewAdam(optim.AdamConfig{LR: 0.001})
//	fc, _ := nn.NewLinear(m, 10, 1, nn.LayerConfig{Bias: true, Optimizer: opt})
//	for range epochs {
//	    y, _ := fc.Forward(x)
//	    loss, _ := nn.MSE(m, y, label)
//	    _ = m.BackProp(loss)
//	    m.ClearGraph()
//	}
//
// Optimizer state (momentum, Adam moments) is kept per parameter buffer,
// so one optimizer may serve every layer of a model.
package optim
