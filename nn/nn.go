// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand/v2"

	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/graph"
	"github.com/born-ml/sapphire/internal/nn"
	"github.com/born-ml/sapphire/internal/optim"
)

// NoBias may be passed wherever a bias tensor is optional.
var NoBias = nn.NoBias

// Linear computes x @ w + b. When opt is non-nil, w and b are stepped
// during BackProp.
func Linear(m *graph.Model, x, w, b graph.Tensor, opt optim.Optimizer) (graph.Tensor, error) {
	return nn.Linear(m, x, w, b, opt)
}

// ReLU applies max(0, x).
func ReLU(m *graph.Model, x graph.Tensor) (graph.Tensor, error) {
	return nn.ReLU(m, x)
}

// LeakyReLU applies x for x > 0 and slope*x otherwise.
func LeakyReLU(m *graph.Model, x graph.Tensor, slope float32) (graph.Tensor, error) {
	return nn.LeakyReLU(m, x, slope)
}

// Add computes a + b with broadcasting.
func Add(m *graph.Model, a, b graph.Tensor) (graph.Tensor, error) {
	return nn.Add(m, a, b)
}

// Mul computes a * b element-wise with broadcasting.
func Mul(m *graph.Model, a, b graph.Tensor) (graph.Tensor, error) {
	return nn.Mul(m, a, b)
}

// Mean averages x along dim, keeping it with size 1.
func Mean(m *graph.Model, x graph.Tensor, dim int) (graph.Tensor, error) {
	return nn.Mean(m, x, dim)
}

// MSE returns the mean squared error between x and label.
func MSE(m *graph.Model, x, label graph.Tensor) (graph.Tensor, error) {
	return nn.MSE(m, x, label)
}

// Split cuts the last dimension of x at index at.
func Split(m *graph.Model, x graph.Tensor, at int) (left, right graph.Tensor, err error) {
	return nn.Split(m, x, at)
}

// Conv2D convolves x [cin, h, w] with kernel [cout, cin, kh, kw].
func Conv2D(m *graph.Model, x, kernel, bias graph.Tensor, p cpu.Conv2DParams, opt optim.Optimizer) (graph.Tensor, error) {
	return nn.Conv2D(m, x, kernel, bias, p, opt)
}

// Layers

// LayerConfig holds the options shared by layer constructors.
type LayerConfig = nn.LayerConfig

// LinearLayer is a fully connected layer.
type LinearLayer = nn.LinearLayer

// Conv2DLayer is a 2D convolution layer.
type Conv2DLayer = nn.Conv2DLayer

// NewLinear creates a fully connected layer with Xavier-initialised weights.
func NewLinear(m *graph.Model, inFeatures, outFeatures int, cfg LayerConfig) (*LinearLayer, error) {
	return nn.NewLinear(m, inFeatures, outFeatures, cfg)
}

// NewConv2D creates a 2D convolution layer.
func NewConv2D(m *graph.Model, inChannels, outChannels, kernelH, kernelW int, p cpu.Conv2DParams, cfg LayerConfig) (*Conv2DLayer, error) {
	return nn.NewConv2D(m, inChannels, outChannels, kernelH, kernelW, p, cfg)
}

// Initializers

// Xavier fills t from U(-a, a) with a = sqrt(6/(fanIn+fanOut)).
func Xavier(m *graph.Model, t graph.Tensor, fanIn, fanOut int, rng *rand.Rand) error {
	return nn.Xavier(m, t, fanIn, fanOut, rng)
}

// Normal fills t from N(mean, std²).
func Normal(m *graph.Model, t graph.Tensor, mean, std float64, rng *rand.Rand) error {
	return nn.Normal(m, t, mean, std, rng)
}

// Uniform fills t from U(lo, hi).
func Uniform(m *graph.Model, t graph.Tensor, lo, hi float64, rng *rand.Rand) error {
	return nn.Uniform(m, t, lo, hi, rng)
}

// Zeros fills t with 0.
func Zeros(m *graph.Model, t graph.Tensor) error { return nn.Zeros(m, t) }

// Ones fills t with 1.
func Ones(m *graph.Model, t graph.Tensor) error { return nn.Ones(m, t) }

// Constant fills t with v.
func Constant(m *graph.Model, t graph.Tensor, v float32) error { return nn.Constant(m, t, v) }

// NewRand returns a deterministic generator for initializers.
func NewRand(seed uint64) *rand.Rand { return nn.NewRand(seed) }
