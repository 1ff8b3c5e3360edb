package nn

import (
	"math"
	"math/rand/v2"

	"github.com/born-ml/sapphire/internal/graph"
)

// Xavier (Glorot) initialization for weights.
//
// Fills t with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// This initialization helps maintain variance of activations across layers.
func Xavier(m *graph.Model, t graph.Tensor, fanIn, fanOut int, rng *rand.Rand) error {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return fill(m, t, func() float32 {
		return float32((rng.Float64()*2.0 - 1.0) * bound)
	})
}

// Normal fills t with values drawn from N(mean, std^2).
func Normal(m *graph.Model, t graph.Tensor, mean, std float64, rng *rand.Rand) error {
	return fill(m, t, func() float32 {
		return float32(mean + std*rng.NormFloat64())
	})
}

// Uniform fills t with values drawn from U(lo, hi).
func Uniform(m *graph.Model, t graph.Tensor, lo, hi float64, rng *rand.Rand) error {
	return fill(m, t, func() float32 {
		return float32(lo + (hi-lo)*rng.Float64())
	})
}

// Zeros sets every element of t to zero.
//
// This is commonly used for bias initialization.
func Zeros(m *graph.Model, t graph.Tensor) error {
	return Constant(m, t, 0)
}

// Ones sets every element of t to one.
func Ones(m *graph.Model, t graph.Tensor) error {
	return Constant(m, t, 1)
}

// Constant sets every element of t to v.
func Constant(m *graph.Model, t graph.Tensor, v float32) error {
	return fill(m, t, func() float32 { return v })
}

// NewRand returns a generator seeded with seed, for reproducible
// initialization.
func NewRand(seed uint64) *rand.Rand {
	//nolint:gosec // Using math/rand for weight initialization (not security-critical)
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func fill(m *graph.Model, t graph.Tensor, next func() float32) error {
	d, err := m.Descriptor(t)
	if err != nil {
		return err
	}
	values := make([]float32, d.Shape().Size()*d.BatchSize())
	for i := range values {
		values[i] = next()
	}
	return m.Load(t, values)
}
