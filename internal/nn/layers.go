package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/graph"
	"github.com/born-ml/sapphire/internal/optim"
	"github.com/born-ml/sapphire/internal/tensor"
)

// LayerConfig holds the options shared by layer constructors.
type LayerConfig struct {
	// Device is where the parameters are registered. Zero value is the host.
	Device tensor.Device
	// Bias adds a bias parameter.
	Bias bool
	// Optimizer steps the parameters during BackProp. Nil leaves
	// gradients accumulated for the caller.
	Optimizer optim.Optimizer
	// Rand seeds the weight initialization. Nil uses seed 0.
	Rand *rand.Rand
}

func (c LayerConfig) rng() *rand.Rand {
	if c.Rand == nil {
		return NewRand(0)
	}
	return c.Rand
}

// LinearLayer is a fully connected layer: y = x @ W + b.
//
// Weight shape: [in_features, out_features]
// Bias shape:   [out_features]
//
// Example:
//
//	fc, err := nn.NewLinear(m, 784, 128, nn.LayerConfig{Bias: true, Optimizer: opt})
//	h, err := fc.Forward(x) // [batch, 784] -> [batch, 128]
type LinearLayer struct {
	model       *graph.Model
	inFeatures  int
	outFeatures int
	weight      graph.Tensor
	bias        graph.Tensor
	opt         optim.Optimizer
}

// NewLinear registers the parameters of a Linear layer in m.
//
// Initialization:
//   - Weights: Xavier/Glorot uniform
//   - Bias: Zeros
func NewLinear(m *graph.Model, inFeatures, outFeatures int, cfg LayerConfig) (*LinearLayer, error) {
	if inFeatures <= 0 || outFeatures <= 0 {
		return nil, fmt.Errorf("linear: invalid features in=%d, out=%d", inFeatures, outFeatures)
	}
	l := &LinearLayer{model: m, inFeatures: inFeatures, outFeatures: outFeatures, opt: cfg.Optimizer}

	w, err := m.RegisterTensorDescriptor(tensor.Shape{inFeatures, outFeatures}, tensor.Dense, cfg.Device, 1, true)
	if err != nil {
		return nil, fmt.Errorf("linear weight: %w", err)
	}
	if err := Xavier(m, w, inFeatures, outFeatures, cfg.rng()); err != nil {
		return nil, fmt.Errorf("linear weight: %w", err)
	}
	l.weight = w

	if cfg.Bias {
		if l.bias, err = m.RegisterTensorDescriptor(tensor.Shape{outFeatures}, tensor.Dense, cfg.Device, 1, true); err != nil {
			return nil, fmt.Errorf("linear bias: %w", err)
		}
	}
	return l, nil
}

// Forward applies the layer to x of shape [..., in_features].
func (l *LinearLayer) Forward(x graph.Tensor) (graph.Tensor, error) {
	return Linear(l.model, x, l.weight, l.bias, l.opt)
}

// Weight returns the weight tensor.
func (l *LinearLayer) Weight() graph.Tensor { return l.weight }

// Bias returns the bias tensor, invalid when the layer has none.
func (l *LinearLayer) Bias() graph.Tensor { return l.bias }

// InFeatures returns the input dimension.
func (l *LinearLayer) InFeatures() int { return l.inFeatures }

// OutFeatures returns the output dimension.
func (l *LinearLayer) OutFeatures() int { return l.outFeatures }

// Parameters returns the trainable tensors.
func (l *LinearLayer) Parameters() []graph.Tensor {
	if l.bias.Valid() {
		return []graph.Tensor{l.weight, l.bias}
	}
	return []graph.Tensor{l.weight}
}

// Conv2DLayer is a 2D convolutional layer.
//
// Input shape:  [in_channels, height, width] per batch element
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Bias shape:   [out_channels]
// Output shape: [out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding - dilation*(kernel_h-1) - 1) / stride + 1
//	out_w = (width + 2*padding - dilation*(kernel_w-1) - 1) / stride + 1
type Conv2DLayer struct {
	model       *graph.Model
	inChannels  int
	outChannels int
	params      cpu.Conv2DParams
	kernel      graph.Tensor
	bias        graph.Tensor
	opt         optim.Optimizer
}

// NewConv2D registers the parameters of a Conv2D layer in m with Xavier
// initialized kernels and zero bias.
func NewConv2D(
	m *graph.Model,
	inChannels, outChannels int,
	kernelH, kernelW int,
	p cpu.Conv2DParams,
	cfg LayerConfig,
) (*Conv2DLayer, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels)
	}
	if kernelH <= 0 || kernelW <= 0 {
		return nil, fmt.Errorf("conv2d: invalid kernel size h=%d, w=%d", kernelH, kernelW)
	}
	c := &Conv2DLayer{
		model:       m,
		inChannels:  inChannels,
		outChannels: outChannels,
		params:      p.Normalize(),
		opt:         cfg.Optimizer,
	}

	shape := tensor.Shape{outChannels, inChannels, kernelH, kernelW}
	k, err := m.RegisterTensorDescriptor(shape, tensor.Dense, cfg.Device, 1, true)
	if err != nil {
		return nil, fmt.Errorf("conv2d kernel: %w", err)
	}
	fanIn := inChannels * kernelH * kernelW
	fanOut := outChannels * kernelH * kernelW
	if err := Xavier(m, k, fanIn, fanOut, cfg.rng()); err != nil {
		return nil, fmt.Errorf("conv2d kernel: %w", err)
	}
	c.kernel = k

	if cfg.Bias {
		if c.bias, err = m.RegisterTensorDescriptor(tensor.Shape{outChannels}, tensor.Dense, cfg.Device, 1, true); err != nil {
			return nil, fmt.Errorf("conv2d bias: %w", err)
		}
	}
	return c, nil
}

// Forward convolves x of shape [in_channels, height, width].
func (c *Conv2DLayer) Forward(x graph.Tensor) (graph.Tensor, error) {
	return Conv2D(c.model, x, c.kernel, c.bias, c.params, c.opt)
}

// Kernel returns the kernel tensor.
func (c *Conv2DLayer) Kernel() graph.Tensor { return c.kernel }

// Bias returns the bias tensor, invalid when the layer has none.
func (c *Conv2DLayer) Bias() graph.Tensor { return c.bias }

// Params returns the normalized stride, padding and dilation.
func (c *Conv2DLayer) Params() cpu.Conv2DParams { return c.params }

// Parameters returns the trainable tensors.
func (c *Conv2DLayer) Parameters() []graph.Tensor {
	if c.bias.Valid() {
		return []graph.Tensor{c.kernel, c.bias}
	}
	return []graph.Tensor{c.kernel}
}
