package ops

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/autodiff"
	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/optim"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Conv2D records a 2D convolution.
//
// Forward: y = Conv2D(x, kernel, stride, padding, dilation) + bias
//
// Shapes (batch size N is carried separately):
//   - x:      [C_in, H, W]
//   - kernel: [C_out, C_in, K_h, K_w]
//   - bias:   [C_out] (optional)
//   - y:      [C_out, H_out, W_out]
//
// Backward pass:
//   - dx += transposed convolution of dy with the kernel
//   - dKernel = correlation of x with dy, summed over the batch
//   - dBias = Σ dy over batch and spatial positions
//
// References:
//   - "A guide to convolution arithmetic for deep learning" (Dumoulin & Visin, 2016)
type Conv2D struct {
	input  autodiff.TensorKey
	kernel autodiff.TensorKey
	bias   autodiff.TensorKey
	output autodiff.TensorKey
	cin    int
	cout   int
	params cpu.Conv2DParams
	opt    optim.Optimizer
}

// NewConv2D creates a Conv2D unit. bias may be autodiff.NoTensor and opt may be nil.
func NewConv2D(input, kernel, bias, output autodiff.TensorKey, cin, cout int, p cpu.Conv2DParams, opt optim.Optimizer) *Conv2D {
	return &Conv2D{
		input:  input,
		kernel: kernel,
		bias:   bias,
		output: output,
		cin:    cin,
		cout:   cout,
		params: p.Normalize(),
		opt:    opt,
	}
}

// Conv2DShape returns the output shape for an input [C_in, H, W] and a
// kernel [C_out, C_in, K_h, K_w].
func Conv2DShape(input, kernel tensor.Shape, p cpu.Conv2DParams) (tensor.Shape, error) {
	if len(input) != 3 {
		return nil, tensor.Mismatch("conv2d", "input rank", 3, len(input))
	}
	if len(kernel) != 4 {
		return nil, tensor.Mismatch("conv2d", "kernel rank", 4, len(kernel))
	}
	if input[0] != kernel[1] {
		return nil, tensor.Mismatch("conv2d", "input channels", kernel[1], input[0])
	}
	p = p.Normalize()
	oh, ow := p.OutSize(input[1], kernel[2]), p.OutSize(input[2], kernel[3])
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("conv2d: invalid output dimensions %dx%d (check stride/padding): %w",
			oh, ow, tensor.ErrMismatch)
	}
	return tensor.Shape{kernel[0], oh, ow}, nil
}

// Name returns "conv2d".
func (op *Conv2D) Name() string { return "conv2d" }

// Inputs returns [x].
func (op *Conv2D) Inputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.input} }

// Outputs returns [y].
func (op *Conv2D) Outputs() []autodiff.TensorKey { return []autodiff.TensorKey{op.output} }

// Parameters returns [kernel] or [kernel, bias].
func (op *Conv2D) Parameters() []autodiff.TensorKey { return params(op.kernel, op.bias) }

// Forward computes the convolution.
func (op *Conv2D) Forward(ctx autodiff.Context) error {
	m, err := data(ctx, op.input, op.kernel, op.output)
	if err != nil {
		return fmt.Errorf("conv2d: %w", err)
	}
	var bias cpu.Matrix
	if op.bias != autodiff.NoTensor {
		b, err := data(ctx, op.bias)
		if err != nil {
			return fmt.Errorf("conv2d: %w", err)
		}
		bias = b[0]
	}
	return ctx.Backend().Conv2D(m[2], m[0], m[1], bias, op.cin, op.cout, op.params)
}

// Backward accumulates dx and computes the kernel and bias gradients.
func (op *Conv2D) Backward(ctx autodiff.Context) error {
	if err := resetParamGrads(ctx, op.opt, op.Parameters()); err != nil {
		return fmt.Errorf("conv2d backward: %w", err)
	}
	m, err := data(ctx, op.input, op.kernel)
	if err != nil {
		return fmt.Errorf("conv2d backward: %w", err)
	}
	g, err := grads(ctx, op.output, op.input, op.kernel, op.bias)
	if err != nil {
		return fmt.Errorf("conv2d backward: %w", err)
	}
	if err := ctx.Backend().Conv2DBackward(g[1], g[2], g[3], g[0], m[0], m[1], op.cin, op.cout, op.params); err != nil {
		return err
	}
	return step(ctx, op.opt, op.Parameters())
}
