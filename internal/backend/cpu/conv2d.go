package cpu

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/parallel"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Conv2DParams are the spatial hyper-parameters of a 2D convolution.
type Conv2DParams struct {
	Stride   int
	Padding  int
	Dilation int
}

// Normalize replaces non-positive stride and dilation with 1.
func (p Conv2DParams) Normalize() Conv2DParams {
	if p.Stride <= 0 {
		p.Stride = 1
	}
	if p.Dilation <= 0 {
		p.Dilation = 1
	}
	if p.Padding < 0 {
		p.Padding = 0
	}
	return p
}

// OutSize returns the output extent for an input extent and kernel extent.
func (p Conv2DParams) OutSize(in, kernel int) int {
	return (in+2*p.Padding-p.Dilation*(kernel-1)-1)/p.Stride + 1
}

// convDims are the extents shared by the forward and backward kernels.
//
// Inputs are stored as N*CIn matrices of H x W, kernels as COut*CIn
// matrices of KH x KW and outputs as N*COut matrices of OH x OW.
type convDims struct {
	N, CIn, COut   int
	H, W, KH, KW   int
	OH, OW         int
	stride, pad, d int
}

func planConv(in, kernel, out Matrix, cin, cout int, p Conv2DParams) (convDims, error) {
	p = p.Normalize()
	if cin <= 0 || in.Batch%cin != 0 {
		return convDims{}, tensor.Mismatch("conv2d", "input channels", cin, in.Batch)
	}
	if kernel.Batch != cout*cin {
		return convDims{}, tensor.Mismatch("conv2d", "kernel channels", cout*cin, kernel.Batch)
	}
	d := convDims{
		N: in.Batch / cin, CIn: cin, COut: cout,
		H: in.Rows, W: in.Cols, KH: kernel.Rows, KW: kernel.Cols,
		stride: p.Stride, pad: p.Padding, d: p.Dilation,
	}
	d.OH, d.OW = p.OutSize(d.H, d.KH), p.OutSize(d.W, d.KW)
	if d.OH <= 0 || d.OW <= 0 {
		return convDims{}, fmt.Errorf("conv2d: invalid output dimensions %dx%d (check stride/padding): %w",
			d.OH, d.OW, tensor.ErrMismatch)
	}
	if out.Batch != d.N*cout || out.Rows != d.OH || out.Cols != d.OW {
		return convDims{}, tensor.Mismatch("conv2d", "output dims",
			[]int{d.N * cout, d.OH, d.OW}, []int{out.Batch, out.Rows, out.Cols})
	}
	return d, nil
}

// taps calls f for every kernel tap of output cell (oh, ow) that lands inside the input.
func (d convDims) taps(oh, ow int, f func(kh, kw, ih, iw int)) {
	for kh := 0; kh < d.KH; kh++ {
		ih := oh*d.stride - d.pad + kh*d.d
		if ih < 0 || ih >= d.H {
			continue
		}
		for kw := 0; kw < d.KW; kw++ {
			iw := ow*d.stride - d.pad + kw*d.d
			if iw < 0 || iw >= d.W {
				continue
			}
			f(kh, kw, ih, iw)
		}
	}
}

// Conv2D computes a direct NCHW convolution with optional per-channel bias
// (bias.Data == nil disables it).
func (be *Backend) Conv2D(out, in, kernel, bias Matrix, cin, cout int, p Conv2DParams) error {
	d, err := planConv(in, kernel, out, cin, cout, p)
	if err != nil {
		return err
	}
	if bias.Data != nil && bias.Logical() != cout {
		return tensor.Mismatch("conv2d", "bias size", cout, bias.Logical())
	}

	parallel.ForBatch(d.N, d.COut, func(n, co int) {
		var b float32
		if bias.Data != nil {
			b = bias.Data[bias.Offset(co)]
		}
		ob := n*d.COut + co
		for oh := 0; oh < d.OH; oh++ {
			for ow := 0; ow < d.OW; ow++ {
				sum := b
				for ci := 0; ci < d.CIn; ci++ {
					ib, kb := n*d.CIn+ci, co*d.CIn+ci
					d.taps(oh, ow, func(kh, kw, ih, iw int) {
						sum += in.At(ib, ih, iw) * kernel.At(kb, kh, kw)
					})
				}
				out.Data[out.Index(ob, oh, ow)] = sum
			}
		}
	}, be.par)
	return nil
}

// Conv2DBackward accumulates gradients for the input, kernel and bias.
// Any gradient whose Data is nil is skipped.
func (be *Backend) Conv2DBackward(dIn, dKernel, dBias, dOut, in, kernel Matrix, cin, cout int, p Conv2DParams) error {
	d, err := planConv(in, kernel, dOut, cin, cout, p)
	if err != nil {
		return err
	}

	if dIn.Data != nil {
		parallel.ForBatch(d.N, d.CIn, func(n, ci int) {
			ib := n*d.CIn + ci
			for co := 0; co < d.COut; co++ {
				ob, kb := n*d.COut+co, co*d.CIn+ci
				for oh := 0; oh < d.OH; oh++ {
					for ow := 0; ow < d.OW; ow++ {
						g := dOut.At(ob, oh, ow)
						d.taps(oh, ow, func(kh, kw, ih, iw int) {
							dIn.Data[dIn.Index(ib, ih, iw)] += g * kernel.At(kb, kh, kw)
						})
					}
				}
			}
		}, be.par)
	}

	if dKernel.Data != nil {
		parallel.ForBatch(d.COut, d.CIn, func(co, ci int) {
			kb := co*d.CIn + ci
			for n := 0; n < d.N; n++ {
				ib, ob := n*d.CIn+ci, n*d.COut+co
				for oh := 0; oh < d.OH; oh++ {
					for ow := 0; ow < d.OW; ow++ {
						g := dOut.At(ob, oh, ow)
						d.taps(oh, ow, func(kh, kw, ih, iw int) {
							dKernel.Data[dKernel.Index(kb, kh, kw)] += g * in.At(ib, ih, iw)
						})
					}
				}
			}
		}, be.par)
	}

	if dBias.Data != nil {
		for co := 0; co < d.COut; co++ {
			var sum float32
			for n := 0; n < d.N; n++ {
				ob := n*d.COut + co
				for oh := 0; oh < d.OH; oh++ {
					for ow := 0; ow < d.OW; ow++ {
						sum += dOut.At(ob, oh, ow)
					}
				}
			}
			dBias.Data[dBias.Offset(co)] += sum
		}
	}
	return nil
}
