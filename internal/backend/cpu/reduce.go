package cpu

import (
	"github.com/born-ml/sapphire/internal/tensor"
)

// meanPlan describes how a mean along one dimension walks logical indices.
type meanPlan struct {
	unit   int // extent of the reduced dimension
	stride int // product of the extents after it
	outLen int
}

func planMean(dims []int, dim int) (meanPlan, error) {
	if dim < 0 || dim >= len(dims) {
		return meanPlan{}, tensor.Mismatch("mean", "dim", len(dims), dim)
	}
	p := meanPlan{unit: dims[dim], stride: 1, outLen: 1}
	for i, d := range dims {
		if i > dim {
			p.stride *= d
		}
		if i != dim {
			p.outLen *= d
		}
	}
	return p, nil
}

// source returns the logical input index of the i-th element reduced into output u.
func (p meanPlan) source(u, i int) int {
	outer, inner := u/p.stride, u%p.stride
	return p.unit*p.stride*outer + i*p.stride + inner
}

// Mean averages in along dims[dim] into out. dims is the full logical
// extent of in, outermost first, including any batch dimension.
func (be *Backend) Mean(out, in Matrix, dims []int, dim int) error {
	p, err := planMean(dims, dim)
	if err != nil {
		return err
	}
	if out.Logical() != p.outLen {
		return tensor.Mismatch("mean", "output size", p.outLen, out.Logical())
	}
	inv := 1 / float32(p.unit)
	for u := 0; u < p.outLen; u++ {
		var sum float32
		for i := 0; i < p.unit; i++ {
			sum += in.Data[in.Offset(p.source(u, i))]
		}
		out.Data[out.Offset(u)] = sum * inv
	}
	return nil
}

// MeanBackward accumulates dx += dy / n along the reduced dimension.
func (be *Backend) MeanBackward(dx, dy Matrix, dims []int, dim int) error {
	p, err := planMean(dims, dim)
	if err != nil {
		return err
	}
	if dy.Logical() != p.outLen {
		return tensor.Mismatch("mean backward", "gradient size", p.outLen, dy.Logical())
	}
	inv := 1 / float32(p.unit)
	for u := 0; u < p.outLen; u++ {
		g := dy.Data[dy.Offset(u)] * inv
		for i := 0; i < p.unit; i++ {
			dx.Data[dx.Offset(p.source(u, i))] += g
		}
	}
	return nil
}

// MSE writes mean((x - label)^2) over every logical cell into the single cell of out.
func (be *Backend) MSE(out, x, label Matrix) error {
	if err := sameDims("mse", x, label); err != nil {
		return err
	}
	if out.Logical() != 1 {
		return tensor.Mismatch("mse", "output size", 1, out.Logical())
	}
	var sum float32
	for n := 0; n < x.Batch; n++ {
		for r := 0; r < x.Rows; r++ {
			i, l := x.Index(n, r, 0), label.Index(n, r, 0)
			for c := 0; c < x.Cols; c++ {
				d := x.Data[i+c] - label.Data[l+c]
				sum += d * d
			}
		}
	}
	out.Data[0] = sum / float32(x.Logical())
	return nil
}

// MSEBackward accumulates dx += dLoss * 2 * (x - label) / n.
func (be *Backend) MSEBackward(dx, dLoss, x, label Matrix) error {
	if err := sameDims("mse backward", dx, x); err != nil {
		return err
	}
	if err := sameDims("mse backward", x, label); err != nil {
		return err
	}
	scale := 2 * dLoss.Data[0] / float32(x.Logical())
	be.eachRow(x.Batch, x.Rows, func(n, r int) {
		d, i, l := dx.Index(n, r, 0), x.Index(n, r, 0), label.Index(n, r, 0)
		for c := 0; c < x.Cols; c++ {
			dx.Data[d+c] += scale * (x.Data[i+c] - label.Data[l+c])
		}
	})
	return nil
}

// SplitCols copies columns [0, left.Cols) of in into left and the rest into right.
func (be *Backend) SplitCols(left, right, in Matrix) error {
	if left.Cols+right.Cols != in.Cols || left.Batch != in.Batch || right.Batch != in.Batch ||
		left.Rows != in.Rows || right.Rows != in.Rows {
		return tensor.Mismatch("split", "dims", in.Cols, []int{left.Cols, right.Cols})
	}
	be.eachRow(in.Batch, in.Rows, func(n, r int) {
		i := in.Index(n, r, 0)
		copy(left.Data[left.Index(n, r, 0):], in.Data[i:i+left.Cols])
		copy(right.Data[right.Index(n, r, 0):], in.Data[i+left.Cols:i+in.Cols])
	})
	return nil
}

// SplitColsBackward accumulates dLeft and dRight back into the matching columns of dx.
func (be *Backend) SplitColsBackward(dx, dLeft, dRight Matrix) error {
	if dLeft.Cols+dRight.Cols != dx.Cols {
		return tensor.Mismatch("split backward", "cols", dx.Cols, dLeft.Cols+dRight.Cols)
	}
	be.eachRow(dx.Batch, dx.Rows, func(n, r int) {
		d := dx.Index(n, r, 0)
		if dLeft.Data != nil {
			l := dLeft.Index(n, r, 0)
			for c := 0; c < dLeft.Cols; c++ {
				dx.Data[d+c] += dLeft.Data[l+c]
			}
		}
		if dRight.Data != nil {
			rr := dRight.Index(n, r, 0)
			for c := 0; c < dRight.Cols; c++ {
				dx.Data[d+dLeft.Cols+c] += dRight.Data[rr+c]
			}
		}
	})
	return nil
}
