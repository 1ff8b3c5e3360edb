package cpu

import (
	"github.com/born-ml/sapphire/internal/tensor"
)

// Add computes out = a + b, broadcasting unit batch, row or column dims.
func (be *Backend) Add(out, a, b Matrix) error {
	return be.binary("add", out, a, b, func(x, y float32) float32 { return x + y })
}

// Sub computes out = a - b with broadcasting.
func (be *Backend) Sub(out, a, b Matrix) error {
	return be.binary("sub", out, a, b, func(x, y float32) float32 { return x - y })
}

// Mul computes out = a * b element-wise with broadcasting.
func (be *Backend) Mul(out, a, b Matrix) error {
	return be.binary("mul", out, a, b, func(x, y float32) float32 { return x * y })
}

func (be *Backend) binary(op string, out, a, b Matrix, f func(x, y float32) float32) error {
	batch, rows, cols, err := broadcastDims(op, a, b)
	if err != nil {
		return err
	}
	if out.Batch != batch || out.Rows != rows || out.Cols != cols {
		return tensor.Mismatch(op, "output dims", []int{batch, rows, cols}, []int{out.Batch, out.Rows, out.Cols})
	}
	be.eachRow(batch, rows, func(n, r int) {
		o := out.Index(n, r, 0)
		for c := 0; c < cols; c++ {
			out.Data[o+c] = f(a.Data[a.bcast(n, r, c)], b.Data[b.bcast(n, r, c)])
		}
	})
	return nil
}

// Scale computes out = alpha * a.
func (be *Backend) Scale(out, a Matrix, alpha float32) error {
	if err := sameDims("scale", out, a); err != nil {
		return err
	}
	be.eachRow(a.Batch, a.Rows, func(n, r int) {
		o, i := out.Index(n, r, 0), a.Index(n, r, 0)
		for c := 0; c < a.Cols; c++ {
			out.Data[o+c] = alpha * a.Data[i+c]
		}
	})
	return nil
}

// Fill sets every logical cell of m to v.
func (be *Backend) Fill(m Matrix, v float32) {
	be.eachRow(m.Batch, m.Rows, func(n, r int) {
		row := m.Data[m.Index(n, r, 0):]
		for c := 0; c < m.Cols; c++ {
			row[c] = v
		}
	})
}

// Accumulate computes dst += alpha * src. Any dst dimension of 1 facing a
// larger src dimension is summed over, which is how broadcast operands
// collect their gradients.
func (be *Backend) Accumulate(dst, src Matrix, alpha float32) error {
	if err := reducible("accumulate", dst, src.Batch, src.Rows, src.Cols); err != nil {
		return err
	}
	if sameDims("accumulate", dst, src) == nil {
		be.eachRow(src.Batch, src.Rows, func(n, r int) {
			d, s := dst.Index(n, r, 0), src.Index(n, r, 0)
			for c := 0; c < src.Cols; c++ {
				dst.Data[d+c] += alpha * src.Data[s+c]
			}
		})
		return nil
	}
	for n := 0; n < src.Batch; n++ {
		for r := 0; r < src.Rows; r++ {
			for c := 0; c < src.Cols; c++ {
				dst.Data[dst.bcast(n, r, c)] += alpha * src.At(n, r, c)
			}
		}
	}
	return nil
}

// AccumulateProduct computes dst += alpha * a * b over the broadcast grid
// of a and b, reducing into dst where dst has unit dimensions.
func (be *Backend) AccumulateProduct(dst, a, b Matrix, alpha float32) error {
	batch, rows, cols, err := broadcastDims("accumulate product", a, b)
	if err != nil {
		return err
	}
	if err := reducible("accumulate product", dst, batch, rows, cols); err != nil {
		return err
	}
	for n := 0; n < batch; n++ {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				dst.Data[dst.bcast(n, r, c)] += alpha * a.Data[a.bcast(n, r, c)] * b.Data[b.bcast(n, r, c)]
			}
		}
	}
	return nil
}

// reducible checks that every dst dimension equals the grid's or is 1.
func reducible(op string, dst Matrix, batch, rows, cols int) error {
	ok := func(d, g int) bool { return d == g || d == 1 }
	if !ok(dst.Batch, batch) || !ok(dst.Rows, rows) || !ok(dst.Cols, cols) {
		return tensor.Mismatch(op, "reduction dims", []int{batch, rows, cols}, []int{dst.Batch, dst.Rows, dst.Cols})
	}
	return nil
}
