package cpu

import (
	"github.com/born-ml/sapphire/internal/tensor"
)

// Gemm computes out = alpha * op(a) @ op(b) + beta * out, where op
// optionally transposes the innermost two dimensions.
//
// a and b may each have batch 1, in which case they are shared by every
// batch entry of the other operand. When out has batch 1 and the operands
// have more, the products of all batch entries are summed into out; the
// weight gradient of a batched linear layer is computed this way.
func (be *Backend) Gemm(out, a, b Matrix, transA, transB bool, alpha, beta float32) error {
	m, k := a.Rows, a.Cols
	if transA {
		m, k = k, m
	}
	kb, n := b.Rows, b.Cols
	if transB {
		kb, n = n, kb
	}
	if k != kb {
		return tensor.Mismatch("gemm", "inner dimension", k, kb)
	}
	if out.Rows != m || out.Cols != n {
		return tensor.Mismatch("gemm", "output dims", []int{m, n}, []int{out.Rows, out.Cols})
	}

	batch := a.Batch
	switch {
	case a.Batch == b.Batch || b.Batch == 1:
	case a.Batch == 1:
		batch = b.Batch
	default:
		return tensor.Mismatch("gemm", "batch", a.Batch, b.Batch)
	}

	aAt := func(nb, i, kk int) float32 {
		if transA {
			return a.Data[a.bcast(nb, kk, i)]
		}
		return a.Data[a.bcast(nb, i, kk)]
	}
	bAt := func(nb, kk, j int) float32 {
		if transB {
			return b.Data[b.bcast(nb, j, kk)]
		}
		return b.Data[b.bcast(nb, kk, j)]
	}

	switch out.Batch {
	case batch:
		be.eachRow(batch, m, func(nb, i int) {
			o := out.Index(nb, i, 0)
			for j := 0; j < n; j++ {
				var sum float32
				for kk := 0; kk < k; kk++ {
					sum += aAt(nb, i, kk) * bAt(nb, kk, j)
				}
				out.Data[o+j] = alpha*sum + beta*out.Data[o+j]
			}
		})
	case 1:
		be.eachRow(1, m, func(_, i int) {
			o := out.Index(0, i, 0)
			for j := 0; j < n; j++ {
				var sum float32
				for nb := 0; nb < batch; nb++ {
					for kk := 0; kk < k; kk++ {
						sum += aAt(nb, i, kk) * bAt(nb, kk, j)
					}
				}
				out.Data[o+j] = alpha*sum + beta*out.Data[o+j]
			}
		})
	default:
		return tensor.Mismatch("gemm", "output batch", batch, out.Batch)
	}
	return nil
}
