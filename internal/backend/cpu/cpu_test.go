package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sapphire/internal/parallel"
	"github.com/born-ml/sapphire/internal/storage"
	"github.com/born-ml/sapphire/internal/tensor"
)

const poison = float32(-777)

// buffer allocates a host buffer with padding poisoned and the logical
// cells set to vals (or left zero when vals is nil).
func buffer(t *testing.T, shape tensor.Shape, batch int, vals []float32) (*storage.Buffer, Matrix) {
	t.Helper()
	b, err := storage.Allocate(shape, tensor.HostDevice(), batch)
	require.NoError(t, err)
	data, err := b.Float32()
	require.NoError(t, err)
	for i := range data {
		data[i] = poison
	}
	if vals == nil {
		vals = make([]float32, b.Geometry().Logical())
	}
	require.NoError(t, b.Load(vals))
	m, err := View(b)
	require.NoError(t, err)
	return b, m
}

func values(t *testing.T, b *storage.Buffer) []float32 {
	t.Helper()
	v, err := b.Values()
	require.NoError(t, err)
	return v
}

// paddingIntact checks that no kernel wrote into padding cells.
func paddingIntact(t *testing.T, m Matrix) {
	t.Helper()
	for n := 0; n < m.Batch; n++ {
		for r := 0; r < m.PaddedRows; r++ {
			for c := 0; c < m.PaddedCols; c++ {
				if r < m.Rows && c < m.Cols {
					continue
				}
				require.Equal(t, poison, m.At(n, r, c), "padding cell (%d,%d,%d) modified", n, r, c)
			}
		}
	}
}

func backends() map[string]*Backend {
	return map[string]*Backend{
		"sequential": New(parallel.Sequential()),
		"parallel":   New(parallel.WithWorkers(4)),
	}
}

func TestAdd_Broadcast(t *testing.T) {
	for name, be := range backends() {
		t.Run(name, func(t *testing.T) {
			_, a := buffer(t, tensor.Shape{2, 3}, 2, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
			_, bias := buffer(t, tensor.Shape{1, 3}, 1, []float32{10, 20, 30})
			ob, out := buffer(t, tensor.Shape{2, 3}, 2, nil)

			require.NoError(t, be.Add(out, a, bias))
			assert.Equal(t, []float32{11, 22, 33, 14, 25, 36, 17, 28, 39, 20, 31, 42}, values(t, ob))
			paddingIntact(t, out)
		})
	}
}

func TestSubMul(t *testing.T) {
	be := New(parallel.Sequential())
	_, a := buffer(t, tensor.Shape{2, 2}, 1, []float32{5, 6, 7, 8})
	_, b := buffer(t, tensor.Shape{2, 2}, 1, []float32{1, 2, 3, 4})
	ob, out := buffer(t, tensor.Shape{2, 2}, 1, nil)

	require.NoError(t, be.Sub(out, a, b))
	assert.Equal(t, []float32{4, 4, 4, 4}, values(t, ob))

	require.NoError(t, be.Mul(out, a, b))
	assert.Equal(t, []float32{5, 12, 21, 32}, values(t, ob))

	_, wrong := buffer(t, tensor.Shape{3, 2}, 1, nil)
	assert.ErrorIs(t, be.Add(out, a, wrong), tensor.ErrMismatch)
}

func TestAccumulate_ReducesBroadcastDims(t *testing.T) {
	be := New(parallel.Sequential())
	_, src := buffer(t, tensor.Shape{2, 3}, 2, []float32{1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 4})
	db, dst := buffer(t, tensor.Shape{1, 3}, 1, []float32{1, 1, 1})

	require.NoError(t, be.Accumulate(dst, src, 1))
	assert.Equal(t, []float32{11, 11, 11}, values(t, db))
	paddingIntact(t, dst)
}

func TestAccumulateProduct(t *testing.T) {
	be := New(parallel.Sequential())
	_, dy := buffer(t, tensor.Shape{1, 2}, 2, []float32{1, 2, 3, 4})
	_, b := buffer(t, tensor.Shape{1, 2}, 1, []float32{10, 100})
	db, dst := buffer(t, tensor.Shape{1, 2}, 1, nil)

	require.NoError(t, be.AccumulateProduct(dst, dy, b, 1))
	assert.Equal(t, []float32{40, 600}, values(t, db))
}

func TestGemm(t *testing.T) {
	for name, be := range backends() {
		t.Run(name, func(t *testing.T) {
			_, a := buffer(t, tensor.Shape{2, 3}, 1, []float32{1, 2, 3, 4, 5, 6})
			_, b := buffer(t, tensor.Shape{3, 2}, 1, []float32{7, 8, 9, 10, 11, 12})
			ob, out := buffer(t, tensor.Shape{2, 2}, 1, nil)

			require.NoError(t, be.Gemm(out, a, b, false, false, 1, 0))
			assert.Equal(t, []float32{58, 64, 139, 154}, values(t, ob))
			paddingIntact(t, out)

			// Accumulate with beta = 1.
			require.NoError(t, be.Gemm(out, a, b, false, false, 1, 1))
			assert.Equal(t, []float32{116, 128, 278, 308}, values(t, ob))
		})
	}
}

func TestGemm_Transposed(t *testing.T) {
	be := New(parallel.Sequential())
	// a^T = [[1 2 3] [4 5 6]], b^T = [[7 8] [9 10] [11 12]].
	_, a := buffer(t, tensor.Shape{3, 2}, 1, []float32{1, 4, 2, 5, 3, 6})
	_, b := buffer(t, tensor.Shape{2, 3}, 1, []float32{7, 9, 11, 8, 10, 12})
	ob, out := buffer(t, tensor.Shape{2, 2}, 1, nil)

	require.NoError(t, be.Gemm(out, a, b, true, true, 1, 0))
	assert.Equal(t, []float32{58, 64, 139, 154}, values(t, ob))
}

// A batch-1 output sums the products of every batch entry.
func TestGemm_BatchReduction(t *testing.T) {
	be := New(parallel.Sequential())
	_, x := buffer(t, tensor.Shape{1, 2}, 2, []float32{1, 2, 3, 4})
	_, dy := buffer(t, tensor.Shape{1, 1}, 2, []float32{1, 10})
	ob, dw := buffer(t, tensor.Shape{2, 1}, 1, nil)

	require.NoError(t, be.Gemm(dw, x, dy, true, false, 1, 1))
	assert.Equal(t, []float32{31, 42}, values(t, ob))
}

func TestGemm_Mismatch(t *testing.T) {
	be := New(parallel.Sequential())
	_, a := buffer(t, tensor.Shape{2, 3}, 1, nil)
	_, b := buffer(t, tensor.Shape{2, 3}, 1, nil)
	_, out := buffer(t, tensor.Shape{2, 3}, 1, nil)
	assert.ErrorIs(t, be.Gemm(out, a, b, false, false, 1, 0), tensor.ErrMismatch)
}

func TestReLU(t *testing.T) {
	be := New(parallel.Sequential())
	_, x := buffer(t, tensor.Shape{1, 4}, 1, []float32{-2, -0.5, 0, 3})
	ob, out := buffer(t, tensor.Shape{1, 4}, 1, nil)
	require.NoError(t, be.ReLU(out, x))
	assert.Equal(t, []float32{0, 0, 0, 3}, values(t, ob))

	require.NoError(t, be.LeakyReLU(out, x, 0.1))
	assert.InDeltaSlice(t, []float32{-0.2, -0.05, 0, 3}, values(t, ob), 1e-6)

	_, dy := buffer(t, tensor.Shape{1, 4}, 1, []float32{1, 1, 1, 1})
	dxb, dx := buffer(t, tensor.Shape{1, 4}, 1, []float32{1, 1, 1, 1})
	require.NoError(t, be.ReLUBackward(dx, dy, x))
	assert.Equal(t, []float32{1, 1, 1, 2}, values(t, dxb))

	require.NoError(t, be.LeakyReLUBackward(dx, dy, x, 0.5))
	assert.Equal(t, []float32{1.5, 1.5, 1.5, 3}, values(t, dxb))
}

func TestMean(t *testing.T) {
	be := New(parallel.Sequential())
	// Logical extent (batch=1, 2, 3).
	_, x := buffer(t, tensor.Shape{2, 3}, 1, []float32{1, 2, 3, 4, 5, 6})

	ob, rows := buffer(t, tensor.Shape{1, 3}, 1, nil)
	require.NoError(t, be.Mean(rows, x, []int{1, 2, 3}, 1))
	assert.Equal(t, []float32{2.5, 3.5, 4.5}, values(t, ob))

	oc, cols := buffer(t, tensor.Shape{2, 1}, 1, nil)
	require.NoError(t, be.Mean(cols, x, []int{1, 2, 3}, 2))
	assert.Equal(t, []float32{2, 5}, values(t, oc))

	dxb, dx := buffer(t, tensor.Shape{2, 3}, 1, nil)
	_, dy := buffer(t, tensor.Shape{2, 1}, 1, []float32{3, 6})
	require.NoError(t, be.MeanBackward(dx, dy, []int{1, 2, 3}, 2))
	assert.Equal(t, []float32{1, 1, 1, 2, 2, 2}, values(t, dxb))
	paddingIntact(t, dx)
}

func TestMSE(t *testing.T) {
	be := New(parallel.Sequential())
	_, x := buffer(t, tensor.Shape{1, 4}, 1, []float32{1, 2, 3, 4})
	_, label := buffer(t, tensor.Shape{1, 4}, 1, []float32{0, 2, 3, 6})
	lb, loss := buffer(t, tensor.Shape{1}, 1, nil)

	require.NoError(t, be.MSE(loss, x, label))
	assert.InDelta(t, 1.25, values(t, lb)[0], 1e-6)

	_, dLoss := buffer(t, tensor.Shape{1}, 1, []float32{1})
	dxb, dx := buffer(t, tensor.Shape{1, 4}, 1, nil)
	require.NoError(t, be.MSEBackward(dx, dLoss, x, label))
	assert.InDeltaSlice(t, []float32{0.5, 0, 0, -1}, values(t, dxb), 1e-6)
}

func TestSplitCols(t *testing.T) {
	be := New(parallel.Sequential())
	_, in := buffer(t, tensor.Shape{2, 5}, 1, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	lb, left := buffer(t, tensor.Shape{2, 2}, 1, nil)
	rb, right := buffer(t, tensor.Shape{2, 3}, 1, nil)

	require.NoError(t, be.SplitCols(left, right, in))
	assert.Equal(t, []float32{1, 2, 6, 7}, values(t, lb))
	assert.Equal(t, []float32{3, 4, 5, 8, 9, 10}, values(t, rb))

	dxb, dx := buffer(t, tensor.Shape{2, 5}, 1, nil)
	require.NoError(t, be.SplitColsBackward(dx, left, Matrix{Cols: 3}))
	assert.Equal(t, []float32{1, 2, 0, 0, 0, 6, 7, 0, 0, 0}, values(t, dxb))
	paddingIntact(t, dx)
}

func TestConv2D_Forward(t *testing.T) {
	be := New(parallel.Sequential())
	_, in := buffer(t, tensor.Shape{1, 3, 3}, 1, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	_, kernel := buffer(t, tensor.Shape{1, 1, 2, 2}, 1, []float32{1, 0, 0, 1})
	ob, out := buffer(t, tensor.Shape{1, 2, 2}, 1, nil)

	require.NoError(t, be.Conv2D(out, in, kernel, Matrix{}, 1, 1, Conv2DParams{Stride: 1}))
	assert.Equal(t, []float32{6, 8, 12, 14}, values(t, ob))
	paddingIntact(t, out)

	_, bias := buffer(t, tensor.Shape{1, 1, 1}, 1, []float32{0.5})
	require.NoError(t, be.Conv2D(out, in, kernel, bias, 1, 1, Conv2DParams{}))
	assert.Equal(t, []float32{6.5, 8.5, 12.5, 14.5}, values(t, ob))
}

func TestConv2D_PaddingStrideDilation(t *testing.T) {
	p := Conv2DParams{Stride: 2, Padding: 1, Dilation: 1}
	assert.Equal(t, 3, p.OutSize(5, 3))
	assert.Equal(t, 1, Conv2DParams{Stride: 1, Dilation: 2}.Normalize().OutSize(5, 3))

	be := New(parallel.Sequential())
	_, in := buffer(t, tensor.Shape{1, 3, 3}, 1, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	_, kernel := buffer(t, tensor.Shape{1, 1, 3, 3}, 1, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1})
	ob, out := buffer(t, tensor.Shape{1, 2, 2}, 1, nil)

	// Padding 1 and stride 2 sum each 2x2 corner window of the input.
	require.NoError(t, be.Conv2D(out, in, kernel, Matrix{}, 1, 1, Conv2DParams{Stride: 2, Padding: 1}))
	assert.Equal(t, []float32{12, 16, 24, 28}, values(t, ob))
}

func TestConv2D_Backward(t *testing.T) {
	be := New(parallel.Sequential())
	_, in := buffer(t, tensor.Shape{1, 3, 3}, 1, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	_, kernel := buffer(t, tensor.Shape{1, 1, 2, 2}, 1, []float32{1, 0, 0, 1})
	_, dOut := buffer(t, tensor.Shape{1, 2, 2}, 1, []float32{1, 1, 1, 1})
	dib, dIn := buffer(t, tensor.Shape{1, 3, 3}, 1, nil)
	dkb, dKernel := buffer(t, tensor.Shape{1, 1, 2, 2}, 1, nil)
	dbb, dBias := buffer(t, tensor.Shape{1, 1, 1}, 1, nil)

	require.NoError(t, be.Conv2DBackward(dIn, dKernel, dBias, dOut, in, kernel, 1, 1, Conv2DParams{}))
	assert.Equal(t, []float32{1, 1, 0, 1, 2, 1, 0, 1, 1}, values(t, dib))
	assert.Equal(t, []float32{12, 16, 24, 28}, values(t, dkb))
	assert.Equal(t, []float32{4}, values(t, dbb))
	paddingIntact(t, dIn)
}

func TestConv2D_ChannelMismatch(t *testing.T) {
	be := New(parallel.Sequential())
	_, in := buffer(t, tensor.Shape{2, 3, 3}, 1, nil)
	_, kernel := buffer(t, tensor.Shape{1, 1, 2, 2}, 1, nil)
	_, out := buffer(t, tensor.Shape{1, 2, 2}, 1, nil)
	assert.ErrorIs(t, be.Conv2D(out, in, kernel, Matrix{}, 2, 1, Conv2DParams{}), tensor.ErrMismatch)
}
