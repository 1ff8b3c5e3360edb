package optim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sapphire/internal/optim"
	"github.com/born-ml/sapphire/internal/storage"
	"github.com/born-ml/sapphire/internal/tensor"
)

func param(t *testing.T, vals ...float32) *storage.Buffer {
	t.Helper()
	b, err := storage.Allocate(tensor.Shape{len(vals)}, tensor.HostDevice(), 1)
	require.NoError(t, err)
	require.NoError(t, b.Load(vals))
	return b
}

func valuesOf(t *testing.T, b *storage.Buffer) []float32 {
	t.Helper()
	v, err := b.Values()
	require.NoError(t, err)
	return v
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	x := param(t, 2.0)
	grad := param(t, 1.0)

	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1})
	require.NoError(t, opt.Step(x, grad))

	// x_new = 2.0 - 0.1 * 1.0
	assert.InDelta(t, 1.9, valuesOf(t, x)[0], 1e-6)
}

// TestSGD_WithMomentum tests that velocity carries across steps.
func TestSGD_WithMomentum(t *testing.T) {
	x := param(t, 1.0)
	grad := param(t, 1.0)

	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	require.NoError(t, opt.Step(x, grad)) // v = 1, x = 0.9
	require.NoError(t, opt.Step(x, grad)) // v = 1.9, x = 0.71

	assert.InDelta(t, 0.71, valuesOf(t, x)[0], 1e-6)

	opt.Forget(x)
	require.NoError(t, opt.Step(x, grad)) // v = 1 again, x = 0.61
	assert.InDelta(t, 0.61, valuesOf(t, x)[0], 1e-6)
}

func TestSGD_Defaults(t *testing.T) {
	opt := optim.NewSGD(optim.SGDConfig{})
	assert.InDelta(t, 0.01, opt.GetLR(), 1e-9)
	opt.SetLR(0.5)
	assert.InDelta(t, 0.5, opt.GetLR(), 1e-9)
}

// TestSGD_PaddingUntouched checks that padding cells never move.
func TestSGD_PaddingUntouched(t *testing.T) {
	x := param(t, 1, 2, 3)
	grad := param(t, 1, 1, 1)
	data, err := grad.Float32()
	require.NoError(t, err)
	for i := 3; i < len(data); i++ {
		data[i] = 100
	}

	require.NoError(t, optim.NewSGD(optim.SGDConfig{LR: 1}).Step(x, grad))

	raw, err := x.Float32()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2}, raw[:3])
	for _, v := range raw[3:] {
		assert.Zero(t, v)
	}
}

func TestStep_ShapeMismatch(t *testing.T) {
	x := param(t, 1, 2)
	grad := param(t, 1, 2, 3)

	assert.ErrorIs(t, optim.NewSGD(optim.SGDConfig{}).Step(x, grad), tensor.ErrMismatch)
	assert.ErrorIs(t, optim.NewAdam(optim.AdamConfig{}).Step(x, grad), tensor.ErrMismatch)
}

// TestAdam_FirstStep checks the bias-corrected first step moves by lr.
func TestAdam_FirstStep(t *testing.T) {
	x := param(t, 1.0, -1.0)
	grad := param(t, 0.5, -2.0)

	opt := optim.NewAdam(optim.AdamConfig{LR: 0.1})
	require.NoError(t, opt.Step(x, grad))

	// m_hat = g, v_hat = g², so the update is lr * sign(g).
	got := valuesOf(t, x)
	assert.InDelta(t, 0.9, got[0], 1e-5)
	assert.InDelta(t, -0.9, got[1], 1e-5)
	assert.Equal(t, 1, opt.GetTimestep(x))
}

// TestAdam_Converges minimizes f(x) = x² from x = 3.
func TestAdam_Converges(t *testing.T) {
	x := param(t, 3.0)
	grad := param(t, 0)
	opt := optim.NewAdam(optim.AdamConfig{LR: 0.1})

	for range 300 {
		v := valuesOf(t, x)[0]
		require.NoError(t, grad.Load([]float32{2 * v}))
		require.NoError(t, opt.Step(x, grad))
	}

	assert.Less(t, math.Abs(float64(valuesOf(t, x)[0])), 0.5)
	assert.Equal(t, 300, opt.GetTimestep(x))
}

// Per-parameter timesteps keep two parameters independent.
func TestAdam_IndependentState(t *testing.T) {
	a := param(t, 1)
	b := param(t, 1)
	grad := param(t, 1)
	opt := optim.NewAdam(optim.AdamConfig{})

	require.NoError(t, opt.Step(a, grad))
	require.NoError(t, opt.Step(a, grad))
	require.NoError(t, opt.Step(b, grad))

	assert.Equal(t, 2, opt.GetTimestep(a))
	assert.Equal(t, 1, opt.GetTimestep(b))

	opt.Forget(a)
	assert.Zero(t, opt.GetTimestep(a))
}
