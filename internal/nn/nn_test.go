package nn_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/graph"
	"github.com/born-ml/sapphire/internal/nn"
	"github.com/born-ml/sapphire/internal/optim"
	"github.com/born-ml/sapphire/internal/tensor"
)

func newTensor(t *testing.T, m *graph.Model, shape tensor.Shape, batch int, values []float32, opts ...graph.DescriptorOption) graph.Tensor {
	t.Helper()
	x, err := m.RegisterTensorDescriptor(shape, tensor.Dense, tensor.HostDevice(), batch, false, opts...)
	require.NoError(t, err)
	if values != nil {
		require.NoError(t, m.Load(x, values))
	}
	return x
}

func param(t *testing.T, m *graph.Model, shape tensor.Shape, values []float32) graph.Tensor {
	t.Helper()
	p, err := m.RegisterTensorDescriptor(shape, tensor.Dense, tensor.HostDevice(), 1, true)
	require.NoError(t, err)
	require.NoError(t, m.Load(p, values))
	return p
}

func data(t *testing.T, m *graph.Model, x graph.Tensor) []float32 {
	t.Helper()
	v, err := m.Data(x)
	require.NoError(t, err)
	return v
}

func grad(t *testing.T, m *graph.Model, x graph.Tensor) []float32 {
	t.Helper()
	v, err := m.Gradient(x)
	require.NoError(t, err)
	return v
}

func TestLinear_Forward(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{2}, 1, []float32{1, 2})
	w := param(t, m, tensor.Shape{2, 2}, []float32{1, 2, 3, 4})
	b := param(t, m, tensor.Shape{2}, []float32{0.5, 0.5})

	y, err := nn.Linear(m, x, w, b, nil)
	require.NoError(t, err)

	d, err := m.Descriptor(y)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2}, d.Shape())
	assert.Equal(t, []float32{7.5, 10.5}, data(t, m, y))
}

func TestLinear_Backward(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{2}, 1, []float32{1, 2})
	w := param(t, m, tensor.Shape{2, 1}, []float32{3, 4})

	y, err := nn.Linear(m, x, w, nn.NoBias, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{11}, data(t, m, y))

	require.NoError(t, m.SeedGradient(y, 1))
	require.NoError(t, m.BackProp(y))

	assert.Equal(t, []float32{3, 4}, grad(t, m, x))
	assert.Equal(t, []float32{1, 2}, grad(t, m, w))
}

func TestLinear_WeightMismatch(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{3}, 1, nil)
	w := param(t, m, tensor.Shape{2, 2}, []float32{1, 2, 3, 4})

	_, err := nn.Linear(m, x, w, nn.NoBias, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, tensor.ErrMismatch)
}

func TestReLU(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{4}, 1, []float32{-1, 0, 2, -3})

	y, err := nn.ReLU(m, x)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 2, 0}, data(t, m, y))

	l, err := nn.LeakyReLU(m, x, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []float32{-0.5, 0, 2, -1.5}, data(t, m, l))
}

func TestAdd_Broadcast(t *testing.T) {
	m := graph.New(nil)
	a := newTensor(t, m, tensor.Shape{2, 3}, 2, []float32{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	})
	b := newTensor(t, m, tensor.Shape{1, 3}, 1, []float32{10, 20, 30})

	y, err := nn.Add(m, a, b)
	require.NoError(t, err)

	d, err := m.Descriptor(y)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, d.Shape())
	assert.Equal(t, 2, d.BatchSize())
	assert.Equal(t, []float32{
		11, 22, 33, 14, 25, 36,
		17, 28, 39, 20, 31, 42,
	}, data(t, m, y))

	require.NoError(t, m.SeedGradient(y, 1))
	require.NoError(t, m.BackProp(y))
	assert.Equal(t, []float32{4, 4, 4}, grad(t, m, b))
}

func TestAdd_Incompatible(t *testing.T) {
	m := graph.New(nil)
	a := newTensor(t, m, tensor.Shape{2, 3}, 1, nil)
	b := newTensor(t, m, tensor.Shape{2, 2}, 1, nil)
	c := newTensor(t, m, tensor.Shape{3}, 1, nil)

	_, err := nn.Add(m, a, b)
	assert.ErrorIs(t, err, tensor.ErrMismatch)

	_, err = nn.Mul(m, a, c)
	assert.ErrorIs(t, err, tensor.ErrMismatch)
}

func TestMul(t *testing.T) {
	m := graph.New(nil)
	a := newTensor(t, m, tensor.Shape{3}, 1, []float32{1, 2, 3})
	b := newTensor(t, m, tensor.Shape{3}, 1, []float32{4, 5, 6})

	y, err := nn.Mul(m, a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 10, 18}, data(t, m, y))

	require.NoError(t, m.SeedGradient(y, 1))
	require.NoError(t, m.BackProp(y))
	assert.Equal(t, []float32{4, 5, 6}, grad(t, m, a))
	assert.Equal(t, []float32{1, 2, 3}, grad(t, m, b))
}

func TestMean(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{2, 3}, 1, []float32{1, 2, 3, 4, 5, 6})

	y, err := nn.Mean(m, x, 1)
	require.NoError(t, err)

	d, err := m.Descriptor(y)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 1}, d.Shape())
	assert.Equal(t, []float32{2, 5}, data(t, m, y))

	_, err = nn.Mean(m, x, 2)
	assert.Error(t, err)
}

func TestMSE(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{4}, 1, []float32{1, 2, 3, 4})
	label := newTensor(t, m, tensor.Shape{4}, 1, []float32{0, 2, 3, 6}, graph.WithoutGradient())

	loss, err := nn.MSE(m, x, label)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.25}, data(t, m, loss))
	assert.Equal(t, []float32{1}, grad(t, m, loss))

	require.NoError(t, m.BackProp(loss))
	assert.Equal(t, []float32{0.5, 0, 0, -1}, grad(t, m, x))

	_, err = m.Gradient(label)
	assert.ErrorIs(t, err, graph.ErrNoGradient)
}

func TestMSE_LabelMismatch(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{4}, 1, nil)
	label := newTensor(t, m, tensor.Shape{4}, 2, nil)

	_, err := nn.MSE(m, x, label)
	assert.ErrorIs(t, err, tensor.ErrMismatch)
}

func TestSplit(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{2, 4}, 1, []float32{1, 2, 3, 4, 5, 6, 7, 8})

	left, right, err := nn.Split(m, x, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 5}, data(t, m, left))
	assert.Equal(t, []float32{2, 3, 4, 6, 7, 8}, data(t, m, right))

	_, _, err = nn.Split(m, x, 4)
	assert.ErrorIs(t, err, tensor.ErrMismatch)
}

// A split joined back by Mul: x feeds one unit with two outputs, and the
// join must fire the split exactly once with both gradients present.
func TestSplit_JoinBackProp(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{4}, 1, []float32{1, 2, 3, 4})

	left, right, err := nn.Split(m, x, 2)
	require.NoError(t, err)
	prod, err := nn.Mul(m, left, right)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 8}, data(t, m, prod))

	require.NoError(t, m.SeedGradient(prod, 1))
	require.NoError(t, m.BackProp(prod))

	assert.Equal(t, []float32{3, 4, 1, 2}, grad(t, m, x))
	assert.Empty(t, m.Units())
}

func TestConv2D(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{1, 3, 3}, 1, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	k := param(t, m, tensor.Shape{1, 1, 2, 2}, []float32{1, 0, 0, 1})
	b := param(t, m, tensor.Shape{1}, []float32{0.5})

	y, err := nn.Conv2D(m, x, k, b, cpu.Conv2DParams{Stride: 1}, nil)
	require.NoError(t, err)

	d, err := m.Descriptor(y)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 2}, d.Shape())
	assert.Equal(t, []float32{6.5, 8.5, 12.5, 14.5}, data(t, m, y))
}

func TestNewLinear_Init(t *testing.T) {
	m := graph.New(nil)
	fc, err := nn.NewLinear(m, 8, 4, nn.LayerConfig{Bias: true, Rand: nn.NewRand(7)})
	require.NoError(t, err)

	assert.Equal(t, 8, fc.InFeatures())
	assert.Equal(t, 4, fc.OutFeatures())
	assert.Len(t, fc.Parameters(), 2)

	bound := float32(math.Sqrt(6.0 / 12.0))
	for _, v := range data(t, m, fc.Weight()) {
		assert.LessOrEqual(t, v, bound)
		assert.GreaterOrEqual(t, v, -bound)
	}
	assert.Equal(t, []float32{0, 0, 0, 0}, data(t, m, fc.Bias()))

	d, err := m.Descriptor(fc.Weight())
	require.NoError(t, err)
	assert.True(t, d.Trainable())

	_, err = nn.NewLinear(m, 0, 4, nn.LayerConfig{})
	assert.Error(t, err)
}

func TestNewLinear_Deterministic(t *testing.T) {
	a, b := graph.New(nil), graph.New(nil)
	fa, err := nn.NewLinear(a, 3, 3, nn.LayerConfig{Rand: nn.NewRand(42)})
	require.NoError(t, err)
	fb, err := nn.NewLinear(b, 3, 3, nn.LayerConfig{Rand: nn.NewRand(42)})
	require.NoError(t, err)

	assert.Equal(t, data(t, a, fa.Weight()), data(t, b, fb.Weight()))
	assert.Len(t, fa.Parameters(), 1)
}

func TestLinearLayer_MatchesFunctional(t *testing.T) {
	m := graph.New(nil)
	var fc *nn.LinearLayer
	fc, err := nn.NewLinear(m, 2, 3, nn.LayerConfig{Bias: true, Rand: nn.NewRand(5)})
	require.NoError(t, err)
	require.NoError(t, nn.Constant(m, fc.Bias(), 0.5))

	x := newTensor(t, m, tensor.Shape{2}, 1, []float32{1, -2})
	viaLayer, err := fc.Forward(x)
	require.NoError(t, err)
	viaFunc, err := nn.Linear(m, x, fc.Weight(), fc.Bias(), nil)
	require.NoError(t, err)

	assert.InDeltaSlice(t, data(t, m, viaFunc), data(t, m, viaLayer), 1e-6)
}

func TestNewConv2D(t *testing.T) {
	m := graph.New(nil)
	conv, err := nn.NewConv2D(m, 1, 2, 2, 2, cpu.Conv2DParams{}, nn.LayerConfig{Bias: true})
	require.NoError(t, err)
	assert.Equal(t, cpu.Conv2DParams{Stride: 1, Dilation: 1}, conv.Params())

	x := newTensor(t, m, tensor.Shape{1, 4, 4}, 3, nil)
	y, err := conv.Forward(x)
	require.NoError(t, err)

	d, err := m.Descriptor(y)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 3}, d.Shape())
	assert.Equal(t, 3, d.BatchSize())

	_, err = nn.NewConv2D(m, 1, 2, 0, 2, cpu.Conv2DParams{}, nn.LayerConfig{})
	assert.Error(t, err)
}

func TestInitializers(t *testing.T) {
	m := graph.New(nil)
	x := newTensor(t, m, tensor.Shape{2, 2}, 2, nil)

	require.NoError(t, nn.Ones(m, x))
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1, 1, 1}, data(t, m, x))

	require.NoError(t, nn.Constant(m, x, 3))
	assert.Equal(t, []float32{3, 3, 3, 3, 3, 3, 3, 3}, data(t, m, x))

	require.NoError(t, nn.Zeros(m, x))
	assert.Equal(t, make([]float32, 8), data(t, m, x))

	require.NoError(t, nn.Uniform(m, x, 2, 3, nn.NewRand(1)))
	for _, v := range data(t, m, x) {
		assert.GreaterOrEqual(t, v, float32(2))
		assert.Less(t, v, float32(3))
	}

	require.NoError(t, nn.Normal(m, x, 0, 1, nn.NewRand(1)))
	assert.NotEqual(t, make([]float32, 8), data(t, m, x))

	err := nn.Zeros(m, graph.Handle(999))
	assert.ErrorIs(t, err, graph.ErrUnknownTensor)
}

// Fits y = 2x + 1 with one linear layer stepped by SGD during BackProp.
func TestTraining_LossDecreases(t *testing.T) {
	m := graph.New(nil)
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1})

	fc, err := nn.NewLinear(m, 1, 1, nn.LayerConfig{Bias: true, Optimizer: opt, Rand: nn.NewRand(3)})
	require.NoError(t, err)

	x := newTensor(t, m, tensor.Shape{1}, 4, []float32{0, 1, 2, 3}, graph.Preserve())
	label := newTensor(t, m, tensor.Shape{1}, 4, []float32{1, 3, 5, 7}, graph.Preserve(), graph.WithoutGradient())

	var first, last float32
	for epoch := 0; epoch < 200; epoch++ {
		y, err := fc.Forward(x)
		require.NoError(t, err)
		loss, err := nn.MSE(m, y, label)
		require.NoError(t, err)

		v := data(t, m, loss)[0]
		if epoch == 0 {
			first = v
		}
		last = v

		require.NoError(t, m.BackProp(loss))
		m.ClearGraph()
		_, err = m.Collect()
		require.NoError(t, err)
	}

	assert.Less(t, last, first)
	assert.Less(t, last, float32(1e-3))

	w := data(t, m, fc.Weight())[0]
	b := data(t, m, fc.Bias())[0]
	assert.InDelta(t, 2.0, w, 0.05)
	assert.InDelta(t, 1.0, b, 0.05)

	// Only the parameters and the preserved inputs survive.
	assert.Len(t, m.Tensors(), 4)
}
