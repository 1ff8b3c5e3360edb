// Package nn provides the user-facing forward functions and layers of a
// graph.
//
// Every function registers its output tensors in the model, builds the
// matching unit from internal/autodiff/ops and applies it, so history is
// recorded and BackProp can reach it later.
//
// Example:
//
//	h, err := nn.Linear(m, x, w1, b1, opt)
//	h, err = nn.ReLU(m, h)
//	y, err := nn.Linear(m, h, w2, b2, opt)
//	loss, err := nn.MSE(m, y, label)
//	err = m.BackProp(loss)
package nn

import (
	"fmt"

	"github.com/born-ml/sapphire/internal/autodiff"
	"github.com/born-ml/sapphire/internal/autodiff/ops"
	"github.com/born-ml/sapphire/internal/backend/cpu"
	"github.com/born-ml/sapphire/internal/graph"
	"github.com/born-ml/sapphire/internal/optim"
	"github.com/born-ml/sapphire/internal/tensor"
)

// NoBias may be passed wherever a bias tensor is optional.
var NoBias = graph.Tensor{}

// Linear computes x @ w + b. x has shape [..., in], w has shape [in, out]
// and b (optional) has shape [out]. When opt is non-nil w and b are updated
// during BackProp.
func Linear(m *graph.Model, x, w, b graph.Tensor, opt optim.Optimizer) (graph.Tensor, error) {
	xd, err := m.Descriptor(x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("linear: %w", err)
	}
	wd, err := m.Descriptor(w)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("linear: %w", err)
	}
	ws := wd.Shape()
	if len(ws) != 2 || ws[0] != xd.Shape().Cols() {
		return graph.Tensor{}, tensor.Mismatch("linear", "weight shape",
			tensor.Shape{xd.Shape().Cols(), ws.Cols()}, ws)
	}

	shape := xd.Shape()
	shape[len(shape)-1] = ws[1]
	y, err := m.RegisterOutputDescriptor(shape, xd.BatchSize(), x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("linear: %w", err)
	}
	return apply(m, y, ops.NewLinear(x.Key(), w.Key(), b.Key(), y.Key(), opt))
}

// ReLU computes max(0, x).
func ReLU(m *graph.Model, x graph.Tensor) (graph.Tensor, error) {
	y, err := like(m, x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("relu: %w", err)
	}
	return apply(m, y, ops.NewReLU(x.Key(), y.Key()))
}

// LeakyReLU computes x for x > 0 and slope * x otherwise.
func LeakyReLU(m *graph.Model, x graph.Tensor, slope float32) (graph.Tensor, error) {
	y, err := like(m, x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("leaky relu: %w", err)
	}
	return apply(m, y, ops.NewLeakyReLU(x.Key(), y.Key(), slope))
}

// Add computes a + b. Dimensions of extent 1 (and a batch size of 1)
// broadcast against the other operand.
func Add(m *graph.Model, a, b graph.Tensor) (graph.Tensor, error) {
	y, err := broadcast(m, "add", a, b)
	if err != nil {
		return graph.Tensor{}, err
	}
	return apply(m, y, ops.NewAdd(a.Key(), b.Key(), y.Key()))
}

// Mul computes a * b element-wise with the same broadcasting as Add.
func Mul(m *graph.Model, a, b graph.Tensor) (graph.Tensor, error) {
	y, err := broadcast(m, "mul", a, b)
	if err != nil {
		return graph.Tensor{}, err
	}
	return apply(m, y, ops.NewMul(a.Key(), b.Key(), y.Key()))
}

// Mean averages x along shape dimension dim, keeping it with extent 1.
func Mean(m *graph.Model, x graph.Tensor, dim int) (graph.Tensor, error) {
	xd, err := m.Descriptor(x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("mean: %w", err)
	}
	shape, err := ops.MeanShape(xd.Shape(), dim)
	if err != nil {
		return graph.Tensor{}, err
	}
	y, err := m.RegisterOutputDescriptor(shape, xd.BatchSize(), x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("mean: %w", err)
	}
	return apply(m, y, ops.NewMean(x.Key(), y.Key(), dim))
}

// MSE computes the mean squared error between x and label as a
// single-cell loss whose gradient is already seeded with 1.
func MSE(m *graph.Model, x, label graph.Tensor) (graph.Tensor, error) {
	xd, err := m.Descriptor(x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("mse: %w", err)
	}
	ld, err := m.Descriptor(label)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("mse: %w", err)
	}
	if !xd.Shape().Equal(ld.Shape()) || xd.BatchSize() != ld.BatchSize() {
		return graph.Tensor{}, tensor.Mismatch("mse", "label shape", xd.Shape(), ld.Shape())
	}
	loss, err := m.RegisterOutputDescriptor(tensor.Shape{1}, 1, x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("mse: %w", err)
	}
	return apply(m, loss, ops.NewMSE(x.Key(), label.Key(), loss.Key()))
}

// Split divides the last dimension of x at column at, returning the
// first at columns and the rest.
func Split(m *graph.Model, x graph.Tensor, at int) (left, right graph.Tensor, err error) {
	xd, err := m.Descriptor(x)
	if err != nil {
		return left, right, fmt.Errorf("split: %w", err)
	}
	shape := xd.Shape()
	cols := shape.Cols()
	if at <= 0 || at >= cols {
		return left, right, tensor.Mismatch("split", "column", fmt.Sprintf("1..%d", cols-1), at)
	}
	ls, rs := shape.Clone(), shape.Clone()
	ls[len(ls)-1], rs[len(rs)-1] = at, cols-at

	if left, err = m.RegisterOutputDescriptor(ls, xd.BatchSize(), x); err != nil {
		return left, right, fmt.Errorf("split: %w", err)
	}
	if right, err = m.RegisterOutputDescriptor(rs, xd.BatchSize(), x); err != nil {
		return left, right, fmt.Errorf("split: %w", err)
	}
	if _, err := m.Apply(ops.NewSplit(x.Key(), left.Key(), right.Key())); err != nil {
		return graph.Tensor{}, graph.Tensor{}, err
	}
	return left, right, nil
}

// Conv2D convolves x [C_in, H, W] with kernel [C_out, C_in, K_h, K_w] and
// adds the optional bias [C_out]. When opt is non-nil kernel and bias are
// updated during BackProp.
func Conv2D(m *graph.Model, x, kernel, bias graph.Tensor, p cpu.Conv2DParams, opt optim.Optimizer) (graph.Tensor, error) {
	xd, err := m.Descriptor(x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("conv2d: %w", err)
	}
	kd, err := m.Descriptor(kernel)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("conv2d: %w", err)
	}
	ks := kd.Shape()
	shape, err := ops.Conv2DShape(xd.Shape(), ks, p)
	if err != nil {
		return graph.Tensor{}, err
	}
	y, err := m.RegisterOutputDescriptor(shape, xd.BatchSize(), x)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("conv2d: %w", err)
	}
	return apply(m, y, ops.NewConv2D(x.Key(), kernel.Key(), bias.Key(), y.Key(), ks[1], ks[0], p, opt))
}

func apply(m *graph.Model, y graph.Tensor, u autodiff.Unit) (graph.Tensor, error) {
	if _, err := m.Apply(u); err != nil {
		return graph.Tensor{}, err
	}
	return y, nil
}

// like registers an output with the shape and batch size of x.
func like(m *graph.Model, x graph.Tensor) (graph.Tensor, error) {
	xd, err := m.Descriptor(x)
	if err != nil {
		return graph.Tensor{}, err
	}
	return m.RegisterOutputDescriptor(xd.Shape(), xd.BatchSize(), x)
}

// broadcast registers the output of a binary element-wise op.
func broadcast(m *graph.Model, op string, a, b graph.Tensor) (graph.Tensor, error) {
	ad, err := m.Descriptor(a)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("%s: %w", op, err)
	}
	bd, err := m.Descriptor(b)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("%s: %w", op, err)
	}
	as, bs := ad.Shape(), bd.Shape()
	if len(as) != len(bs) {
		return graph.Tensor{}, tensor.Mismatch(op, "rank", len(as), len(bs))
	}
	shape := make(tensor.Shape, len(as))
	for i := range as {
		d, ok := bcastDim(as[i], bs[i])
		if !ok {
			return graph.Tensor{}, tensor.Mismatch(op, "shape", as, bs)
		}
		shape[i] = d
	}
	batch, ok := bcastDim(ad.BatchSize(), bd.BatchSize())
	if !ok {
		return graph.Tensor{}, tensor.Mismatch(op, "batch size", ad.BatchSize(), bd.BatchSize())
	}
	y, err := m.RegisterOutputDescriptor(shape, batch, a)
	if err != nil {
		return graph.Tensor{}, fmt.Errorf("%s: %w", op, err)
	}
	return y, nil
}

func bcastDim(x, y int) (int, bool) {
	switch {
	case x == y || y == 1:
		return x, true
	case x == 1:
		return y, true
	default:
		return 0, false
	}
}
