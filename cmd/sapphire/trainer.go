package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/config"
	"github.com/born-ml/sapphire/internal/graph"
	"github.com/born-ml/sapphire/internal/inspect"
	"github.com/born-ml/sapphire/internal/logger"
	"github.com/born-ml/sapphire/internal/nn"
	"github.com/born-ml/sapphire/internal/optim"
	"github.com/born-ml/sapphire/internal/resource"
	"github.com/born-ml/sapphire/internal/tensor"
)

// openResources opens the configured driver and builds a manager on it.
// The caller closes the returned driver when it is non-nil.
func openResources(cfg config.Config, log logger.Logger) (*resource.Manager, accel.Driver, error) {
	drv, err := accel.Open(cfg.Driver, accel.Options{
		Devices:       cfg.Sim.Devices,
		CapacityBytes: cfg.Sim.CapacityBytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open driver %s: %w", cfg.Driver, err)
	}

	opts := []resource.Option{
		resource.WithLogger(log),
		resource.WithAlignment(cfg.Alignment()),
	}
	if drv != nil {
		opts = append(opts, resource.WithDriver(drv))
	}
	if cfg.Pool.Enabled {
		opts = append(opts, resource.WithPool(cfg.Pool.MaxPerCategory))
	}
	return resource.New(opts...), drv, nil
}

func newOptimizer(t config.Train) (optim.Optimizer, error) {
	switch t.Optimizer {
	case config.OptimizerSGD:
		return optim.NewSGD(optim.SGDConfig{LR: float32(t.LearningRate)}), nil
	case config.OptimizerAdam:
		return optim.NewAdam(optim.AdamConfig{LR: float32(t.LearningRate)}), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", t.Optimizer)
	}
}

// trainResult summarises a finished run.
type trainResult struct {
	Epochs    int
	FirstLoss float32
	FinalLoss float32
	// Snapshot is taken after the last epoch, before the model is reset.
	Snapshot *inspect.Snapshot
}

// mlp is the two-layer network of the demo: relu(fc2(relu(fc1(x)))).
type mlp struct {
	fc1, fc2 *nn.LinearLayer
}

func (n *mlp) parameters() []graph.Tensor {
	return append(n.fc1.Parameters(), n.fc2.Parameters()...)
}

func (n *mlp) loss(m *graph.Model, x, label graph.Tensor) (graph.Tensor, error) {
	h, err := n.fc1.Forward(x)
	if err != nil {
		return graph.Tensor{}, err
	}
	if h, err = nn.ReLU(m, h); err != nil {
		return graph.Tensor{}, err
	}
	y, err := n.fc2.Forward(h)
	if err != nil {
		return graph.Tensor{}, err
	}
	if y, err = nn.ReLU(m, y); err != nil {
		return graph.Tensor{}, err
	}
	return nn.MSE(m, y, label)
}

// train runs the demo regression: a two-layer network fitted to a
// synthetic target, clearing the graph every epoch, collecting released
// buffers every CleanEvery epochs and resetting the model at the end.
//
// When the configured device is an accelerator the parameters are
// registered there, brought to the host for the kernels and sent back
// home once training is done. pub may be nil.
func train(ctx context.Context, cfg config.Config, log logger.Logger, pub *inspect.Publisher) (res trainResult, err error) {
	if err := cfg.Validate(); err != nil {
		return res, fmt.Errorf("invalid configuration: %w", err)
	}
	mgr, drv, err := openResources(cfg, log)
	if err != nil {
		return res, err
	}
	if drv != nil {
		defer func() {
			if cerr := drv.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}()
	}

	t := cfg.Train
	home := cfg.Placement()
	m := graph.New(mgr,
		graph.WithName("simple-linear"),
		graph.WithLogger(log),
		graph.WithAccelerator(home),
	)
	defer func() {
		if rerr := m.Reset(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	opt, err := newOptimizer(t)
	if err != nil {
		return res, err
	}
	rng := nn.NewRand(t.Seed)
	layer := nn.LayerConfig{Device: home, Bias: true, Optimizer: opt, Rand: rng}

	var net mlp
	if net.fc1, err = nn.NewLinear(m, t.InputSize, t.OutputSize, layer); err != nil {
		return res, err
	}
	if net.fc2, err = nn.NewLinear(m, t.OutputSize, t.OutputSize, layer); err != nil {
		return res, err
	}
	params := net.parameters()
	if !home.IsHost() {
		for _, p := range params {
			if err := m.ToHost(p); err != nil {
				return res, err
			}
		}
	}

	x, label, err := dataset(m, t)
	if err != nil {
		return res, err
	}

	log.Info("training started", "epochs", t.Epochs, "batch_size", t.BatchSize,
		"input_size", t.InputSize, "output_size", t.OutputSize, "optimizer", t.Optimizer,
		"device", home.String())

	for epoch := range t.Epochs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		loss, err := net.loss(m, x, label)
		if err != nil {
			return res, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		v, err := m.Data(loss)
		if err != nil {
			return res, err
		}
		if epoch == 0 {
			res.FirstLoss = v[0]
		}
		res.FinalLoss = v[0]
		res.Epochs = epoch + 1

		if epoch%t.LogEvery == 0 {
			log.Info("epoch", "epoch", epoch, "loss", v[0])
			if pub != nil {
				snap := inspect.Capture(m)
				snap.Step, snap.Loss = epoch, v[0]
				pub.Publish(snap)
			}
		}

		if err := m.BackProp(loss); err != nil {
			return res, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		m.ClearGraph()
		if epoch%t.CleanEvery == 0 {
			if _, err := m.Collect(); err != nil {
				return res, err
			}
		}
	}

	if !home.IsHost() {
		for _, p := range params {
			if err := m.ToDevice(p); err != nil {
				return res, err
			}
		}
	}
	res.Snapshot = inspect.Capture(m)
	res.Snapshot.Step, res.Snapshot.Loss = res.Epochs, res.FinalLoss
	if pub != nil {
		pub.Publish(res.Snapshot)
	}
	log.Info("training finished", "epochs", res.Epochs, "first_loss", res.FirstLoss,
		"final_loss", res.FinalLoss, "buffers", mgr.Stats().Tracked)
	return res, nil
}

// dataset registers the preserved input batch and its regression target:
// every output j of sample b is (j+1) times the mean of its inputs.
func dataset(m *graph.Model, t config.Train) (x, label graph.Tensor, err error) {
	x, err = m.RegisterTensorDescriptor(tensor.Shape{t.InputSize}, tensor.Dense,
		tensor.HostDevice(), t.BatchSize, false, graph.Preserve(), graph.WithoutGradient())
	if err != nil {
		return x, label, err
	}
	label, err = m.RegisterTensorDescriptor(tensor.Shape{t.OutputSize}, tensor.Dense,
		tensor.HostDevice(), t.BatchSize, false, graph.Preserve(), graph.WithoutGradient())
	if err != nil {
		return x, label, err
	}

	rng := nn.NewRand(t.Seed + 1)
	xs := make([]float32, t.BatchSize*t.InputSize)
	ys := make([]float32, t.BatchSize*t.OutputSize)
	for b := range t.BatchSize {
		var sum float32
		for i := range t.InputSize {
			v := rng.Float32()
			xs[b*t.InputSize+i] = v
			sum += v
		}
		mean := sum / float32(t.InputSize)
		for j := range t.OutputSize {
			ys[b*t.OutputSize+j] = mean * float32(j+1)
		}
	}
	if err := m.Load(x, xs); err != nil {
		return x, label, err
	}
	return x, label, m.Load(label, ys)
}
