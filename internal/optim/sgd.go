package optim

import (
	"github.com/born-ml/sapphire/internal/storage"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// Example:
//
//	opt := optim.NewSGD(optim.SGDConfig{LR: 0.01, Momentum: 0.9})
type SGD struct {
	lr         float32
	momentum   float32
	velocities map[uint64][]float32
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD(config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[uint64][]float32),
	}
}

// Step performs a single optimization step on param.
func (s *SGD) Step(param, grad *storage.Buffer) error {
	p, g, err := views("sgd", param, grad)
	if err != nil {
		return err
	}

	if s.momentum == 0 {
		eachCell(p, func(i int) {
			p.Data[i] -= s.lr * g.Data[i]
		})
		return nil
	}

	velocity, ok := s.velocities[param.ID()]
	if !ok {
		velocity = make([]float32, len(p.Data))
		s.velocities[param.ID()] = velocity
	}
	eachCell(p, func(i int) {
		velocity[i] = s.momentum*velocity[i] + g.Data[i]
		p.Data[i] -= s.lr * velocity[i]
	})
	return nil
}

// Forget drops the velocity kept for a parameter buffer.
func (s *SGD) Forget(param *storage.Buffer) {
	delete(s.velocities, param.ID())
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
//
// Useful for learning rate scheduling during training.
func (s *SGD) SetLR(lr float32) {
	s.lr = lr
}
