// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package autodiff

import (
	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/resource"
)

// Resources tracks every buffer allocated for one or more models and
// releases them on demand.
type Resources = resource.Manager

// ResourceStats summarises a Resources manager.
type ResourceStats = resource.Stats

// ResourceOption configures a Resources manager.
type ResourceOption = resource.Option

// NewResources creates a resource manager.
//
// Example:
//
//	drv := accel.NewSim(1, 0)
//	res := autodiff.NewResources(autodiff.WithDriver(drv), autodiff.WithPool(8))
func NewResources(opts ...ResourceOption) *Resources {
	return resource.New(opts...)
}

// WithDriver sets the accelerator driver used for device allocations.
func WithDriver(d accel.Driver) ResourceOption { return resource.WithDriver(d) }

// WithAlignment sets the row alignment in bytes.
func WithAlignment(bytes int) ResourceOption { return resource.WithAlignment(bytes) }

// WithPool enables buffer reuse, keeping at most maxPerClass free buffers
// per size class.
func WithPool(maxPerClass int) ResourceOption { return resource.WithPool(maxPerClass) }

// WithResourceLogger sets the logger of a resource manager.
func WithResourceLogger(l Logger) ResourceOption { return resource.WithLogger(l) }
