// Package config loads the runtime configuration file
// ($XDG_CONFIG_HOME/sapphire/config.yaml).
//
// Values missing from the file keep their defaults, so a partial file is
// enough. Command-line flags override file values only when the user set
// them explicitly.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/sapphire/internal/backend/accel"
	"github.com/born-ml/sapphire/internal/tensor"
)

// Device placements accepted in the device field.
const (
	DeviceHost        = "host"
	DeviceAccelerator = "accelerator"
)

// Optimizer names accepted in train.optimizer.
const (
	OptimizerSGD  = "sgd"
	OptimizerAdam = "adam"
)

// Config is the runtime configuration.
type Config struct {
	Device         string `yaml:"device"`
	Ordinal        int    `yaml:"ordinal"`
	Driver         string `yaml:"driver"`
	AlignmentBytes int    `yaml:"alignment_bytes"`

	Pool    Pool    `yaml:"pool"`
	Sim     Sim     `yaml:"sim"`
	Log     Log     `yaml:"log"`
	Train   Train   `yaml:"train"`
	Inspect Inspect `yaml:"inspect"`
}

// Pool configures buffer reuse in the resource manager.
type Pool struct {
	Enabled        bool `yaml:"enabled"`
	MaxPerCategory int  `yaml:"max_per_category"`
}

// Sim configures the simulated accelerator driver.
type Sim struct {
	Devices       int `yaml:"devices"`
	CapacityBytes int `yaml:"capacity_bytes"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Train configures the demo training loop.
type Train struct {
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`
	BatchSize    int     `yaml:"batch_size"`
	InputSize    int     `yaml:"input_size"`
	OutputSize   int     `yaml:"output_size"`
	CleanEvery   int     `yaml:"clean_every"`
	LogEvery     int     `yaml:"log_every"`
	Optimizer    string  `yaml:"optimizer"`
	Seed         uint64  `yaml:"seed"`
}

// Inspect configures the inspection server.
type Inspect struct {
	Address string `yaml:"address"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device:         DeviceHost,
		Driver:         accel.Sim,
		AlignmentBytes: tensor.DefaultAlignment,
		Pool:           Pool{Enabled: true, MaxPerCategory: 8},
		Sim:            Sim{Devices: 1},
		Log:            Log{Level: "info", Format: "pretty"},
		Train: Train{
			Epochs:       100,
			LearningRate: 0.01,
			BatchSize:    10,
			InputSize:    100,
			OutputSize:   1,
			CleanEvery:   10,
			LogEvery:     10,
			Optimizer:    OptimizerSGD,
			Seed:         1,
		},
		Inspect: Inspect{Address: "127.0.0.1:8321"},
	}
}

// DefaultPath returns the default config file location, or "" when the
// user config directory cannot be determined.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sapphire", "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults;
// an unreadable or malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Device != DeviceHost && c.Device != DeviceAccelerator {
		errs = append(errs, fmt.Errorf("device %q: want %s or %s", c.Device, DeviceHost, DeviceAccelerator))
	}
	if c.Ordinal < 0 {
		errs = append(errs, fmt.Errorf("ordinal %d must be >= 0", c.Ordinal))
	}
	if !slices.Contains([]string{accel.Sim, accel.CUDA, accel.WebGPU, accel.None}, c.Driver) {
		errs = append(errs, fmt.Errorf("driver %q: want sim, cuda, webgpu or none", c.Driver))
	}
	if c.Device == DeviceAccelerator && c.Driver == accel.None {
		errs = append(errs, errors.New("device accelerator needs a driver other than none"))
	}
	if a := c.AlignmentBytes; a < 0 || (a > 0 && (a%4 != 0 || a&(a-1) != 0)) {
		errs = append(errs, fmt.Errorf("alignment_bytes %d must be 0 or a power of two >= 4", a))
	}
	if c.Pool.MaxPerCategory < 0 {
		errs = append(errs, fmt.Errorf("pool.max_per_category %d must be >= 0", c.Pool.MaxPerCategory))
	}
	if c.Sim.Devices < 1 {
		errs = append(errs, fmt.Errorf("sim.devices %d must be >= 1", c.Sim.Devices))
	}
	if c.Sim.CapacityBytes < 0 {
		errs = append(errs, fmt.Errorf("sim.capacity_bytes %d must be >= 0", c.Sim.CapacityBytes))
	}
	errs = append(errs, c.Train.validate()...)
	return errors.Join(errs...)
}

func (t Train) validate() []error {
	var errs []error
	positive := []struct {
		name string
		v    int
	}{
		{"epochs", t.Epochs},
		{"batch_size", t.BatchSize},
		{"input_size", t.InputSize},
		{"output_size", t.OutputSize},
		{"clean_every", t.CleanEvery},
		{"log_every", t.LogEvery},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("train.%s %d must be > 0", p.name, p.v))
		}
	}
	if t.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("train.learning_rate %g must be > 0", t.LearningRate))
	}
	if t.Optimizer != OptimizerSGD && t.Optimizer != OptimizerAdam {
		errs = append(errs, fmt.Errorf("train.optimizer %q: want sgd or adam", t.Optimizer))
	}
	return errs
}

// Placement returns the device tensors are registered on.
func (c Config) Placement() tensor.Device {
	if c.Device == DeviceAccelerator {
		return tensor.AcceleratorDevice(c.Ordinal, c.Driver)
	}
	return tensor.HostDevice()
}

// Alignment resolves alignment_bytes, detecting it when 0.
func (c Config) Alignment() int {
	if c.AlignmentBytes == 0 {
		return tensor.DetectAlignment()
	}
	return c.AlignmentBytes
}
