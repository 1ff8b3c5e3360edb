// Package inspect captures read-only snapshots of a model and its
// resource manager and serves them over HTTP.
//
// The control thread that drives the graph calls Capture and publishes
// the result; HTTP handlers only ever read published snapshots, so the
// server never touches the graph itself.
package inspect

import (
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/born-ml/sapphire/internal/graph"
	"github.com/born-ml/sapphire/internal/resource"
)

// Snapshot is an immutable view of a model at one point in time.
type Snapshot struct {
	ID       uuid.UUID `json:"id"`
	Sequence uint64    `json:"sequence"`
	Taken    time.Time `json:"taken"`

	Model   string `json:"model"`
	ModelID string `json:"model_id"`

	// Step and Loss are filled by training loops.
	Step int     `json:"step"`
	Loss float32 `json:"loss"`

	Tensors   []Tensor              `json:"tensors"`
	Units     []Unit                `json:"units"`
	Resources resource.Stats        `json:"resources"`
	Buffers   []resource.BufferInfo `json:"buffers"`
}

// Tensor describes one descriptor.
type Tensor struct {
	Key       string `json:"key"`
	Shape     []int  `json:"shape"`
	BatchSize int    `json:"batch_size"`
	DataType  string `json:"dtype"`
	Layout    string `json:"layout"`
	Device    string `json:"device"`
	Home      string `json:"home"`
	Trainable bool   `json:"trainable"`
	Preserved bool   `json:"preserved"`
	Gradient  bool   `json:"gradient"`
	Ready     bool   `json:"ready"`
	History   string `json:"history"`
	Bytes     int    `json:"bytes"`
}

// Unit describes one registered unit that has not fired yet.
type Unit struct {
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	Inputs   []string `json:"inputs"`
	Outputs  []string `json:"outputs"`
	Received []bool   `json:"received"`
}

// Capture snapshots m. It must run on the goroutine that drives m.
func Capture(m *graph.Model) *Snapshot {
	s := &Snapshot{
		ID:        uuid.New(),
		Taken:     time.Now().UTC(),
		Model:     m.Name(),
		ModelID:   m.ID().String(),
		Resources: m.Resources().Stats(),
		Buffers:   m.Resources().Buffers(),
	}

	for _, t := range m.Tensors() {
		d, err := m.Descriptor(t)
		if err != nil {
			continue
		}
		info := Tensor{
			Key:       t.String(),
			Shape:     d.Shape(),
			BatchSize: d.BatchSize(),
			DataType:  d.DataType().String(),
			Layout:    d.Layout().String(),
			Device:    d.Device().String(),
			Home:      d.Home().String(),
			Trainable: d.Trainable(),
			Preserved: d.Preserved(),
			Gradient:  d.Backward() != nil,
			Ready:     d.History().IsBackPropReady(),
			History:   d.History().String(),
			Bytes:     d.Forward().Bytes(),
		}
		if d.Backward() != nil {
			info.Bytes += d.Backward().Bytes()
		}
		s.Tensors = append(s.Tensors, info)
	}

	for _, u := range m.Units() {
		info := Unit{Key: u.Key.String(), Name: u.Name, Received: u.Received}
		for _, k := range u.Inputs {
			info.Inputs = append(info.Inputs, k.String())
		}
		for _, k := range u.Outputs {
			info.Outputs = append(info.Outputs, k.String())
		}
		s.Units = append(s.Units, info)
	}
	return s
}

// Tensor returns the tensor with the given key ("t3").
func (s *Snapshot) Tensor(key string) (Tensor, bool) {
	for _, t := range s.Tensors {
		if t.Key == key {
			return t, true
		}
	}
	return Tensor{}, false
}

// Encode writes s as indented JSON.
func Encode(w io.Writer, s *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Marshal returns s as compact JSON.
func Marshal(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}
