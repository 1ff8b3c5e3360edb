package resource

import (
	"sync"

	"github.com/born-ml/sapphire/internal/storage"
	"github.com/born-ml/sapphire/internal/tensor"
)

// SizeClass buckets pooled buffers by byte size.
type SizeClass int

const (
	// Small holds buffers under 4 KiB.
	Small SizeClass = iota
	// Medium holds buffers from 4 KiB up to 1 MiB.
	Medium
	// Large holds everything bigger.
	Large

	numClasses = 3
)

const (
	smallThreshold  = 4 * 1024
	mediumThreshold = 1024 * 1024

	// DefaultMaxPerClass bounds how many idle buffers each class retains.
	DefaultMaxPerClass = 100
)

// Classify returns the size class for a byte count.
func Classify(bytes int) SizeClass {
	switch {
	case bytes < smallThreshold:
		return Small
	case bytes < mediumThreshold:
		return Medium
	default:
		return Large
	}
}

// String returns the class name.
func (c SizeClass) String() string {
	switch c {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	default:
		return "unknown"
	}
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Hits     uint64          `json:"hits"`
	Misses   uint64          `json:"misses"`
	Returned uint64          `json:"returned"`
	Rejected uint64          `json:"rejected"`
	Idle     [numClasses]int `json:"idle"`
}

// Pool keeps released buffers for reuse by later allocations with the
// same shape, batch size, device and options. Reused buffers are zeroed.
type Pool struct {
	mu          sync.Mutex
	maxPerClass int
	idle        [numClasses][]*storage.Buffer
	stats       PoolStats
}

// NewPool creates a pool retaining at most maxPerClass idle buffers per size class.
func NewPool(maxPerClass int) *Pool {
	if maxPerClass <= 0 {
		maxPerClass = DefaultMaxPerClass
	}
	return &Pool{maxPerClass: maxPerClass}
}

// Acquire returns an idle buffer matching the request, or nil on a miss.
func (p *Pool) Acquire(shape tensor.Shape, device tensor.Device, batchSize int, spec storage.Spec) (*storage.Buffer, error) {
	geom, err := tensor.NewGeometry(shape, batchSize, spec.DataType, spec.Alignment)
	if err != nil {
		return nil, err
	}
	class := Classify(geom.Len() * spec.DataType.Size())

	p.mu.Lock()
	var found *storage.Buffer
	bucket := p.idle[class]
	for i, b := range bucket {
		if b.Matches(shape, device, batchSize, spec) {
			found = b
			p.idle[class] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if found == nil {
		p.stats.Misses++
	} else {
		p.stats.Hits++
	}
	p.mu.Unlock()

	if found == nil {
		return nil, nil
	}
	if err := found.Zero(); err != nil {
		return nil, err
	}
	return found, nil
}

// Put offers b for reuse. It returns false when b's class is full; the
// caller then owns freeing it.
func (p *Pool) Put(b *storage.Buffer) bool {
	class := Classify(b.Bytes())

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle[class]) >= p.maxPerClass {
		p.stats.Rejected++
		return false
	}
	b.SetOwner(storage.NoOwner)
	p.idle[class] = append(p.idle[class], b)
	p.stats.Returned++
	return true
}

// Drain removes and returns every idle buffer.
func (p *Pool) Drain() []*storage.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*storage.Buffer
	for c := range p.idle {
		out = append(out, p.idle[c]...)
		p.idle[c] = nil
	}
	return out
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	for c := range p.idle {
		s.Idle[c] = len(p.idle[c])
	}
	return s
}
