package inspect

import (
	"sync/atomic"
)

// Publisher hands snapshots from the control thread to readers. Readers
// always see a complete snapshot; publishing never blocks them.
type Publisher struct {
	latest atomic.Pointer[Snapshot]
	seq    atomic.Uint64
}

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish stamps s with the next sequence number and makes it current.
// s must not be modified afterwards.
func (p *Publisher) Publish(s *Snapshot) {
	s.Sequence = p.seq.Add(1)
	p.latest.Store(s)
}

// Latest returns the current snapshot, or nil before the first Publish.
func (p *Publisher) Latest() *Snapshot {
	return p.latest.Load()
}
