// Package progress fans job updates out to live subscribers such as
// WebSocket clients.
package progress

import (
	"sync"

	"github.com/google/uuid"
	"github.com/wbrown/quanttxt/internal/domain"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Broker delivers job snapshots to subscribers of that job. Publishing
// never blocks: a subscriber that falls behind loses its oldest pending
// update, so the newest state always gets through.
type Broker struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[*subscriber]struct{}
	buffer int
}

type subscriber struct {
	ch chan *domain.Job
}

// NewBroker returns a Broker whose subscriptions buffer up to buffer
// updates. Values below 1 select DefaultBuffer.
func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Broker{
		subs:   make(map[uuid.UUID]map[*subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers interest in a job. The returned function removes the
// subscription and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(id uuid.UUID) (<-chan *domain.Job, func()) {
	sub := &subscriber{ch: make(chan *domain.Job, b.buffer)}

	b.mu.Lock()
	if b.subs[id] == nil {
		b.subs[id] = make(map[*subscriber]struct{})
	}
	b.subs[id][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[id]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(b.subs, id)
				}
			}
			close(sub.ch)
		})
	}
}

// Publish sends a copy of job to every subscriber of job.ID.
func (b *Broker) Publish(job *domain.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[job.ID] {
		snapshot := job.Clone()
		select {
		case sub.ch <- snapshot:
			continue
		default:
		}
		// Full: drop the oldest update and retry once.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snapshot:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for a job.
func (b *Broker) Subscribers(id uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[id])
}
