// Package fabric is the fan-out point for realtime events: anything
// published is delivered to every subscriber active at publication
// time. There is no backlog for late subscribers and no replay.
package fabric

import (
	"log"
	"sync"

	"github.com/mudlink/mudlink/internal/protocol"
)

// DefaultBacklog is the per-subscriber buffer size. A subscriber that
// falls this far behind is disconnected rather than allowed to block
// publishers.
const DefaultBacklog = 64

// Fabric fans published events out to all current subscribers
type Fabric struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	backlog int
}

// Subscriber is one consumer of the event stream
type Subscriber struct {
	fabric *Fabric
	ch     chan protocol.Event
	closed bool
}

// New creates a fabric with the default per-subscriber backlog
func New() *Fabric {
	return NewWithBacklog(DefaultBacklog)
}

// NewWithBacklog creates a fabric with the given per-subscriber
// backlog. backlog must be at least 1.
func NewWithBacklog(backlog int) *Fabric {
	if backlog < 1 {
		backlog = 1
	}
	return &Fabric{
		subs:    make(map[*Subscriber]struct{}),
		backlog: backlog,
	}
}

// Subscribe registers a new consumer. Only events published after
// this call are delivered.
func (f *Fabric) Subscribe() *Subscriber {
	sub := &Subscriber{
		fabric: f,
		ch:     make(chan protocol.Event, f.backlog),
	}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

// Publish delivers an event to every current subscriber. Publishes
// are serialized, so all subscribers observe the same relative order.
// A subscriber whose backlog is full is disconnected: its channel is
// closed and it sees the stream end.
func (f *Fabric) Publish(ev protocol.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			log.Printf("[WARN] fabric: dropping slow subscriber (backlog %d full)", f.backlog)
			sub.closed = true
			close(sub.ch)
			delete(f.subs, sub)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (f *Fabric) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Events is the subscriber's receive channel. It is closed when the
// subscriber is disconnected for falling behind or after Close.
func (s *Subscriber) Events() <-chan protocol.Event {
	return s.ch
}

// Close releases the subscriber's slot. Safe to call more than once
// and after a slow-subscriber disconnect.
func (s *Subscriber) Close() {
	f := s.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	delete(f.subs, s)
}
