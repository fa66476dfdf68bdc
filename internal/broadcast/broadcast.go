// Package broadcast provides a per-server fan-out of console lines to an
// arbitrary number of live subscribers. Publishing never blocks: a subscriber
// that cannot keep up loses messages and is told how many it missed via the
// Dropped field of the next message it does receive.
package broadcast

import "sync"

// DefaultCapacity is the per-subscriber backlog used by New.
const DefaultCapacity = 256

// Message is one console line, possibly preceded by a gap.
type Message struct {
	Text string
	// Dropped is the number of messages lost before this one because the
	// subscriber's backlog was full. Zero means no gap.
	Dropped uint64
}

// Broadcaster distributes lines to all current subscribers.
// Closing it delivers end-of-stream to every subscriber; buffered
// messages are still drained by receivers after close.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	cap    int
	closed bool
}

// Subscription is one independent, forward-only feed of messages.
type Subscription struct {
	ch      chan Message
	b       *Broadcaster
	id      uint64
	dropped uint64 // pending gap, guarded by b.mu
	removed bool   // guarded by b.mu
}

func New() *Broadcaster { return NewWithCapacity(DefaultCapacity) }

func NewWithCapacity(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcaster{subs: make(map[uint64]*Subscription), cap: capacity}
}

// Subscribe returns a new feed receiving every message published after this
// call. A closed broadcaster returns an already-terminated subscription.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{ch: make(chan Message, b.cap), b: b, id: b.nextID}
	b.nextID++
	if b.closed {
		s.removed = true
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers text to all subscribers without ever blocking.
// A subscriber with a full backlog accrues a gap instead.
func (b *Broadcaster) Publish(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- Message{Text: text, Dropped: s.dropped}:
			s.dropped = 0
		default:
			s.dropped++
		}
	}
}

// Close terminates all subscriptions. Idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.removed = true
		close(s.ch)
	}
}

// Lines is the receive side of the subscription. The channel is closed when
// the broadcaster closes or Unsubscribe is called; buffered messages can
// still be drained after that.
func (s *Subscription) Lines() <-chan Message { return s.ch }

// Unsubscribe detaches the subscription. Idempotent, safe concurrently with
// Publish and Close.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.removed {
		return
	}
	s.removed = true
	delete(s.b.subs, s.id)
	close(s.ch)
}
