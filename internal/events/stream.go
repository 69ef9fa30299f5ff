// Package events carries a session's ordered event feed to any number of
// subscribers. A bounded replay buffer lets a late subscriber catch up on
// what it missed before receiving live events.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the extra channel capacity a subscriber gets on top
// of the replayed tail. A subscriber that falls this far behind the live
// feed is disconnected rather than allowed to stall publishers.
const subscriberBuffer = 64

type subscriber struct {
	id string
	ch chan Event
}

// Stream is one session's event feed.
type Stream struct {
	mu sync.Mutex

	capacity int
	// retained tail, oldest first, at most capacity entries
	buffer  []Event
	nextSeq uint64

	subscribers map[string]*subscriber
	closed      bool
}

// NewStream creates a stream retaining at most capacity events for replay.
func NewStream(capacity int) *Stream {
	return &Stream{
		capacity:    capacity,
		subscribers: make(map[string]*subscriber),
	}
}

// Publish stamps the event with the next sequence number, retains it in the
// replay buffer (dropping the oldest entry when full) and fans it out to
// subscribers. Returns the stamped event.
func (s *Stream) Publish(e Event) Event {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return e
	}

	e.Seq = s.nextSeq
	s.nextSeq++
	e.Timestamp = time.Now().UTC()

	if len(s.buffer) == s.capacity {
		copy(s.buffer, s.buffer[1:])
		s.buffer[len(s.buffer)-1] = e
	} else {
		s.buffer = append(s.buffer, e)
	}

	var slow []string
	for id, sub := range s.subscribers {
		select {
		case sub.ch <- e:
		default:
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		sub := s.subscribers[id]
		delete(s.subscribers, id)
		close(sub.ch)
	}
	s.mu.Unlock()

	return e
}

// Subscribe registers a new subscriber. The returned channel first yields
// the retained tail, then every event published after the subscription, in
// sequence order with no gap or duplicate between the two. The cleanup
// function must be called when the subscriber is done.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()

	// Tail replay and registration happen under one lock acquisition so
	// no publish can slip between them.
	ch := make(chan Event, len(s.buffer)+subscriberBuffer)
	for _, e := range s.buffer {
		ch <- e
	}

	if s.closed {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}

	sub := &subscriber{
		id: uuid.NewString(),
		ch: ch,
	}
	s.subscribers[sub.id] = sub
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		if got, ok := s.subscribers[sub.id]; ok {
			delete(s.subscribers, sub.id)
			close(got.ch)
		}
		s.mu.Unlock()
	}
	return ch, cleanup
}

// Buffered returns a copy of the retained tail, oldest first.
func (s *Stream) Buffered() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := make([]Event, len(s.buffer))
	copy(tail, s.buffer)
	return tail
}

// SubscriberCount returns how many subscribers are attached.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Close disconnects all subscribers. Further publishes are dropped;
// the retained tail stays readable through Buffered and Subscribe.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subscribers {
		delete(s.subscribers, id)
		close(sub.ch)
	}
}
