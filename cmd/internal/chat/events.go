package chat

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind names an observable change for the presentation layer.
type EventKind string

const (
	EventRoomListChanged EventKind = "room-list-changed"
	EventMessagesChanged EventKind = "messages-changed"
	EventTypingChanged   EventKind = "typing-changed"
)

// Event is one notification. RoomID is empty for room-list-changed; Typing is
// only meaningful for typing-changed.
type Event struct {
	Kind   EventKind `json:"kind"`
	RoomID string    `json:"room_id,omitempty"`
	Typing bool      `json:"typing,omitempty"`
	At     time.Time `json:"at"`
}

// Subscriber is one consumer of the event stream.
//
// Events is never closed by the bus, so Publish stays panic-free while a
// subscriber is being torn down; watch Done instead.
type Subscriber struct {
	ID     string
	Events chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// Done returns a channel that is closed once the subscriber is removed.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Bus fans events out to subscribers.
//
// Concurrency guarantees:
//   - Subscribe/Unsubscribe are safe under concurrent Publish.
//   - Publish never blocks: a full subscriber queue drops the event.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]*Subscriber

	dropped atomic.Int64
}

// NewBus constructs an empty bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{log: log, subs: make(map[string]*Subscriber)}
}

// Subscribe registers a subscriber with a bounded queue.
func (b *Bus) Subscribe(queue int) *Subscriber {
	if queue <= 0 {
		queue = 64
	}
	s := &Subscriber{
		ID:     NewID(time.Time{}),
		Events: make(chan Event, queue),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[s.ID] = s
	n := len(b.subs)
	b.mu.Unlock()

	b.log.Debug("events.subscribe", "subscriber_id", s.ID, "subscribers", n)
	return s
}

// Unsubscribe removes the subscriber and closes its Done channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	// Close after removal so Publish never targets a closed subscriber.
	if s != nil {
		s.close()
		b.log.Debug("events.unsubscribe", "subscriber_id", id)
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		select {
		case <-s.done:
			continue
		default:
		}

		select {
		case s.Events <- ev:
		default:
			b.dropped.Add(1)
			b.log.Debug("events.drop", "subscriber_id", s.ID, "kind", string(ev.Kind))
		}
	}
}

// Dropped returns the number of events dropped under backpressure.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
