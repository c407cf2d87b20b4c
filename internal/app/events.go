package app

import (
	"log/slog"
	"sync"
)

// EventKind names what changed.
type EventKind string

const (
	EventSessions EventKind = "sessions"
	EventMessages EventKind = "messages"
	EventProfile  EventKind = "profile"
	EventControls EventKind = "controls"
	EventReset    EventKind = "reset"
	EventStatus   EventKind = "status"
)

// Event announces a state change. SessionID is set for session-scoped kinds.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
}

const subscriberBuffer = 64

type broadcaster struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Event
	logger *slog.Logger
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event), logger: slog.Default()}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// publish never blocks; a full subscriber misses the event.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("Dropping state event for slow subscriber",
				"subscriber", id,
				"kind", ev.Kind)
		}
	}
}
