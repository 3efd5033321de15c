// Package bus fans lifecycle events out to in-process subscribers such as
// the server-sent events stream.
package bus

import (
	"sync"
	"time"
)

// Event is a named notification with a JSON-serializable payload.
type Event struct {
	Name    string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// EventHandler receives broadcast events. It must not block.
type EventHandler func(Event)

// MessageBus broadcasts events to subscribers.
type MessageBus struct {
	subscribers map[string]EventHandler
	subMu       sync.RWMutex
}

func New() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]EventHandler),
	}
}

// Subscribe registers an event subscriber under id, replacing any previous one.
func (mb *MessageBus) Subscribe(id string, handler EventHandler) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	mb.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (mb *MessageBus) Unsubscribe(id string) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	delete(mb.subscribers, id)
}

// Subscribers returns the number of registered handlers.
func (mb *MessageBus) Subscribers() int {
	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	return len(mb.subscribers)
}

// Broadcast sends an event to all subscribers.
func (mb *MessageBus) Broadcast(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	for _, handler := range mb.subscribers {
		handler(event) // handlers should be non-blocking
	}
}
