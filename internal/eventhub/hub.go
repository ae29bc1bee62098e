// Package eventhub implements an in-process pub/sub that pushes JSON
// events to connected UI clients. Delivery is best-effort: a send failure
// drops that subscriber rather than blocking the broadcaster.
package eventhub

import (
	"encoding/json"
	"sync"
)

// Envelope is the wire shape broadcast to every subscriber.
type Envelope struct {
	Type    string         `json:"type"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Subscriber receives serialized envelopes. Send must not block
// indefinitely; a Hub treats any error as a reason to drop the subscriber.
type Subscriber interface {
	Send(data []byte) error
}

// Hub maintains the subscriber set and fans out broadcasts. The
// subscriber list is guarded by a mutex; sends happen outside the critical
// section against a snapshot, so a slow subscriber never blocks
// registration of new ones.
type Hub struct {
	mu   sync.Mutex
	subs map[int]Subscriber
	next int
}

// New builds an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[int]Subscriber)}
}

// Subscription identifies a registered subscriber for later removal.
type Subscription struct {
	id int
}

// Subscribe registers a new subscriber and returns a handle to unsubscribe
// it later.
func (h *Hub) Subscribe(sub Subscriber) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.subs[id] = sub
	return Subscription{id: id}
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (h *Hub) Unsubscribe(sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub.id)
}

// Broadcast serialises {type:"event", event, payload} once and sends it to
// every current subscriber. Delivery is unordered across subscribers but
// ordered within any one subscriber (each call to Broadcast sends in turn,
// and Subscriber implementations are expected to serialize their own
// writes). A send failure removes that subscriber; there is no
// backpressure and no retry.
func (h *Hub) Broadcast(event string, payload map[string]any) error {
	data, err := json.Marshal(Envelope{Type: "event", Event: event, Payload: payload})
	if err != nil {
		return err
	}

	h.mu.Lock()
	snapshot := make(map[int]Subscriber, len(h.subs))
	for id, sub := range h.subs {
		snapshot[id] = sub
	}
	h.mu.Unlock()

	var dead []int
	for id, sub := range snapshot {
		if err := sub.Send(data); err != nil {
			dead = append(dead, id)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, id := range dead {
			delete(h.subs, id)
		}
		h.mu.Unlock()
	}
	return nil
}

// Count returns the current subscriber count, for diagnostics/metrics.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
