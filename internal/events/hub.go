// Package events is an in-memory pub/sub with a ring buffer for late
// subscribers. Events are either broadcast or addressed to one named
// subscriber.
package events

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the daemon.
const (
	TypeBroadcast = "broadcast"
	TypeMessage   = "message"
	TypeCommand   = "command"
	TypeLifecycle = "lifecycle"
)

type Event struct {
	ID     int64           `json:"id"`
	Type   string          `json:"type"`
	Target string          `json:"target,omitempty"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}

// visibleTo reports whether a subscriber called name should see ev.
func (ev Event) visibleTo(name string) bool {
	return ev.Target == "" || ev.Target == name
}

type subscriber struct {
	name string
	ch   chan Event
}

// Hub fans events out to subscribers without ever blocking the publisher;
// a subscriber whose buffer is full misses the event.
type Hub struct {
	nextID  atomic.Int64
	dropped atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]*subscriber
	nextSubID int
	bufSize   int
}

// NewHub creates a hub remembering the last capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring:    make([]Event, capacity),
		subs:    make(map[int]*subscriber),
		bufSize: 128,
	}
}

// Publish broadcasts to every subscriber and returns how many got it.
func (h *Hub) Publish(eventType string, data any) int {
	return h.publish("", eventType, data)
}

// PublishTo delivers to subscribers registered under target only.
func (h *Hub) PublishTo(target, eventType string, data any) int {
	return h.publish(target, eventType, data)
}

func (h *Hub) publish(target, eventType string, data any) int {
	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:     h.nextID.Add(1),
		Type:   eventType,
		Target: target,
		At:     time.Now().UTC(),
		Data:   payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.pushLocked(ev)
	delivered := 0
	for _, sub := range h.subs {
		if !ev.visibleTo(sub.name) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribe registers a subscriber under name; an empty name sees broadcasts
// only. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(name string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	sub := &subscriber{name: name, ch: make(chan Event, h.bufSize)}
	h.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Connected reports whether at least one subscriber is registered under name.
func (h *Hub) Connected(name string) bool {
	if name == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.name == name {
			return true
		}
	}
	return false
}

// Names lists the distinct named subscribers, sorted.
func (h *Hub) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	for _, sub := range h.subs {
		if sub.name != "" {
			seen[sub.name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Subscribers counts active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// SnapshotSince returns buffered events with ID > lastID that name may see,
// oldest first.
func (h *Hub) SnapshotSince(name string, lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID && ev.visibleTo(name) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	n := len(h.ring)
	if h.size < n {
		h.ring[(h.start+h.size)%n] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % n
}
