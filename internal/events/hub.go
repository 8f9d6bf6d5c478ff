// Package events is the in-process pub/sub for delivery lifecycle events.
// The SSE endpoint and the watch TUI consume it; the dispatcher and webhook
// handlers produce into it.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published over the hub, one per delivery lifecycle step.
const (
	TypeDeliveryReceived  = "delivery.received"
	TypeDeliveryRejected  = "delivery.rejected"
	TypeDeliveryCompleted = "delivery.completed"
	TypeActionStarted     = "action.started"
	TypeActionCompleted   = "action.completed"
	TypeActionFailed      = "action.failed"
)

// DeliveryEvent is the payload for delivery.* events.
type DeliveryEvent struct {
	DeliveryID string `json:"delivery_id"`
	Project    string `json:"project"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ActionEvent is the payload for action.* events.
type ActionEvent struct {
	DeliveryID string `json:"delivery_id"`
	Project    string `json:"project"`
	Seq        int    `json:"seq"`
	ActionType string `json:"action_type"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Event is one published entry. IDs are monotonic, so Last-Event-ID replay
// works with a simple greater-than filter.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Hub retains the newest `capacity` events for late subscribers and fans
// live events out to active ones.
type Hub struct {
	mu       sync.Mutex
	lastID   int64
	capacity int
	buf      []Event
	subs     map[int]chan Event
	subSeq   int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		capacity: capacity,
		buf:      make([]Event, 0, capacity),
		subs:     make(map[int]chan Event),
	}
}

// Publish assigns the next event ID, buffers the event, and offers it to
// every subscriber without blocking. A subscriber that cannot keep up misses
// live events but can recover them via SnapshotSince.
func (h *Hub) Publish(eventType string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{
		ID:   h.lastID,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	if len(h.buf) == h.capacity {
		copy(h.buf, h.buf[1:])
		h.buf = h.buf[:h.capacity-1]
	}
	h.buf = append(h.buf, ev)

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a live event channel. The returned cancel func must be
// called or the subscription leaks.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	h.subSeq++
	id := h.subSeq
	ch := make(chan Event, 128)
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// lastID 0 returns everything still buffered.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Buffered events are already ordered by ID, so find the cut point.
	i := 0
	for i < len(h.buf) && h.buf[i].ID <= lastID {
		i++
	}
	out := make([]Event, len(h.buf)-i)
	copy(out, h.buf[i:])
	return out
}
