// Package events fans out campaign and call deltas to live subscribers.
// Delivery is best-effort and room-scoped; the dispatch engine only ever
// holds the Publisher interface, never a transport.
package events

import (
	"fmt"
	"sync"
	"time"
)

// Event names.
const (
	EventCallUpdate          = "call_update"
	EventBroadcastUpdate     = "broadcast_update"
	EventCallsCreated        = "calls_created"
	EventStatsUpdate         = "stats_update"
	EventBroadcastListUpdate = "broadcast_list_update"
)

// GlobalRoom receives the non-campaign-scoped events.
const GlobalRoom = "global"

// Room returns the room key for one broadcast.
func Room(broadcastID int) string {
	return fmt.Sprintf("broadcast:%d", broadcastID)
}

// CallUpdate is the per-call delta payload. Values only; subscribers
// never share mutable state with the engine.
type CallUpdate struct {
	BroadcastID int    `json:"broadcast_id"`
	CallID      int    `json:"call_id"`
	CallSID     string `json:"call_sid,omitempty"`
	Phone       string `json:"phone"`
	Status      string `json:"status"`
	Duration    int    `json:"duration"`
	Timestamp   int64  `json:"timestamp"`
}

type BroadcastUpdate struct {
	BroadcastID int            `json:"broadcast_id"`
	Status      string         `json:"status"`
	Stats       map[string]int `json:"stats"`
	ActiveCalls int            `json:"active_calls,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

type CallsCreated struct {
	BroadcastID int   `json:"broadcast_id"`
	Timestamp   int64 `json:"timestamp"`
}

// ListUpdate nudges list views to refetch after a broadcast-level
// change.
type ListUpdate struct {
	BroadcastID int   `json:"broadcast_id,omitempty"`
	Timestamp   int64 `json:"timestamp"`
}

// Now is the shared timestamp convention (unix millis).
func Now() int64 {
	return time.Now().UnixMilli()
}

// Publisher fans an event out to everyone subscribed to the room. It
// must never block the caller; drops are acceptable.
type Publisher interface {
	Publish(room, event string, payload any)
}

// Message is what a hub subscriber receives.
type Message struct {
	Room    string
	Event   string
	Payload any
}

// Hub is the in-memory room-scoped publish/subscribe transport.
// Subscriber channels are buffered; a full subscriber drops the message
// rather than stalling publish.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]chan Message
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan Message)}
}

// Subscribe registers a buffered channel on the room and returns it with
// an unsubscribe func. The channel is closed on unsubscribe.
func (h *Hub) Subscribe(room string) (<-chan Message, func()) {
	ch := make(chan Message, 64)
	h.mu.Lock()
	h.subs[room] = append(h.subs[room], ch)
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.subs[room]
		for i, c := range chans {
			if c == ch {
				h.subs[room] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

func (h *Hub) Publish(room, event string, payload any) {
	h.mu.Lock()
	chans := append([]chan Message(nil), h.subs[room]...)
	h.mu.Unlock()

	msg := Message{Room: room, Event: event, Payload: payload}
	for _, ch := range chans {
		select {
		case ch <- msg:
		default:
			// subscriber too slow, drop
		}
	}
}

var _ Publisher = (*Hub)(nil)

// Multi mirrors every publish to several transports.
type Multi []Publisher

func (m Multi) Publish(room, event string, payload any) {
	for _, p := range m {
		p.Publish(room, event, payload)
	}
}

var _ Publisher = (Multi)(nil)
