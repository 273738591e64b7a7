// Package hub fans committed ledger snapshots out to live subscribers.
//
// The registry is process-scoped and in-memory: subscribers are added on
// connect and removed on disconnect or write failure, and everything is
// lost on restart. That is acceptable because the stream is informational,
// never authoritative.
package hub

import (
	"sync"

	"github.com/jcmexdev/ecommerce-metrics/internal/ledger"
)

// subscriberBuffer absorbs short bursts; a subscriber that falls further
// behind than this is considered dead and gets dropped.
const subscriberBuffer = 8

// Hub is a registry of active snapshot subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan ledger.Snapshot]struct{}
}

func New() *Hub {
	return &Hub{subs: make(map[chan ledger.Snapshot]struct{})}
}

// Subscribe registers a new subscriber and returns its channel. The
// channel is closed by the hub if the subscriber is dropped for falling
// behind; otherwise the caller must Unsubscribe it.
func (h *Hub) Subscribe() chan ledger.Snapshot {
	ch := make(chan ledger.Snapshot, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber. Safe to call for an already-dropped
// channel.
func (h *Hub) Unsubscribe(ch chan ledger.Snapshot) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish delivers snap to every subscriber, best effort and non-blocking.
// A subscriber whose buffer is full is removed and its channel closed; the
// failure never affects other subscribers or the caller. Returns how many
// subscribers received the snapshot and how many were dropped.
func (h *Hub) Publish(snap ledger.Snapshot) (delivered, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- snap:
			delivered++
		default:
			delete(h.subs, ch)
			close(ch)
			dropped++
		}
	}
	return delivered, dropped
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
