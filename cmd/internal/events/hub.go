package events

import (
	"log/slog"
	"sync"

	"tally/cmd/internal/metrics"

	v1 "tally/shared/contracts/events/v1"
)

// Hub fans expense change envelopes out to each owning user's connected
// clients. Feeds are strictly per-user: an envelope published for one user is
// never visible to another user's subscribers.
//
// Concurrency guarantees:
// - Attach/Detach are safe under concurrent Publish.
// - Publish never blocks (drops under backpressure).
// - Publish is panic-safe because Subscriber.Send is never closed by the server.
type Hub struct {
	log       *slog.Logger
	collector *metrics.Collector

	mu    sync.RWMutex
	feeds map[string]map[string]*Subscriber
}

// NewHub constructs a Hub. The collector may be nil.
func NewHub(log *slog.Logger, collector *metrics.Collector) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:       log,
		collector: collector,
		feeds:     make(map[string]map[string]*Subscriber),
	}
}

// Attach registers a subscriber under its user's feed.
func (h *Hub) Attach(sub *Subscriber) {
	if h == nil || sub == nil || sub.UserID == "" || sub.ConnID == "" {
		return
	}

	h.mu.Lock()
	feed, ok := h.feeds[sub.UserID]
	if !ok {
		feed = make(map[string]*Subscriber)
		h.feeds[sub.UserID] = feed
	}
	feed[sub.ConnID] = sub
	h.mu.Unlock()

	h.collector.EventsClientConnected()
	h.log.Info("feed.subscriber.join", "user_id", sub.UserID, "conn_id", sub.ConnID)
}

// Detach removes a subscriber from its user's feed and signals shutdown for it.
// Empty feeds are dropped so the map does not grow with every user ever seen.
func (h *Hub) Detach(sub *Subscriber) {
	if h == nil || sub == nil || sub.UserID == "" || sub.ConnID == "" {
		return
	}

	removed := false

	h.mu.Lock()
	if feed, ok := h.feeds[sub.UserID]; ok {
		if _, ok := feed[sub.ConnID]; ok {
			delete(feed, sub.ConnID)
			removed = true
		}
		if len(feed) == 0 {
			delete(h.feeds, sub.UserID)
		}
	}
	h.mu.Unlock()

	// Signal subscriber shutdown after removing it from the feed.
	// This ordering avoids race windows where a publisher still holds a pointer
	// while the subscriber goroutines are being torn down.
	sub.Close()

	if removed {
		h.collector.EventsClientDisconnected()
		h.log.Info("feed.subscriber.leave", "user_id", sub.UserID, "conn_id", sub.ConnID)
	}
}

// Publish fans an envelope out to every subscriber of userID.
// Non-blocking: if a subscriber queue is full or the subscriber is shutting
// down, the envelope is dropped for that subscriber.
func (h *Hub) Publish(userID string, env v1.Envelope) {
	if h == nil || userID == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.feeds[userID] {
		if sub == nil {
			continue
		}

		select {
		case <-sub.Done():
			// Skip subscribers that are shutting down.
			continue
		default:
		}

		select {
		case sub.Send <- env:
		default:
			// Drop rather than block the whole feed behind one slow reader.
		}
	}
}

// Subscribers reports how many clients are attached for userID. For tests and
// introspection.
func (h *Hub) Subscribers(userID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.feeds[userID])
}
