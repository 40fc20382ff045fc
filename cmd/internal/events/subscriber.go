package events

import (
	"sync"

	v1 "tally/shared/contracts/events/v1"
)

// Subscriber represents one connected websocket client of a user's feed.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent publishers.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Subscriber struct {
	UserID string
	ConnID string
	Send   chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewSubscriber constructs a Subscriber with a bounded send queue.
func NewSubscriber(userID, connID string, sendQueueSize int) *Subscriber {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Subscriber{
		UserID: userID,
		ConnID: connID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the subscriber is shutting down.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals the subscriber goroutines to stop (idempotent).
// It does NOT close Send to keep Publish safe under concurrency.
func (s *Subscriber) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
