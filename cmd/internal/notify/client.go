package notify

import (
	"sync"

	v1 "huddle/contracts/collab/v1"
)

// session is one connected websocket subscriber.
//
// The send queue is bounded and is never closed by the server: publishers
// drop under backpressure instead of blocking, and a closing session cannot
// panic a concurrent broadcaster. done carries the shutdown signal instead.
type session struct {
	id     string
	userID string
	send   chan v1.Envelope

	done     chan struct{}
	stopOnce sync.Once
}

func newSession(userID, sessionID string, queueSize int) *session {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &session{
		id:     sessionID,
		userID: userID,
		send:   make(chan v1.Envelope, queueSize),
		done:   make(chan struct{}),
	}
}

// stopped returns a channel closed once the session is shutting down.
func (s *session) stopped() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// stop signals the session goroutines to exit. Idempotent; never closes send.
func (s *session) stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
