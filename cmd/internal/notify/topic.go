package notify

import (
	"log/slog"
	"sync"

	v1 "huddle/contracts/collab/v1"
)

// topic is the per-chat fanout: every subscriber of a chat receives every
// coordinator event for that chat, best effort.
//
// Concurrency guarantees:
// - subscribe/unsubscribe are safe under concurrent broadcast.
// - broadcast never blocks (drops under backpressure).
// - broadcast is panic-safe because session.send is never closed here.
type topic struct {
	log    *slog.Logger
	chatID string

	mu      sync.RWMutex
	members map[string]*session
}

func newTopic(log *slog.Logger, chatID string) *topic {
	return &topic{
		log:     log,
		chatID:  chatID,
		members: make(map[string]*session),
	}
}

func (t *topic) subscribe(s *session) {
	if t == nil || s == nil || s.id == "" {
		return
	}

	t.mu.Lock()
	t.members[s.id] = s
	t.mu.Unlock()

	t.log.Info("topic.subscribe", "chat_id", t.chatID, "session_id", s.id, "user_id", s.userID)
}

// unsubscribe removes a session from the topic without stopping it; the same
// connection may immediately subscribe to another chat.
func (t *topic) unsubscribe(sessionID string) {
	if t == nil || sessionID == "" {
		return
	}

	t.mu.Lock()
	_, had := t.members[sessionID]
	delete(t.members, sessionID)
	t.mu.Unlock()

	if had {
		t.log.Info("topic.unsubscribe", "chat_id", t.chatID, "session_id", sessionID)
	}
}

func (t *topic) size() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// broadcast fans out one envelope to every subscriber. Sessions that are
// shutting down or whose queue is full are skipped.
func (t *topic) broadcast(env v1.Envelope) {
	if t == nil {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, m := range t.members {
		if m == nil {
			continue
		}

		select {
		case <-m.stopped():
			continue
		default:
		}

		select {
		case m.send <- env:
		default:
			// Drop rather than block the whole chat. Clients reconcile by
			// re-querying authoritative state on reconnect.
		}
	}
}
