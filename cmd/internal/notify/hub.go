package notify

import (
	"context"
	"log/slog"
	"sync"

	v1 "huddle/contracts/collab/v1"
)

// Hub owns the per-chat topics and is the process-local event bus between
// the coordinator and connected websocket clients. It satisfies the
// coordinator's Notifier interface.
//
// Delivery is best effort by contract: a publish to a chat nobody watches is
// dropped, and so is a publish to a subscriber with a full queue.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[string]*topic
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		topics: make(map[string]*topic),
	}
}

// Publish fans an event out to the chat's subscribers, if any.
func (h *Hub) Publish(_ context.Context, chatID string, env v1.Envelope) {
	h.mu.RLock()
	t := h.topics[chatID]
	h.mu.RUnlock()

	if t == nil {
		return
	}
	t.broadcast(env)
}

// get returns a stable topic handle for a chat, creating it on first use.
func (h *Hub) get(chatID string) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.topics[chatID]; ok {
		return t
	}
	t := newTopic(h.log, chatID)
	h.topics[chatID] = t
	return t
}

// drop removes a topic once its last subscriber is gone. Publishing to a
// dropped chat simply finds no topic.
func (h *Hub) drop(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.topics[chatID]; ok && t.size() == 0 {
		delete(h.topics, chatID)
	}
}
