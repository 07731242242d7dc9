package coord

import (
	"context"
	"encoding/json"
	"time"

	"huddle/cmd/internal/ids"
	v1 "huddle/contracts/collab/v1"
)

// Notifier is the best-effort push boundary. The coordinator publishes after
// successful mutations; delivery guarantees are the notifier's problem and
// clients must reconcile against authoritative state anyway.
type Notifier interface {
	Publish(ctx context.Context, chatID string, env v1.Envelope)
}

// NopNotifier drops every event. Used when no realtime hub is wired.
type NopNotifier struct{}

// Publish drops the event.
func (NopNotifier) Publish(_ context.Context, _ string, _ v1.Envelope) {}

// newEvent builds a v1 envelope with a fresh ULID and marshaled payload.
// Marshal failures degrade to an empty payload rather than blocking the
// mutation that already committed.
func newEvent(eventType, chatID string, now time.Time, payload any) v1.Envelope {
	id, err := ids.NewULID(now)
	if err != nil {
		id = ""
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    eventType,
		ID:      id,
		ChatID:  chatID,
		TS:      now,
		Payload: raw,
	}
}
