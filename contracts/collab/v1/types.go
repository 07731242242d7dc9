// Package v1 defines the Huddle Collaboration Events Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
//
// Events are best-effort notifications. Clients must reconcile by re-querying
// authoritative state; the payload alone is never a source of truth.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeLockAcquired is pushed when a participant takes the prompt lock.
	TypeLockAcquired = "lock_acquired"
	// TypeLockReleased is pushed when the prompt lock is released.
	TypeLockReleased = "lock_released"

	// TypeParticipantJoined is pushed when a new participant is admitted.
	TypeParticipantJoined = "participant_joined"
	// TypeParticipantLeft is pushed when a participant leaves voluntarily.
	TypeParticipantLeft = "participant_left"
	// TypeParticipantRemoved is pushed when the owner removes a participant.
	TypeParticipantRemoved = "participant_removed"

	// TypeOwnerChanged is pushed after an ownership transfer.
	TypeOwnerChanged = "owner_changed"

	// TypeInviteCreated is pushed when a new invite replaces the active one.
	TypeInviteCreated = "invite_created"
	// TypeInviteRevoked is pushed when the active invite is revoked.
	TypeInviteRevoked = "invite_revoked"

	// TypeSessionDowngraded is pushed when the owner leaves and the chat
	// degrades to a single-user session.
	TypeSessionDowngraded = "session_downgraded"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"

	// TypeHello is the client's first frame after connecting.
	TypeHello = "hello"
	// TypeHelloAck acknowledges a hello and carries the session id.
	TypeHelloAck = "hello.ack"

	// TypeSubscribe asks for the event stream of one chat (client -> server).
	TypeSubscribe = "chat.subscribe"
	// TypeSubscribed confirms a subscription (server -> client).
	TypeSubscribed = "chat.subscribed"
	// TypeUnsubscribe drops the current chat subscription.
	TypeUnsubscribe = "chat.unsubscribe"
)

// Envelope is the canonical wire wrapper for coordinator events.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ChatID  string          `json:"chat_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeLockAcquired,
		TypeLockReleased,
		TypeParticipantJoined,
		TypeParticipantLeft,
		TypeParticipantRemoved,
		TypeOwnerChanged,
		TypeInviteCreated,
		TypeInviteRevoked,
		TypeSessionDowngraded,
		TypeError,
		TypeHello,
		TypeHelloAck,
		TypeSubscribe,
		TypeSubscribed,
		TypeUnsubscribe:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// LockPayload describes the lock state after an acquire or release.
type LockPayload struct {
	ChatID    string    `json:"chat_id"`
	HeldBy    string    `json:"held_by,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ParticipantPayload describes one membership change.
type ParticipantPayload struct {
	ChatID     string `json:"chat_id"`
	UserID     string `json:"user_id"`
	Role       string `json:"role,omitempty"`
	ColorIndex int    `json:"color_index"`
}

// OwnerChangedPayload describes a completed ownership transfer.
type OwnerChangedPayload struct {
	ChatID        string `json:"chat_id"`
	PreviousOwner string `json:"previous_owner"`
	NewOwner      string `json:"new_owner"`
}

// InvitePayload describes an invite lifecycle change. The invite code itself
// is never broadcast.
type InvitePayload struct {
	ChatID    string     `json:"chat_id"`
	InviteID  string     `json:"invite_id,omitempty"`
	MaxUses   *int       `json:"max_uses,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SessionDowngradedPayload marks the collaborative -> single-user transition.
type SessionDowngradedPayload struct {
	ChatID string `json:"chat_id"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HelloPayload is currently empty; reserved for client capabilities.
type HelloPayload struct{}

// HelloAckPayload carries the server-assigned websocket session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// SubscribePayload selects the chat whose events the client wants.
type SubscribePayload struct {
	ChatID string `json:"chat_id"`
}

// SubscribedPayload confirms the active subscription.
type SubscribedPayload struct {
	ChatID string `json:"chat_id"`
}
