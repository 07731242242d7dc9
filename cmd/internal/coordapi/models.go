package coordapi

import (
	"time"

	"huddle/cmd/internal/coord"
)

// ---- requests ----

type convertRequest struct {
	ChatID          string `json:"chat_id"`
	MaxParticipants int    `json:"max_participants,omitempty"`
	Title           string `json:"title,omitempty"`
}

type lockRequest struct {
	ChatID string `json:"chat_id"`
}

type inviteCreateRequest struct {
	ChatID  string `json:"chat_id"`
	MaxUses *int   `json:"max_uses,omitempty"`
	TTL     string `json:"ttl,omitempty"` // Go duration string, e.g. "48h"
}

type inviteRevokeRequest struct {
	ChatID string `json:"chat_id"`
}

type joinRequest struct {
	Code string `json:"code"`
}

type leaveRequest struct {
	ChatID string `json:"chat_id"`
}

type removeRequest struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

type transferRequest struct {
	ChatID     string `json:"chat_id"`
	NewOwnerID string `json:"new_owner_id"`
}

// ---- responses ----

type sessionResponse struct {
	ChatID          string `json:"chat_id"`
	OwnerID         string `json:"owner_id"`
	IsCollaborative bool   `json:"is_collaborative"`
	MaxParticipants int    `json:"max_participants"`
	Title           string `json:"title,omitempty"`
}

type participantResponse struct {
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	ColorIndex int       `json:"color_index"`
	JoinedAt   time.Time `json:"joined_at"`
}

type inviteResponse struct {
	InviteID  string     `json:"invite_id"`
	Code      string     `json:"code,omitempty"` // only present at creation
	MaxUses   *int       `json:"max_uses,omitempty"`
	UseCount  int        `json:"use_count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type convertResponse struct {
	Session sessionResponse     `json:"session"`
	Owner   participantResponse `json:"owner"`
	Invite  inviteResponse      `json:"invite"`
}

type acquireResponse struct {
	Acquired  bool      `json:"acquired"`
	Holder    string    `json:"holder,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	LeaseSecs int       `json:"lease_secs"`
}

type lockStatusResponse struct {
	Status    string    `json:"status"` // ok | locked | not_member
	Holder    string    `json:"holder,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type validateResponse struct {
	Valid           bool       `json:"valid"`
	ChatID          string     `json:"chat_id,omitempty"`
	Title           string     `json:"title,omitempty"`
	AcceptedCount   int        `json:"accepted_count,omitempty"`
	MaxParticipants int        `json:"max_participants,omitempty"`
	UsesLeft        *int       `json:"uses_left,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

type joinResponse struct {
	ChatID      string              `json:"chat_id"`
	Participant participantResponse `json:"participant"`
}

type participantsResponse struct {
	ChatID       string                `json:"chat_id"`
	Participants []participantResponse `json:"participants"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// ---- converters ----

func toSessionResponse(s coord.ChatSession) sessionResponse {
	return sessionResponse{
		ChatID:          s.ID,
		OwnerID:         s.OwnerID,
		IsCollaborative: s.IsCollaborative,
		MaxParticipants: s.MaxParticipants,
		Title:           s.Title,
	}
}

func toParticipantResponse(p coord.Participant) participantResponse {
	return participantResponse{
		UserID:     p.UserID,
		Role:       string(p.Role),
		ColorIndex: p.ColorIndex,
		JoinedAt:   p.JoinedAt,
	}
}

func toInviteResponse(ci coord.CreatedInvite) inviteResponse {
	return inviteResponse{
		InviteID:  ci.Invite.ID,
		Code:      ci.Code,
		MaxUses:   ci.Invite.MaxUses,
		UseCount:  ci.Invite.UseCount,
		ExpiresAt: ci.Invite.ExpiresAt,
	}
}
