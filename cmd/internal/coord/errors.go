package coord

import (
	"errors"
	"fmt"
)

// Taxonomy kinds. Callers branch with errors.Is; reason codes below carry the
// stable machine-readable detail.
var (
	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("invalid input")

	// ErrAuth is returned when the caller is not a member or not the owner.
	ErrAuth = errors.New("not authorized")

	// ErrNotFound is returned when a chat, participant, or invite is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for capacity exhaustion, duplicate membership,
	// a held lock, or a lost compare-and-swap race after the single retry.
	ErrConflict = errors.New("conflict")

	// ErrState is returned for invalid state transitions, e.g. owner-leave
	// while other accepted participants remain.
	ErrState = errors.New("invalid state")

	// ErrUnavailable is returned when the store cannot be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// Stable reason codes surfaced to API clients.
const (
	ReasonMissingField         = "missing_field"
	ReasonChatNotFound         = "chat_not_found"
	ReasonNotCollaborative     = "not_collaborative"
	ReasonAlreadyCollaborative = "already_collaborative"
	ReasonNotMember            = "not_member"
	ReasonNotOwner             = "not_owner"
	ReasonNotParticipant       = "not_participant"
	ReasonInviteNotFound       = "invite_not_found"
	ReasonInviteInactive       = "invite_inactive"
	ReasonInviteExpired        = "invite_expired"
	ReasonInviteExhausted      = "invite_exhausted"
	ReasonCapacityReached      = "capacity_reached"
	ReasonAlreadyMember        = "already_member"
	ReasonLockHeld             = "lock_held"
	ReasonRetryConflict        = "retry_conflict"
	ReasonOwnerHasParticipants = "owner_has_participants"
	ReasonCannotRemoveOwner    = "cannot_remove_owner"
	ReasonStoreUnavailable     = "store_unavailable"
)

// Error attaches a stable reason code to a taxonomy kind.
// errors.Is(err, kind) keeps working through Unwrap.
type Error struct {
	Kind   error
	Reason string
	msg    string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("%s (%s)", e.Kind.Error(), e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind }

// NewError constructs a reason-carrying coordinator error.
func NewError(kind error, reason, format string, args ...any) *Error {
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Reason: reason, msg: msg}
}

// ReasonOf extracts the stable reason code from err, or "" when absent.
func ReasonOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// unavailable wraps an unexpected store failure into the taxonomy. The cause
// is preserved for logging; callers only see the stable kind and reason.
func unavailable(op string, cause error) error {
	return &Error{
		Kind:   ErrUnavailable,
		Reason: ReasonStoreUnavailable,
		msg:    fmt.Sprintf("%s: %v", op, cause),
	}
}
