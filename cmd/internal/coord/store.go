package coord

import (
	"context"
	"time"
)

// ConvertRecord is a normalized payload for enabling collaboration on a chat.
// The store creates the session row (or flips an existing one), the owner
// participant row, and the initial invite as one unit.
type ConvertRecord struct {
	ChatID          string
	OwnerID         string
	MaxParticipants int
	Title           string

	InviteID        string
	InviteCodeHash  string
	InviteMaxUses   *int
	InviteExpiresAt *time.Time

	Now time.Time
}

// JoinRecord describes an admission attempt resolved from an invite code.
type JoinRecord struct {
	ChatID   string
	UserID   string
	InviteID string
	Now      time.Time
}

// InviteRecord is a normalized invite insert payload. Creating a new invite
// deactivates any previously active one for the same chat in the same unit.
type InviteRecord struct {
	ID        string
	ChatID    string
	CodeHash  string
	CreatedBy string
	MaxUses   *int
	ExpiresAt *time.Time
	Now       time.Time
}

// RemoveResult reports what a Remove actually changed.
type RemoveResult struct {
	Participant  Participant
	LockReleased bool
}

// Store is the transactional persistence boundary for the coordinator.
//
// Contract:
//   - Every mutating method executes as one indivisible unit with respect to
//     other mutations on the same chat. Implementations achieve this with
//     multi-statement transactions (PostgresTxStore), conditional writes plus
//     a single bounded retry (PostgresCASStore), or a mutex (MemoryStore).
//   - Reads are strictly read-after-write consistent; no caching layer may
//     sit between the coordinator and the store.
//   - Methods return coordinator taxonomy errors (ErrNotFound, ErrConflict,
//     ErrState with reason codes); infrastructure failures bubble up raw for
//     the service to wrap as ErrUnavailable.
type Store interface {
	// Point reads.
	GetSession(ctx context.Context, chatID string) (ChatSession, error)
	GetParticipant(ctx context.Context, chatID, userID string) (Participant, error)
	ListAccepted(ctx context.Context, chatID string) ([]Participant, error)
	GetLock(ctx context.Context, chatID string) (Lock, error)
	GetInviteByCodeHash(ctx context.Context, codeHash string) (Invite, error)
	GetActiveInvite(ctx context.Context, chatID string) (Invite, error)

	// AcquireLock performs the single conditional write: it succeeds only if
	// no lock row exists for the chat or the existing row has expired. On
	// denial it returns the current lease and acquired=false.
	AcquireLock(ctx context.Context, chatID, userID string, now time.Time, lease time.Duration) (Lock, bool, error)

	// ReleaseLock clears the lock only when userID is the current holder.
	// Returns whether a row was actually cleared; never an error for the
	// not-holder case (idempotent, safe to call speculatively).
	ReleaseLock(ctx context.Context, chatID, userID string) (bool, error)

	// Convert enables collaboration: session + owner row + initial invite.
	Convert(ctx context.Context, in ConvertRecord) (ChatSession, Participant, Invite, error)

	// Join re-validates the invite, re-checks capacity and membership,
	// increments use_count, and inserts or reactivates the participant row
	// as one unit. Returns the admitted participant and the updated invite.
	Join(ctx context.Context, in JoinRecord) (Participant, Invite, error)

	// Remove soft-deletes a non-owner membership (status -> removed) and, in
	// the same unit, releases the lock if the target holds it.
	Remove(ctx context.Context, chatID, userID string, now time.Time) (RemoveResult, error)

	// OwnerLeave downgrades the session when no other accepted participants
	// remain: is_collaborative -> false, owner row deleted, lock cleared,
	// invites deactivated. Fails with ErrState otherwise.
	OwnerLeave(ctx context.Context, chatID, ownerID string, now time.Time) error

	// Transfer atomically reassigns ownership: verifies the live owner and
	// the accepted target, updates the session owner, and swaps role and
	// color bookkeeping.
	Transfer(ctx context.Context, chatID, currentOwnerID, newOwnerID string, now time.Time) error

	// CreateInvite inserts a new invite and deactivates any previously
	// active one for the chat in the same unit.
	CreateInvite(ctx context.Context, in InviteRecord) (Invite, error)

	// RevokeInvite deactivates the chat's active invite. Returns whether an
	// active invite existed.
	RevokeInvite(ctx context.Context, chatID string, now time.Time) (bool, error)
}
