package coord

import "time"

// Role of a participant within a collaborative chat.
type Role string

// Role values (storage-stable).
const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
)

// Status of a membership row. The state machine is accepted <-> removed;
// rejoin reactivates the existing row instead of inserting a duplicate.
type Status string

// Status values (storage-stable).
const (
	StatusAccepted Status = "accepted"
	StatusRemoved  Status = "removed"
)

// OwnerColorIndex is reserved exclusively for the current owner.
const OwnerColorIndex = 0

// MaxParticipantsCap is the hard upper bound on session capacity.
const MaxParticipantsCap = 3

// ChatSession is the coordinator's view of one collaborative chat.
type ChatSession struct {
	ID              string
	OwnerID         string
	IsCollaborative bool
	MaxParticipants int
	Title           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Participant is one (chat, user) membership row.
type Participant struct {
	ChatID     string
	UserID     string
	Role       Role
	Status     Status
	ColorIndex int
	InvitedBy  *string
	JoinedAt   time.Time
}

// Lock is the per-chat turn-taking lease. A row whose ExpiresAt has passed is
// treated as absent by every read.
type Lock struct {
	ChatID    string
	LockedBy  string
	LockedAt  time.Time
	ExpiresAt time.Time
}

// ExpiredAt reports whether the lease has lapsed at the given instant.
func (l Lock) ExpiredAt(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Invite admits a bounded number of new participants. Only the HMAC/SHA-256
// hash of the code is persisted; the plain code exists in the creation
// response and in join requests.
type Invite struct {
	ID        string
	ChatID    string
	CodeHash  string
	CreatedBy string
	MaxUses   *int // nil => unlimited uses (capacity still caps admissions)
	UseCount  int
	IsActive  bool
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Exhausted reports whether the invite's use budget is spent.
func (i Invite) Exhausted() bool {
	return i.MaxUses != nil && i.UseCount >= *i.MaxUses
}

// Expired reports whether the invite's own expiry (unrelated to the lock
// lease) has passed.
func (i Invite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// ---- Operation results ----

// AcquireResult reports the outcome of a lock acquisition attempt. On denial,
// Holder and ExpiresAt identify the current lease for UI display.
type AcquireResult struct {
	Acquired  bool
	Holder    string
	ExpiresAt time.Time
}

// PromptStatus classifies whether a user may prompt right now.
type PromptStatus string

// PromptStatus values.
const (
	PromptOK        PromptStatus = "ok"
	PromptLocked    PromptStatus = "locked"
	PromptNotMember PromptStatus = "not_member"
)

// CanPromptResult is the pure-read gating answer for the UI. It never grants
// access by itself; Acquire re-checks everything atomically.
type CanPromptResult struct {
	Status    PromptStatus
	Holder    string
	ExpiresAt time.Time
}

// InviteSummary is the side-effect-free validation answer, safe to render on
// a pre-auth landing page.
type InviteSummary struct {
	ChatID          string
	Title           string
	AcceptedCount   int
	MaxParticipants int
	UsesLeft        *int // nil => unlimited
	ExpiresAt       *time.Time
}

// CreatedInvite carries the freshly minted invite plus its plain code. The
// code is not recoverable afterwards.
type CreatedInvite struct {
	Invite Invite
	Code   string
}

// ConvertedSession is the result of enabling collaboration on a chat.
type ConvertedSession struct {
	Session ChatSession
	Owner   Participant
	Invite  CreatedInvite
}
