package coord

import "time"

// Pure admission rules shared by every Store implementation so the two
// Postgres paths and the in-memory store classify failures identically.

// checkInviteUsable validates an invite against its own lifecycle fields.
// It does not look at capacity or membership.
func checkInviteUsable(inv Invite, now time.Time) error {
	if !inv.IsActive {
		return NewError(ErrConflict, ReasonInviteInactive, "invite %s is no longer active", inv.ID)
	}
	if inv.Expired(now) {
		return NewError(ErrConflict, ReasonInviteExpired, "invite %s expired", inv.ID)
	}
	if inv.Exhausted() {
		return NewError(ErrConflict, ReasonInviteExhausted, "invite %s has no uses left", inv.ID)
	}
	return nil
}

// checkAdmission validates a join against the session and the current
// accepted roster. A previously removed row is fine (it gets reactivated);
// an accepted row is a duplicate-join conflict.
func checkAdmission(sess ChatSession, accepted []Participant, userID string) error {
	if !sess.IsCollaborative {
		return NewError(ErrState, ReasonNotCollaborative, "chat %s is not collaborative", sess.ID)
	}
	for _, p := range accepted {
		if p.UserID == userID {
			return NewError(ErrConflict, ReasonAlreadyMember, "user %s is already a member of chat %s", userID, sess.ID)
		}
	}
	if len(accepted) >= sess.MaxParticipants {
		return NewError(ErrConflict, ReasonCapacityReached, "chat %s is full (%d/%d)", sess.ID, len(accepted), sess.MaxParticipants)
	}
	return nil
}

// pickColorIndex returns the color for an admitted participant: the lowest
// index in {1..max-1} not held by an accepted row. Index 0 is never
// assignable here (reserved for the owner). preferred, when >0 and free,
// wins — that is how a rejoining participant keeps its old color while the
// slot is still vacant.
func pickColorIndex(accepted []Participant, maxParticipants, preferred int) int {
	taken := make(map[int]bool, len(accepted))
	for _, p := range accepted {
		taken[p.ColorIndex] = true
	}
	if preferred > 0 && preferred < maxParticipants && !taken[preferred] {
		return preferred
	}
	for i := 1; i < maxParticipants; i++ {
		if !taken[i] {
			return i
		}
	}
	// Unreachable when capacity was checked first; returning max-1 keeps the
	// value in range rather than panicking on a store bug.
	return maxParticipants - 1
}
