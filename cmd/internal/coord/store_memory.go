package coord

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback when no database is configured.
// A single mutex gives the same per-chat serialization the Postgres stores
// provide through transactions or conditional writes.
type MemoryStore struct {
	mu        sync.Mutex
	chats     map[string]*memChat
	invites   map[string]*Invite // by invite id
	codeIndex map[string]string  // code hash -> invite id
}

type memChat struct {
	sess           ChatSession
	parts          map[string]*Participant
	lock           *Lock
	activeInviteID string
}

// NewMemoryStore constructs an empty in-memory Store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:     make(map[string]*memChat),
		invites:   make(map[string]*Invite),
		codeIndex: make(map[string]string),
	}
}

func (s *MemoryStore) chat(chatID string) (*memChat, error) {
	c, ok := s.chats[chatID]
	if !ok {
		return nil, NewError(ErrNotFound, ReasonChatNotFound, "chat %s not found", chatID)
	}
	return c, nil
}

func (c *memChat) accepted() []Participant {
	out := make([]Participant, 0, len(c.parts))
	for _, p := range c.parts {
		if p.Status == StatusAccepted {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ColorIndex < out[j].ColorIndex })
	return out
}

// GetSession returns the session row for a chat.
func (s *MemoryStore) GetSession(ctx context.Context, chatID string) (ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return ChatSession{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return ChatSession{}, err
	}
	return c.sess, nil
}

// GetParticipant returns the membership row for (chat, user), any status.
func (s *MemoryStore) GetParticipant(ctx context.Context, chatID, userID string) (Participant, error) {
	if err := ctx.Err(); err != nil {
		return Participant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return Participant{}, err
	}
	p, ok := c.parts[userID]
	if !ok {
		return Participant{}, NewError(ErrNotFound, ReasonNotMember, "user %s has no membership in chat %s", userID, chatID)
	}
	return *p, nil
}

// ListAccepted returns accepted rows ordered by color index.
func (s *MemoryStore) ListAccepted(ctx context.Context, chatID string) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return nil, err
	}
	return c.accepted(), nil
}

// GetLock returns the raw lock row; callers interpret expiry.
func (s *MemoryStore) GetLock(ctx context.Context, chatID string) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return Lock{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return Lock{}, err
	}
	if c.lock == nil {
		return Lock{}, NewError(ErrNotFound, ReasonLockHeld, "no lock for chat %s", chatID)
	}
	return *c.lock, nil
}

// GetInviteByCodeHash looks up an invite by its stored code hash.
func (s *MemoryStore) GetInviteByCodeHash(ctx context.Context, codeHash string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.codeIndex[codeHash]
	if !ok {
		return Invite{}, NewError(ErrNotFound, ReasonInviteNotFound, "no invite for code")
	}
	return *s.invites[id], nil
}

// GetActiveInvite returns the chat's single active invite.
func (s *MemoryStore) GetActiveInvite(ctx context.Context, chatID string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return Invite{}, err
	}
	if c.activeInviteID == "" {
		return Invite{}, NewError(ErrNotFound, ReasonInviteNotFound, "chat %s has no active invite", chatID)
	}
	return *s.invites[c.activeInviteID], nil
}

// AcquireLock grants the lease only when no live lock exists.
func (s *MemoryStore) AcquireLock(ctx context.Context, chatID, userID string, now time.Time, lease time.Duration) (Lock, bool, error) {
	if err := ctx.Err(); err != nil {
		return Lock{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return Lock{}, false, err
	}
	if c.lock != nil && !c.lock.ExpiredAt(now) {
		return *c.lock, false, nil
	}
	l := Lock{ChatID: chatID, LockedBy: userID, LockedAt: now, ExpiresAt: now.Add(lease)}
	c.lock = &l
	return l, true, nil
}

// ReleaseLock clears the lock only for the current holder.
func (s *MemoryStore) ReleaseLock(ctx context.Context, chatID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return false, err
	}
	if c.lock == nil || c.lock.LockedBy != userID {
		return false, nil
	}
	c.lock = nil
	return true, nil
}

// Convert enables collaboration on a chat.
func (s *MemoryStore) Convert(ctx context.Context, in ConvertRecord) (ChatSession, Participant, Invite, error) {
	if err := ctx.Err(); err != nil {
		return ChatSession{}, Participant{}, Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[in.ChatID]
	if ok && c.sess.IsCollaborative {
		return ChatSession{}, Participant{}, Invite{}, NewError(ErrConflict, ReasonAlreadyCollaborative, "chat %s is already collaborative", in.ChatID)
	}
	if !ok {
		c = &memChat{parts: make(map[string]*Participant)}
		s.chats[in.ChatID] = c
		c.sess = ChatSession{ID: in.ChatID, CreatedAt: in.Now}
	}
	c.sess.OwnerID = in.OwnerID
	c.sess.IsCollaborative = true
	c.sess.MaxParticipants = in.MaxParticipants
	c.sess.Title = in.Title
	c.sess.UpdatedAt = in.Now

	owner := &Participant{
		ChatID:     in.ChatID,
		UserID:     in.OwnerID,
		Role:       RoleOwner,
		Status:     StatusAccepted,
		ColorIndex: OwnerColorIndex,
		JoinedAt:   in.Now,
	}
	c.parts[in.OwnerID] = owner

	inv := s.insertInviteLocked(c, InviteRecord{
		ID:        in.InviteID,
		ChatID:    in.ChatID,
		CodeHash:  in.InviteCodeHash,
		CreatedBy: in.OwnerID,
		MaxUses:   in.InviteMaxUses,
		ExpiresAt: in.InviteExpiresAt,
		Now:       in.Now,
	})
	return c.sess, *owner, inv, nil
}

// Join admits a user through an invite under the capacity cap.
func (s *MemoryStore) Join(ctx context.Context, in JoinRecord) (Participant, Invite, error) {
	if err := ctx.Err(); err != nil {
		return Participant{}, Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(in.ChatID)
	if err != nil {
		return Participant{}, Invite{}, err
	}
	inv, ok := s.invites[in.InviteID]
	if !ok || inv.ChatID != in.ChatID {
		return Participant{}, Invite{}, NewError(ErrNotFound, ReasonInviteNotFound, "invite %s not found", in.InviteID)
	}
	if err := checkInviteUsable(*inv, in.Now); err != nil {
		return Participant{}, Invite{}, err
	}
	accepted := c.accepted()
	if err := checkAdmission(c.sess, accepted, in.UserID); err != nil {
		return Participant{}, Invite{}, err
	}

	inv.UseCount++

	if prior, ok := c.parts[in.UserID]; ok {
		// Reactivate in place: original joined_at survives; the old color is
		// kept only while the slot is still free.
		prior.Status = StatusAccepted
		prior.Role = RoleParticipant
		prior.ColorIndex = pickColorIndex(accepted, c.sess.MaxParticipants, prior.ColorIndex)
		prior.InvitedBy = &inv.CreatedBy
		return *prior, *inv, nil
	}

	p := &Participant{
		ChatID:     in.ChatID,
		UserID:     in.UserID,
		Role:       RoleParticipant,
		Status:     StatusAccepted,
		ColorIndex: pickColorIndex(accepted, c.sess.MaxParticipants, -1),
		InvitedBy:  &inv.CreatedBy,
		JoinedAt:   in.Now,
	}
	c.parts[in.UserID] = p
	return *p, *inv, nil
}

// Remove soft-deletes a non-owner membership, releasing its lock if held.
func (s *MemoryStore) Remove(ctx context.Context, chatID, userID string, now time.Time) (RemoveResult, error) {
	if err := ctx.Err(); err != nil {
		return RemoveResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return RemoveResult{}, err
	}
	p, ok := c.parts[userID]
	if !ok || p.Status != StatusAccepted {
		return RemoveResult{}, NewError(ErrNotFound, ReasonNotMember, "user %s is not an accepted member of chat %s", userID, chatID)
	}
	if p.Role == RoleOwner {
		return RemoveResult{}, NewError(ErrState, ReasonCannotRemoveOwner, "owner of chat %s cannot be removed", chatID)
	}

	p.Status = StatusRemoved

	released := false
	if c.lock != nil && c.lock.LockedBy == userID {
		c.lock = nil
		released = true
	}
	return RemoveResult{Participant: *p, LockReleased: released}, nil
}

// OwnerLeave downgrades the session when the owner is alone.
func (s *MemoryStore) OwnerLeave(ctx context.Context, chatID, ownerID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return err
	}
	if c.sess.OwnerID != ownerID {
		return NewError(ErrAuth, ReasonNotOwner, "user %s is not the owner of chat %s", ownerID, chatID)
	}
	for _, p := range c.parts {
		if p.Status == StatusAccepted && p.UserID != ownerID {
			return NewError(ErrState, ReasonOwnerHasParticipants, "chat %s still has accepted participants", chatID)
		}
	}

	c.sess.IsCollaborative = false
	c.sess.UpdatedAt = now
	delete(c.parts, ownerID)
	c.lock = nil
	for _, inv := range s.invites {
		if inv.ChatID == chatID {
			inv.IsActive = false
		}
	}
	c.activeInviteID = ""
	return nil
}

// Transfer reassigns ownership and swaps role/color bookkeeping.
func (s *MemoryStore) Transfer(ctx context.Context, chatID, currentOwnerID, newOwnerID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return err
	}
	if c.sess.OwnerID != currentOwnerID {
		return NewError(ErrAuth, ReasonNotOwner, "user %s is not the live owner of chat %s", currentOwnerID, chatID)
	}
	oldOwner, ok := c.parts[currentOwnerID]
	if !ok || oldOwner.Status != StatusAccepted || oldOwner.Role != RoleOwner {
		return NewError(ErrConflict, ReasonNotOwner, "owner row for chat %s is out of sync", chatID)
	}
	next, ok := c.parts[newOwnerID]
	if !ok || next.Status != StatusAccepted {
		return NewError(ErrConflict, ReasonNotParticipant, "user %s is not an accepted participant of chat %s", newOwnerID, chatID)
	}

	vacated := next.ColorIndex
	next.Role = RoleOwner
	next.ColorIndex = OwnerColorIndex
	oldOwner.Role = RoleParticipant
	oldOwner.ColorIndex = vacated
	c.sess.OwnerID = newOwnerID
	c.sess.UpdatedAt = now
	return nil
}

// CreateInvite replaces the chat's active invite with a new one.
func (s *MemoryStore) CreateInvite(ctx context.Context, in InviteRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(in.ChatID)
	if err != nil {
		return Invite{}, err
	}
	return s.insertInviteLocked(c, in), nil
}

// RevokeInvite deactivates the active invite, if any.
func (s *MemoryStore) RevokeInvite(ctx context.Context, chatID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chat(chatID)
	if err != nil {
		return false, err
	}
	if c.activeInviteID == "" {
		return false, nil
	}
	s.invites[c.activeInviteID].IsActive = false
	c.activeInviteID = ""
	return true, nil
}

// insertInviteLocked deactivates the previous active invite and registers a
// new one. Caller holds s.mu.
func (s *MemoryStore) insertInviteLocked(c *memChat, in InviteRecord) Invite {
	if c.activeInviteID != "" {
		s.invites[c.activeInviteID].IsActive = false
	}
	inv := &Invite{
		ID:        in.ID,
		ChatID:    in.ChatID,
		CodeHash:  in.CodeHash,
		CreatedBy: in.CreatedBy,
		MaxUses:   in.MaxUses,
		UseCount:  0,
		IsActive:  true,
		ExpiresAt: in.ExpiresAt,
		CreatedAt: in.Now,
	}
	s.invites[inv.ID] = inv
	s.codeIndex[inv.CodeHash] = inv.ID
	c.activeInviteID = inv.ID
	return *inv
}
