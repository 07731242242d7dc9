package coord

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"huddle/cmd/internal/ids"
	"huddle/cmd/security/token"
	v1 "huddle/contracts/collab/v1"
)

const (
	defaultLease     = 90 * time.Second
	defaultInviteTTL = 7 * 24 * time.Hour
	defaultCodeBytes = 32
)

// Coordinator implements the exposed collaborative-session operations against
// a Store. Business logic lives here exactly once; atomicity lives in the
// Store implementations.
type Coordinator struct {
	log      *slog.Logger
	store    Store
	notifier Notifier
	metrics  *Metrics

	lease     time.Duration
	inviteTTL time.Duration
	codeBytes int
	clock     func() time.Time
}

// Option configures the Coordinator.
type Option func(*Coordinator) error

// WithNotifier wires a realtime notifier (default: drop everything).
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) error {
		if n == nil {
			return NewError(ErrValidation, ReasonMissingField, "nil notifier")
		}
		c.notifier = n
		return nil
	}
}

// WithMetrics wires Prometheus instruments (default: none).
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) error {
		c.metrics = m
		return nil
	}
}

// WithLease overrides the lock lease duration.
func WithLease(d time.Duration) Option {
	return func(c *Coordinator) error {
		if d <= 0 {
			return NewError(ErrValidation, ReasonMissingField, "lease must be positive")
		}
		c.lease = d
		return nil
	}
}

// WithInviteTTL overrides the default invite expiry window.
func WithInviteTTL(d time.Duration) Option {
	return func(c *Coordinator) error {
		if d <= 0 {
			return NewError(ErrValidation, ReasonMissingField, "invite TTL must be positive")
		}
		c.inviteTTL = d
		return nil
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) error {
		if fn == nil {
			return NewError(ErrValidation, ReasonMissingField, "nil clock")
		}
		c.clock = fn
		return nil
	}
}

// New constructs a Coordinator with safe defaults.
func New(log *slog.Logger, store Store, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, NewError(ErrValidation, ReasonMissingField, "nil store")
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		log:       log,
		store:     store,
		notifier:  NopNotifier{},
		lease:     defaultLease,
		inviteTTL: defaultInviteTTL,
		codeBytes: defaultCodeBytes,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Lease returns the configured lock lease so the UI can render the crash
// recovery window ("X is prompting, up to Ns").
func (c *Coordinator) Lease() time.Duration { return c.lease }

// ---- Lock Manager ----

// Acquire grants the prompt lock to userID when no live lease exists.
// The caller must be an accepted member; the write itself is one conditional
// store operation, never a read-then-write.
func (c *Coordinator) Acquire(ctx context.Context, chatID, userID string) (AcquireResult, error) {
	chatID, userID, err := requireIDs(chatID, userID)
	if err != nil {
		return AcquireResult{}, err
	}
	if _, _, err := c.requireAccepted(ctx, chatID, userID); err != nil {
		c.metrics.lockAcquire("rejected")
		return AcquireResult{}, err
	}

	now := c.clock()
	lock, acquired, err := c.store.AcquireLock(ctx, chatID, userID, now, c.lease)
	if err != nil {
		c.metrics.lockAcquire("error")
		return AcquireResult{}, c.storeErr("lock.acquire", err)
	}
	if !acquired {
		c.metrics.lockAcquire("denied")
		c.log.Info("lock.acquire.denied", "chat_id", chatID, "user_id", userID, "holder", lock.LockedBy)
		return AcquireResult{Acquired: false, Holder: lock.LockedBy, ExpiresAt: lock.ExpiresAt}, nil
	}

	c.metrics.lockAcquire("granted")
	c.log.Info("lock.acquire.granted", "chat_id", chatID, "user_id", userID, "expires_at", lock.ExpiresAt)
	c.publish(ctx, chatID, v1.TypeLockAcquired, now, v1.LockPayload{
		ChatID:    chatID,
		HeldBy:    userID,
		ExpiresAt: lock.ExpiresAt,
	})
	return AcquireResult{Acquired: true, Holder: userID, ExpiresAt: lock.ExpiresAt}, nil
}

// Release clears the lock when userID holds it; otherwise a silent no-op.
// Safe to call speculatively on every completion/error/unmount path.
func (c *Coordinator) Release(ctx context.Context, chatID, userID string) error {
	chatID, userID, err := requireIDs(chatID, userID)
	if err != nil {
		return err
	}
	released, err := c.store.ReleaseLock(ctx, chatID, userID)
	if err != nil {
		return c.storeErr("lock.release", err)
	}
	if released {
		c.log.Info("lock.released", "chat_id", chatID, "user_id", userID)
		c.publish(ctx, chatID, v1.TypeLockReleased, c.clock(), v1.LockPayload{ChatID: chatID})
	}
	return nil
}

// CanPrompt is the pure-read UI gate: membership plus lock expiry. It never
// grants access; Acquire re-checks atomically.
func (c *Coordinator) CanPrompt(ctx context.Context, chatID, userID string) (CanPromptResult, error) {
	chatID, userID, err := requireIDs(chatID, userID)
	if err != nil {
		return CanPromptResult{}, err
	}
	if _, _, err := c.requireAccepted(ctx, chatID, userID); err != nil {
		if errors.Is(err, ErrAuth) {
			return CanPromptResult{Status: PromptNotMember}, nil
		}
		return CanPromptResult{}, err
	}

	lock, err := c.store.GetLock(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CanPromptResult{Status: PromptOK}, nil
		}
		return CanPromptResult{}, c.storeErr("lock.status", err)
	}
	if lock.ExpiredAt(c.clock()) || lock.LockedBy == userID {
		return CanPromptResult{Status: PromptOK}, nil
	}
	return CanPromptResult{Status: PromptLocked, Holder: lock.LockedBy, ExpiresAt: lock.ExpiresAt}, nil
}

// ---- Membership Coordinator ----

// ValidateInvite is read-only and side-effect free; safe to render a landing
// page before authentication. ok=false means the code does not admit anyone
// right now (absent, inactive, expired, exhausted, or the chat is full).
func (c *Coordinator) ValidateInvite(ctx context.Context, code string) (InviteSummary, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return InviteSummary{}, false, NewError(ErrValidation, ReasonMissingField, "missing invite code")
	}

	inv, err := c.store.GetInviteByCodeHash(ctx, token.HashInviteCodeHex(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return InviteSummary{}, false, nil
		}
		return InviteSummary{}, false, c.storeErr("invite.validate", err)
	}
	now := c.clock()
	if err := checkInviteUsable(inv, now); err != nil {
		return InviteSummary{}, false, nil
	}

	sess, err := c.store.GetSession(ctx, inv.ChatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return InviteSummary{}, false, nil
		}
		return InviteSummary{}, false, c.storeErr("invite.validate", err)
	}
	accepted, err := c.store.ListAccepted(ctx, inv.ChatID)
	if err != nil {
		return InviteSummary{}, false, c.storeErr("invite.validate", err)
	}
	if !sess.IsCollaborative || len(accepted) >= sess.MaxParticipants {
		return InviteSummary{}, false, nil
	}

	var usesLeft *int
	if inv.MaxUses != nil {
		left := *inv.MaxUses - inv.UseCount
		usesLeft = &left
	}
	return InviteSummary{
		ChatID:          sess.ID,
		Title:           sess.Title,
		AcceptedCount:   len(accepted),
		MaxParticipants: sess.MaxParticipants,
		UsesLeft:        usesLeft,
		ExpiresAt:       inv.ExpiresAt,
	}, true, nil
}

// Join admits userID through an invite code. The store re-validates
// everything inside one atomic unit; under contention at most one joiner
// wins the last slot.
func (c *Coordinator) Join(ctx context.Context, userID, code string) (Participant, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return Participant{}, NewError(ErrValidation, ReasonMissingField, "missing user id or invite code")
	}

	inv, err := c.store.GetInviteByCodeHash(ctx, token.HashInviteCodeHex(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.metrics.join("not_found")
			return Participant{}, NewError(ErrNotFound, ReasonInviteNotFound, "no invite for code")
		}
		c.metrics.join("error")
		return Participant{}, c.storeErr("join", err)
	}

	now := c.clock()
	p, _, err := c.store.Join(ctx, JoinRecord{
		ChatID:   inv.ChatID,
		UserID:   userID,
		InviteID: inv.ID,
		Now:      now,
	})
	if err != nil {
		c.metrics.join(joinOutcome(err))
		if isTaxonomy(err) {
			return Participant{}, err
		}
		return Participant{}, c.storeErr("join", err)
	}

	c.metrics.join("ok")
	c.log.Info("member.joined", "chat_id", p.ChatID, "user_id", p.UserID, "color_index", p.ColorIndex)
	c.publish(ctx, p.ChatID, v1.TypeParticipantJoined, now, v1.ParticipantPayload{
		ChatID:     p.ChatID,
		UserID:     p.UserID,
		Role:       string(p.Role),
		ColorIndex: p.ColorIndex,
	})
	return p, nil
}

// CreateInviteInput bounds a new invite. MaxUses, when set, may only tighten
// the capacity-derived seed; TTL defaults to the coordinator-wide window.
type CreateInviteInput struct {
	MaxUses *int
	TTL     time.Duration
}

// CreateInvite mints a fresh invite for the chat, deactivating any previous
// one. Owner-only. MaxUses is seeded from the remaining capacity so the
// invite alone can never out-admit the cap.
func (c *Coordinator) CreateInvite(ctx context.Context, chatID, callerID string, in CreateInviteInput) (CreatedInvite, error) {
	chatID, callerID, err := requireIDs(chatID, callerID)
	if err != nil {
		return CreatedInvite{}, err
	}
	sess, err := c.requireOwner(ctx, chatID, callerID)
	if err != nil {
		return CreatedInvite{}, err
	}
	accepted, err := c.store.ListAccepted(ctx, chatID)
	if err != nil {
		return CreatedInvite{}, c.storeErr("invite.create", err)
	}
	slots := sess.MaxParticipants - len(accepted)
	if slots <= 0 {
		return CreatedInvite{}, NewError(ErrConflict, ReasonCapacityReached, "chat %s is full", chatID)
	}
	maxUses := slots
	if in.MaxUses != nil {
		if *in.MaxUses < 1 {
			return CreatedInvite{}, NewError(ErrValidation, ReasonMissingField, "max_uses must be >= 1")
		}
		if *in.MaxUses < maxUses {
			maxUses = *in.MaxUses
		}
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = c.inviteTTL
	}

	now := c.clock()
	codePlain, err := newOpaqueCode(c.codeBytes)
	if err != nil {
		return CreatedInvite{}, unavailable("invite.create", err)
	}
	inviteID, err := ids.NewULID(now)
	if err != nil {
		return CreatedInvite{}, unavailable("invite.create", err)
	}
	expiresAt := now.Add(ttl)

	inv, err := c.store.CreateInvite(ctx, InviteRecord{
		ID:        inviteID,
		ChatID:    chatID,
		CodeHash:  token.HashInviteCodeHex(codePlain),
		CreatedBy: callerID,
		MaxUses:   &maxUses,
		ExpiresAt: &expiresAt,
		Now:       now,
	})
	if err != nil {
		if isTaxonomy(err) {
			return CreatedInvite{}, err
		}
		return CreatedInvite{}, c.storeErr("invite.create", err)
	}

	c.log.Info("invite.created", "chat_id", chatID, "invite_id", inv.ID, "max_uses", maxUses)
	c.publish(ctx, chatID, v1.TypeInviteCreated, now, v1.InvitePayload{
		ChatID:    chatID,
		InviteID:  inv.ID,
		MaxUses:   inv.MaxUses,
		ExpiresAt: inv.ExpiresAt,
	})
	return CreatedInvite{Invite: inv, Code: codePlain}, nil
}

// RevokeInvite deactivates the chat's active invite. Owner-only; revoking
// when none is active is a no-op.
func (c *Coordinator) RevokeInvite(ctx context.Context, chatID, callerID string) error {
	chatID, callerID, err := requireIDs(chatID, callerID)
	if err != nil {
		return err
	}
	if _, err := c.requireOwner(ctx, chatID, callerID); err != nil {
		return err
	}
	now := c.clock()
	revoked, err := c.store.RevokeInvite(ctx, chatID, now)
	if err != nil {
		return c.storeErr("invite.revoke", err)
	}
	if revoked {
		c.log.Info("invite.revoked", "chat_id", chatID)
		c.publish(ctx, chatID, v1.TypeInviteRevoked, now, v1.InvitePayload{ChatID: chatID})
	}
	return nil
}

// ---- Leave / Removal ----

// Leave removes the caller from the chat. A non-owner is soft-removed and
// its lock released in the same unit. The owner may leave only when alone;
// the session then degrades to an ordinary single-user chat.
func (c *Coordinator) Leave(ctx context.Context, chatID, userID string) error {
	chatID, userID, err := requireIDs(chatID, userID)
	if err != nil {
		return err
	}
	sess, err := c.getSession(ctx, chatID)
	if err != nil {
		return err
	}

	now := c.clock()
	if sess.OwnerID == userID {
		if err := c.store.OwnerLeave(ctx, chatID, userID, now); err != nil {
			if isTaxonomy(err) {
				return err
			}
			return c.storeErr("leave.owner", err)
		}
		c.log.Info("session.downgraded", "chat_id", chatID)
		c.publish(ctx, chatID, v1.TypeSessionDowngraded, now, v1.SessionDowngradedPayload{ChatID: chatID})
		return nil
	}

	res, err := c.store.Remove(ctx, chatID, userID, now)
	if err != nil {
		if isTaxonomy(err) {
			return err
		}
		return c.storeErr("leave", err)
	}
	c.log.Info("member.left", "chat_id", chatID, "user_id", userID, "lock_released", res.LockReleased)
	c.publish(ctx, chatID, v1.TypeParticipantLeft, now, v1.ParticipantPayload{
		ChatID:     chatID,
		UserID:     userID,
		ColorIndex: res.Participant.ColorIndex,
	})
	if res.LockReleased {
		c.publish(ctx, chatID, v1.TypeLockReleased, now, v1.LockPayload{ChatID: chatID})
	}
	return nil
}

// RemoveParticipant lets the owner eject a non-owner participant. Removing
// the owner through this path is forbidden regardless of caller.
func (c *Coordinator) RemoveParticipant(ctx context.Context, chatID, callerID, targetID string) error {
	chatID, callerID, err := requireIDs(chatID, callerID)
	if err != nil {
		return err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return NewError(ErrValidation, ReasonMissingField, "missing target user id")
	}
	sess, err := c.requireOwner(ctx, chatID, callerID)
	if err != nil {
		return err
	}
	if targetID == sess.OwnerID {
		return NewError(ErrState, ReasonCannotRemoveOwner, "owner of chat %s cannot be removed", chatID)
	}

	now := c.clock()
	res, err := c.store.Remove(ctx, chatID, targetID, now)
	if err != nil {
		if isTaxonomy(err) {
			return err
		}
		return c.storeErr("member.remove", err)
	}
	c.log.Info("member.removed", "chat_id", chatID, "user_id", targetID, "by", callerID, "lock_released", res.LockReleased)
	c.publish(ctx, chatID, v1.TypeParticipantRemoved, now, v1.ParticipantPayload{
		ChatID:     chatID,
		UserID:     targetID,
		ColorIndex: res.Participant.ColorIndex,
	})
	if res.LockReleased {
		c.publish(ctx, chatID, v1.TypeLockReleased, now, v1.LockPayload{ChatID: chatID})
	}
	return nil
}

// ---- Ownership Transfer ----

// Transfer reassigns ownership to an accepted participant. All four
// sub-steps (verify owner, verify target, move owner id, swap role/color)
// commit or fail together.
func (c *Coordinator) Transfer(ctx context.Context, chatID, callerID, newOwnerID string) error {
	chatID, callerID, err := requireIDs(chatID, callerID)
	if err != nil {
		return err
	}
	newOwnerID = strings.TrimSpace(newOwnerID)
	if newOwnerID == "" {
		return NewError(ErrValidation, ReasonMissingField, "missing new owner id")
	}
	if newOwnerID == callerID {
		return NewError(ErrValidation, ReasonNotParticipant, "new owner must differ from the current owner")
	}
	if _, err := c.requireOwner(ctx, chatID, callerID); err != nil {
		return err
	}

	now := c.clock()
	if err := c.store.Transfer(ctx, chatID, callerID, newOwnerID, now); err != nil {
		if isTaxonomy(err) {
			return err
		}
		return c.storeErr("transfer", err)
	}
	c.log.Info("owner.changed", "chat_id", chatID, "from", callerID, "to", newOwnerID)
	c.publish(ctx, chatID, v1.TypeOwnerChanged, now, v1.OwnerChangedPayload{
		ChatID:        chatID,
		PreviousOwner: callerID,
		NewOwner:      newOwnerID,
	})
	return nil
}

// ---- Participant Registry ----

// ListParticipants returns the accepted roster. Membership-gated.
func (c *Coordinator) ListParticipants(ctx context.Context, chatID, callerID string) ([]Participant, error) {
	chatID, callerID, err := requireIDs(chatID, callerID)
	if err != nil {
		return nil, err
	}
	if _, _, err := c.requireAccepted(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	out, err := c.store.ListAccepted(ctx, chatID)
	if err != nil {
		return nil, c.storeErr("participants.list", err)
	}
	return out, nil
}

// Membership reports whether userID is currently an accepted member of the
// collaborative chat. The realtime gateway gates subscriptions with it.
func (c *Coordinator) Membership(ctx context.Context, chatID, userID string) (bool, error) {
	if _, _, err := c.requireAccepted(ctx, chatID, userID); err != nil {
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrState) || errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ---- Session lifecycle ----

// Convert enables collaboration on a chat: session row, owner participant
// row (color 0), and the initial invite, as one unit.
func (c *Coordinator) Convert(ctx context.Context, chatID, ownerID string, maxParticipants int, title string) (ConvertedSession, error) {
	chatID, ownerID, err := requireIDs(chatID, ownerID)
	if err != nil {
		return ConvertedSession{}, err
	}
	if maxParticipants == 0 {
		maxParticipants = MaxParticipantsCap
	}
	if maxParticipants < 2 || maxParticipants > MaxParticipantsCap {
		return ConvertedSession{}, NewError(ErrValidation, ReasonMissingField, "max_participants must be between 2 and %d", MaxParticipantsCap)
	}

	now := c.clock()
	codePlain, err := newOpaqueCode(c.codeBytes)
	if err != nil {
		return ConvertedSession{}, unavailable("convert", err)
	}
	inviteID, err := ids.NewULID(now)
	if err != nil {
		return ConvertedSession{}, unavailable("convert", err)
	}
	maxUses := maxParticipants - 1
	expiresAt := now.Add(c.inviteTTL)

	sess, owner, inv, err := c.store.Convert(ctx, ConvertRecord{
		ChatID:          chatID,
		OwnerID:         ownerID,
		MaxParticipants: maxParticipants,
		Title:           strings.TrimSpace(title),
		InviteID:        inviteID,
		InviteCodeHash:  token.HashInviteCodeHex(codePlain),
		InviteMaxUses:   &maxUses,
		InviteExpiresAt: &expiresAt,
		Now:             now,
	})
	if err != nil {
		if isTaxonomy(err) {
			return ConvertedSession{}, err
		}
		return ConvertedSession{}, c.storeErr("convert", err)
	}

	c.log.Info("session.converted", "chat_id", chatID, "owner_id", ownerID, "max_participants", maxParticipants)
	return ConvertedSession{
		Session: sess,
		Owner:   owner,
		Invite:  CreatedInvite{Invite: inv, Code: codePlain},
	}, nil
}

// ---- helpers ----

func (c *Coordinator) getSession(ctx context.Context, chatID string) (ChatSession, error) {
	sess, err := c.store.GetSession(ctx, chatID)
	if err != nil {
		if isTaxonomy(err) {
			return ChatSession{}, err
		}
		return ChatSession{}, c.storeErr("session.get", err)
	}
	return sess, nil
}

// requireAccepted verifies the chat is collaborative and userID is an
// accepted member (owner included).
func (c *Coordinator) requireAccepted(ctx context.Context, chatID, userID string) (ChatSession, Participant, error) {
	sess, err := c.getSession(ctx, chatID)
	if err != nil {
		return ChatSession{}, Participant{}, err
	}
	if !sess.IsCollaborative {
		return ChatSession{}, Participant{}, NewError(ErrState, ReasonNotCollaborative, "chat %s is not collaborative", chatID)
	}
	p, err := c.store.GetParticipant(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ChatSession{}, Participant{}, NewError(ErrAuth, ReasonNotMember, "user %s is not a member of chat %s", userID, chatID)
		}
		return ChatSession{}, Participant{}, c.storeErr("participant.get", err)
	}
	if p.Status != StatusAccepted {
		return ChatSession{}, Participant{}, NewError(ErrAuth, ReasonNotMember, "user %s is not an accepted member of chat %s", userID, chatID)
	}
	return sess, p, nil
}

// requireOwner verifies callerID owns a collaborative chat.
func (c *Coordinator) requireOwner(ctx context.Context, chatID, callerID string) (ChatSession, error) {
	sess, err := c.getSession(ctx, chatID)
	if err != nil {
		return ChatSession{}, err
	}
	if !sess.IsCollaborative {
		return ChatSession{}, NewError(ErrState, ReasonNotCollaborative, "chat %s is not collaborative", chatID)
	}
	if sess.OwnerID != callerID {
		return ChatSession{}, NewError(ErrAuth, ReasonNotOwner, "user %s is not the owner of chat %s", callerID, chatID)
	}
	return sess, nil
}

func (c *Coordinator) publish(ctx context.Context, chatID, eventType string, now time.Time, payload any) {
	c.notifier.Publish(ctx, chatID, newEvent(eventType, chatID, now, payload))
}

// storeErr wraps unexpected infrastructure failures as ErrUnavailable and
// logs them; taxonomy and context errors pass through untouched.
func (c *Coordinator) storeErr(op string, err error) error {
	if isTaxonomy(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.log.Error(op+".store_fail", "err", err)
	return unavailable(op, err)
}

func isTaxonomy(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

func joinOutcome(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuth):
		return "forbidden"
	case errors.Is(err, ErrState):
		return "state"
	default:
		return "error"
	}
}

func requireIDs(chatID, userID string) (string, string, error) {
	chatID = strings.TrimSpace(chatID)
	userID = strings.TrimSpace(userID)
	if chatID == "" || userID == "" {
		return "", "", NewError(ErrValidation, ReasonMissingField, "missing chat id or user id")
	}
	return chatID, userID, nil
}

func newOpaqueCode(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultCodeBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
