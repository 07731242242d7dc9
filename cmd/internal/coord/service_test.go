package coord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "huddle/contracts/collab/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable time source shared between test and coordinator.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier captures published envelopes for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []v1.Envelope
}

func (n *recordingNotifier) Publish(_ context.Context, _ string, env v1.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, env)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

func (n *recordingNotifier) count(eventType string) int {
	total := 0
	for _, t := range n.types() {
		if t == eventType {
			total++
		}
	}
	return total
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *MemoryStore, *fakeClock, *recordingNotifier) {
	t.Helper()
	store := NewMemoryStore()
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	all := append([]Option{WithClock(clock.Now), WithNotifier(notifier)}, opts...)
	c, err := New(testLogger(), store, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, store, clock, notifier
}

// mustConvert sets up a collaborative chat and returns the initial invite code.
func mustConvert(t *testing.T, c *Coordinator, chatID, ownerID string, max int) string {
	t.Helper()
	res, err := c.Convert(context.Background(), chatID, ownerID, max, "planning session")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	return res.Invite.Code
}

func mustJoin(t *testing.T, c *Coordinator, userID, code string) Participant {
	t.Helper()
	p, err := c.Join(context.Background(), userID, code)
	if err != nil {
		t.Fatalf("Join(%s): %v", userID, err)
	}
	return p
}

func wantReason(t *testing.T, err error, kind error, reason string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with reason %q, got nil", reason)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected kind %v, got %v", kind, err)
	}
	if got := ReasonOf(err); got != reason {
		t.Fatalf("expected reason %q, got %q (err: %v)", reason, got, err)
	}
}

func TestConvert(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.Convert(ctx, "chat-1", "alice", 3, "  roadmap  ")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !res.Session.IsCollaborative {
		t.Error("session should be collaborative")
	}
	if res.Session.OwnerID != "alice" {
		t.Errorf("owner = %q, want alice", res.Session.OwnerID)
	}
	if res.Session.Title != "roadmap" {
		t.Errorf("title = %q, want trimmed", res.Session.Title)
	}
	if res.Owner.Role != RoleOwner || res.Owner.ColorIndex != OwnerColorIndex {
		t.Errorf("owner row = %+v, want role=owner color=0", res.Owner)
	}
	if res.Invite.Code == "" {
		t.Error("invite code must be returned in plain form")
	}
	if res.Invite.Invite.MaxUses == nil || *res.Invite.Invite.MaxUses != 2 {
		t.Errorf("invite max_uses = %v, want 2 (capacity minus owner)", res.Invite.Invite.MaxUses)
	}

	// Converting again is a conflict, not an overwrite.
	_, err = c.Convert(ctx, "chat-1", "mallory", 3, "takeover")
	wantReason(t, err, ErrConflict, ReasonAlreadyCollaborative)
}

func TestConvertValidation(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.Convert(ctx, "chat-1", "alice", 1, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("max_participants=1: got %v, want validation error", err)
	}
	if _, err := c.Convert(ctx, "chat-1", "alice", MaxParticipantsCap+1, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("max_participants over cap: got %v, want validation error", err)
	}
	if _, err := c.Convert(ctx, "", "alice", 2, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty chat id: got %v, want validation error", err)
	}

	// Zero means "use the cap".
	res, err := c.Convert(ctx, "chat-2", "alice", 0, "")
	if err != nil {
		t.Fatalf("Convert with default capacity: %v", err)
	}
	if res.Session.MaxParticipants != MaxParticipantsCap {
		t.Errorf("max_participants = %d, want %d", res.Session.MaxParticipants, MaxParticipantsCap)
	}
}

func TestAcquireReleaseCycle(t *testing.T) {
	c, _, _, notifier := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)
	mustJoin(t, c, "bob", code)

	got, err := c.Acquire(ctx, "chat-1", "alice")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !got.Acquired || got.Holder != "alice" {
		t.Fatalf("acquire = %+v, want granted to alice", got)
	}

	// A second member is denied and told who holds the lease.
	denied, err := c.Acquire(ctx, "chat-1", "bob")
	if err != nil {
		t.Fatalf("Acquire(bob): %v", err)
	}
	if denied.Acquired {
		t.Fatal("bob must not acquire while alice holds the lock")
	}
	if denied.Holder != "alice" {
		t.Errorf("denied holder = %q, want alice", denied.Holder)
	}

	// Release by a non-holder is a silent no-op.
	if err := c.Release(ctx, "chat-1", "bob"); err != nil {
		t.Fatalf("Release by non-holder: %v", err)
	}
	if st, err := c.CanPrompt(ctx, "chat-1", "bob"); err != nil || st.Status != PromptLocked {
		t.Fatalf("lock must survive a stranger's release: %+v, %v", st, err)
	}

	// Release by the holder frees the chat.
	if err := c.Release(ctx, "chat-1", "alice"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	regot, err := c.Acquire(ctx, "chat-1", "bob")
	if err != nil || !regot.Acquired {
		t.Fatalf("bob should acquire after release: %+v, %v", regot, err)
	}

	if n := notifier.count(v1.TypeLockAcquired); n != 2 {
		t.Errorf("lock_acquired events = %d, want 2", n)
	}
	if n := notifier.count(v1.TypeLockReleased); n != 1 {
		t.Errorf("lock_released events = %d, want 1", n)
	}
}

func TestAcquireRequiresMembership(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	mustConvert(t, c, "chat-1", "alice", 3)

	_, err := c.Acquire(ctx, "chat-1", "mallory")
	wantReason(t, err, ErrAuth, ReasonNotMember)

	_, err = c.Acquire(ctx, "nope", "alice")
	wantReason(t, err, ErrNotFound, ReasonChatNotFound)
}

func TestLockLeaseExpiry(t *testing.T) {
	c, _, clock, _ := newTestCoordinator(t, WithLease(90*time.Second))
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)
	mustJoin(t, c, "bob", code)

	if got, err := c.Acquire(ctx, "chat-1", "alice"); err != nil || !got.Acquired {
		t.Fatalf("alice acquire: %+v, %v", got, err)
	}

	// Within the lease the lock holds.
	clock.Advance(89 * time.Second)
	if got, _ := c.Acquire(ctx, "chat-1", "bob"); got.Acquired {
		t.Fatal("bob acquired inside alice's lease")
	}

	// At expiry the row is treated as absent and bob takes over in one step.
	clock.Advance(2 * time.Second)
	got, err := c.Acquire(ctx, "chat-1", "bob")
	if err != nil || !got.Acquired {
		t.Fatalf("bob takeover after expiry: %+v, %v", got, err)
	}

	// Alice's stale release must not clear bob's fresh lease.
	if err := c.Release(ctx, "chat-1", "alice"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if st, _ := c.CanPrompt(ctx, "chat-1", "alice"); st.Status != PromptLocked || st.Holder != "bob" {
		t.Fatalf("bob's lease gone after stale release: %+v", st)
	}
}

func TestCanPrompt(t *testing.T) {
	c, _, clock, _ := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)
	mustJoin(t, c, "bob", code)

	if st, err := c.CanPrompt(ctx, "chat-1", "bob"); err != nil || st.Status != PromptOK {
		t.Fatalf("unlocked chat: %+v, %v", st, err)
	}
	if st, err := c.CanPrompt(ctx, "chat-1", "mallory"); err != nil || st.Status != PromptNotMember {
		t.Fatalf("stranger: %+v, %v", st, err)
	}

	if _, err := c.Acquire(ctx, "chat-1", "alice"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	st, err := c.CanPrompt(ctx, "chat-1", "bob")
	if err != nil || st.Status != PromptLocked || st.Holder != "alice" {
		t.Fatalf("locked for bob: %+v, %v", st, err)
	}
	// The holder still sees ok.
	if st, _ := c.CanPrompt(ctx, "chat-1", "alice"); st.Status != PromptOK {
		t.Fatalf("holder should see ok: %+v", st)
	}
	// Expiry flips the read back to ok without any write.
	clock.Advance(c.Lease() + time.Second)
	if st, _ := c.CanPrompt(ctx, "chat-1", "bob"); st.Status != PromptOK {
		t.Fatalf("expired lease should read as absent: %+v", st)
	}
}

func TestJoinAssignsDistinctColors(t *testing.T) {
	c, _, _, notifier := newTestCoordinator(t)
	code := mustConvert(t, c, "chat-1", "alice", 3)

	bob := mustJoin(t, c, "bob", code)
	carol := mustJoin(t, c, "carol", code)

	if bob.ColorIndex == OwnerColorIndex || carol.ColorIndex == OwnerColorIndex {
		t.Error("color 0 is reserved for the owner")
	}
	if bob.ColorIndex == carol.ColorIndex {
		t.Errorf("colors collide: bob=%d carol=%d", bob.ColorIndex, carol.ColorIndex)
	}
	if bob.Role != RoleParticipant {
		t.Errorf("bob role = %q, want participant", bob.Role)
	}
	if n := notifier.count(v1.TypeParticipantJoined); n != 2 {
		t.Errorf("participant_joined events = %d, want 2", n)
	}
}

func TestJoinRejections(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 2)
	mustJoin(t, c, "bob", code)

	// Chat is at capacity (owner + bob).
	_, err := c.Join(ctx, "carol", code)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("join at capacity: got %v, want conflict", err)
	}

	// Existing accepted members cannot consume the invite again.
	_, err = c.Join(ctx, "bob", code)
	wantReason(t, err, ErrConflict, ReasonAlreadyMember)

	_, err = c.Join(ctx, "dave", "not-a-real-code")
	wantReason(t, err, ErrNotFound, ReasonInviteNotFound)

	if _, err := c.Join(ctx, "", code); !errors.Is(err, ErrValidation) {
		t.Errorf("empty user id: got %v, want validation error", err)
	}
}

func TestJoinCapacityUnderContention(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	code := mustConvert(t, c, "chat-1", "alice", 3)

	const joiners = 16
	var wg sync.WaitGroup
	admitted := make(chan Participant, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p, err := c.Join(context.Background(), "user-"+string(rune('a'+n)), code)
			if err == nil {
				admitted <- p
			}
		}(i)
	}
	wg.Wait()
	close(admitted)

	colors := map[int]bool{}
	won := 0
	for p := range admitted {
		won++
		if colors[p.ColorIndex] {
			t.Errorf("duplicate color %d handed out under contention", p.ColorIndex)
		}
		colors[p.ColorIndex] = true
	}
	// Capacity 3 minus the owner leaves exactly two slots.
	if won != 2 {
		t.Errorf("admitted = %d, want exactly 2", won)
	}

	roster, err := c.ListParticipants(context.Background(), "chat-1", "alice")
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(roster) != 3 {
		t.Errorf("roster = %d, want 3", len(roster))
	}
}

func TestAcquireSingleHolderUnderContention(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	code := mustConvert(t, c, "chat-1", "alice", 3)
	mustJoin(t, c, "bob", code)
	mustJoin(t, c, "carol", code)

	users := []string{"alice", "bob", "carol"}
	const rounds = 8
	var wg sync.WaitGroup
	granted := make(chan string, len(users)*rounds)
	for i := 0; i < rounds; i++ {
		for _, u := range users {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				res, err := c.Acquire(context.Background(), "chat-1", u)
				if err == nil && res.Acquired {
					granted <- u
				}
			}(u)
		}
	}
	wg.Wait()
	close(granted)

	winners := 0
	for range granted {
		winners++
	}
	if winners != 1 {
		t.Errorf("lock granted %d times without a release, want exactly 1", winners)
	}
}

func TestValidateInvite(t *testing.T) {
	c, _, clock, _ := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)

	sum, ok, err := c.ValidateInvite(ctx, code)
	if err != nil || !ok {
		t.Fatalf("fresh invite: ok=%v err=%v", ok, err)
	}
	if sum.ChatID != "chat-1" || sum.AcceptedCount != 1 || sum.MaxParticipants != 3 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.UsesLeft == nil || *sum.UsesLeft != 2 {
		t.Errorf("uses_left = %v, want 2", sum.UsesLeft)
	}

	// Unknown code: not an error, just not valid.
	if _, ok, err := c.ValidateInvite(ctx, "bogus"); err != nil || ok {
		t.Fatalf("unknown code: ok=%v err=%v", ok, err)
	}
	if _, _, err := c.ValidateInvite(ctx, "  "); !errors.Is(err, ErrValidation) {
		t.Errorf("blank code: got %v, want validation error", err)
	}

	// Validation consumes nothing: the same two slots remain afterwards.
	mustJoin(t, c, "bob", code)
	sum, ok, _ = c.ValidateInvite(ctx, code)
	if !ok || sum.AcceptedCount != 2 || *sum.UsesLeft != 1 {
		t.Errorf("after one join: ok=%v summary=%+v", ok, sum)
	}

	// Expiry closes the door.
	clock.Advance(8 * 24 * time.Hour)
	if _, ok, err := c.ValidateInvite(ctx, code); err != nil || ok {
		t.Fatalf("expired invite: ok=%v err=%v", ok, err)
	}
	_, err = c.Join(ctx, "carol", code)
	wantReason(t, err, ErrConflict, ReasonInviteExpired)
}

func TestValidateInviteFullChat(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 2)
	mustJoin(t, c, "bob", code)

	// Even a formally live code is invalid when the chat has no room.
	if _, ok, err := c.ValidateInvite(ctx, code); err != nil || ok {
		t.Fatalf("full chat: ok=%v err=%v", ok, err)
	}
}

func TestCreateInvite(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	oldCode := mustConvert(t, c, "chat-1", "alice", 3)

	// Owner-only.
	_, err := c.CreateInvite(ctx, "chat-1", "bob", CreateInviteInput{})
	wantReason(t, err, ErrAuth, ReasonNotOwner)

	// MaxUses is seeded from remaining capacity and can only tighten.
	ten := 10
	created, err := c.CreateInvite(ctx, "chat-1", "alice", CreateInviteInput{MaxUses: &ten})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if created.Invite.MaxUses == nil || *created.Invite.MaxUses != 2 {
		t.Errorf("max_uses = %v, want clamped to 2", created.Invite.MaxUses)
	}
	if created.Code == "" || created.Code == oldCode {
		t.Error("new invite must carry a fresh plain code")
	}

	// Minting a new invite deactivates the previous one.
	if _, ok, _ := c.ValidateInvite(ctx, oldCode); ok {
		t.Error("old invite still valid after a new one was created")
	}
	_, err = c.Join(ctx, "bob", oldCode)
	wantReason(t, err, ErrConflict, ReasonInviteInactive)

	one := 1
	tight, err := c.CreateInvite(ctx, "chat-1", "alice", CreateInviteInput{MaxUses: &one, TTL: time.Hour})
	if err != nil {
		t.Fatalf("CreateInvite tight: %v", err)
	}
	mustJoin(t, c, "bob", tight.Code)
	_, err = c.Join(ctx, "carol", tight.Code)
	wantReason(t, err, ErrConflict, ReasonInviteExhausted)
}

func TestCreateInviteFullChat(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 2)
	mustJoin(t, c, "bob", code)

	_, err := c.CreateInvite(ctx, "chat-1", "alice", CreateInviteInput{})
	wantReason(t, err, ErrConflict, ReasonCapacityReached)
}

func TestRevokeInvite(t *testing.T) {
	c, _, _, notifier := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)

	if err := c.RevokeInvite(ctx, "chat-1", "bob"); !errors.Is(err, ErrAuth) {
		t.Errorf("non-owner revoke: got %v, want auth error", err)
	}
	if err := c.RevokeInvite(ctx, "chat-1", "alice"); err != nil {
		t.Fatalf("RevokeInvite: %v", err)
	}
	if _, ok, _ := c.ValidateInvite(ctx, code); ok {
		t.Error("revoked invite still validates")
	}
	_, err := c.Join(ctx, "bob", code)
	wantReason(t, err, ErrConflict, ReasonInviteInactive)

	// Revoking with nothing active is a quiet no-op.
	if err := c.RevokeInvite(ctx, "chat-1", "alice"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if n := notifier.count(v1.TypeInviteRevoked); n != 1 {
		t.Errorf("invite_revoked events = %d, want 1", n)
	}
}

func TestLeaveReleasesLock(t *testing.T) {
	c, _, _, notifier := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)
	mustJoin(t, c, "bob", code)

	if _, err := c.Acquire(ctx, "chat-1", "bob"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Leave(ctx, "chat-1", "bob"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// Bob's lock went with him; alice can prompt immediately.
	if st, _ := c.CanPrompt(ctx, "chat-1", "alice"); st.Status != PromptOK {
		t.Fatalf("lock not released on leave: %+v", st)
	}
	if n := notifier.count(v1.TypeLockReleased); n != 1 {
		t.Errorf("lock_released events = %d, want 1", n)
	}
	if n := notifier.count(v1.TypeParticipantLeft); n != 1 {
		t.Errorf("participant_left events = %d, want 1", n)
	}

	// Gone means gone.
	err := c.Leave(ctx, "chat-1", "bob")
	wantReason(t, err, ErrNotFound, ReasonNotMember)
	roster, _ := c.ListParticipants(ctx, "chat-1", "alice")
	if len(roster) != 1 {
		t.Errorf("roster = %d, want 1", len(roster))
	}
}

func TestOwnerLeaveDowngrades(t *testing.T) {
	c, store, _, notifier := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)
	mustJoin(t, c, "bob", code)

	// Blocked while others remain.
	err := c.Leave(ctx, "chat-1", "alice")
	wantReason(t, err, ErrState, ReasonOwnerHasParticipants)

	if err := c.Leave(ctx, "chat-1", "bob"); err != nil {
		t.Fatalf("bob leave: %v", err)
	}
	if err := c.Leave(ctx, "chat-1", "alice"); err != nil {
		t.Fatalf("owner leave: %v", err)
	}

	sess, err := store.GetSession(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.IsCollaborative {
		t.Error("session should be downgraded")
	}
	if _, ok, _ := c.ValidateInvite(ctx, code); ok {
		t.Error("invites must die with the session")
	}
	if n := notifier.count(v1.TypeSessionDowngraded); n != 1 {
		t.Errorf("session_downgraded events = %d, want 1", n)
	}

	// The same chat can be converted again afterwards.
	if _, err := c.Convert(ctx, "chat-1", "alice", 2, "round two"); err != nil {
		t.Fatalf("re-convert after downgrade: %v", err)
	}
}

func TestRemoveParticipant(t *testing.T) {
	c, _, _, notifier := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)
	mustJoin(t, c, "bob", code)
	mustJoin(t, c, "carol", code)

	if _, err := c.Acquire(ctx, "chat-1", "carol"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Only the owner may eject.
	err := c.RemoveParticipant(ctx, "chat-1", "bob", "carol")
	wantReason(t, err, ErrAuth, ReasonNotOwner)

	// The owner can never be the target.
	err = c.RemoveParticipant(ctx, "chat-1", "alice", "alice")
	wantReason(t, err, ErrState, ReasonCannotRemoveOwner)

	if err := c.RemoveParticipant(ctx, "chat-1", "alice", "carol"); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	// Carol's lock is released in the same unit.
	if st, _ := c.CanPrompt(ctx, "chat-1", "bob"); st.Status != PromptOK {
		t.Fatalf("lock not released with removal: %+v", st)
	}
	if n := notifier.count(v1.TypeParticipantRemoved); n != 1 {
		t.Errorf("participant_removed events = %d, want 1", n)
	}

	// Ejected users lose every member-gated surface.
	if _, err := c.ListParticipants(ctx, "chat-1", "carol"); !errors.Is(err, ErrAuth) {
		t.Errorf("removed user listing roster: got %v, want auth error", err)
	}
	if st, _ := c.CanPrompt(ctx, "chat-1", "carol"); st.Status != PromptNotMember {
		t.Errorf("removed user CanPrompt = %+v, want not_member", st)
	}
}

func TestRejoinKeepsColor(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)
	bob := mustJoin(t, c, "bob", code)

	if err := c.Leave(ctx, "chat-1", "bob"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	back, err := c.Join(ctx, "bob", code)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if back.ColorIndex != bob.ColorIndex {
		t.Errorf("rejoin color = %d, want original %d", back.ColorIndex, bob.ColorIndex)
	}
}

func TestTransfer(t *testing.T) {
	c, store, _, notifier := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)
	bob := mustJoin(t, c, "bob", code)

	// Guard rails first.
	err := c.Transfer(ctx, "chat-1", "bob", "alice")
	wantReason(t, err, ErrAuth, ReasonNotOwner)
	err = c.Transfer(ctx, "chat-1", "alice", "carol")
	wantReason(t, err, ErrConflict, ReasonNotParticipant)
	if err := c.Transfer(ctx, "chat-1", "alice", "alice"); !errors.Is(err, ErrValidation) {
		t.Errorf("self-transfer: got %v, want validation error", err)
	}

	if err := c.Transfer(ctx, "chat-1", "alice", "bob"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	sess, _ := store.GetSession(ctx, "chat-1")
	if sess.OwnerID != "bob" {
		t.Errorf("owner = %q, want bob", sess.OwnerID)
	}
	newOwner, _ := store.GetParticipant(ctx, "chat-1", "bob")
	oldOwner, _ := store.GetParticipant(ctx, "chat-1", "alice")
	if newOwner.Role != RoleOwner || newOwner.ColorIndex != OwnerColorIndex {
		t.Errorf("new owner row = %+v", newOwner)
	}
	if oldOwner.Role != RoleParticipant || oldOwner.ColorIndex != bob.ColorIndex {
		t.Errorf("old owner row = %+v, want participant with color %d", oldOwner, bob.ColorIndex)
	}
	if n := notifier.count(v1.TypeOwnerChanged); n != 1 {
		t.Errorf("owner_changed events = %d, want 1", n)
	}

	// Alice is now an ordinary participant: owner-only surfaces close, and
	// she can leave without downgrading the session.
	err = c.Transfer(ctx, "chat-1", "alice", "bob")
	if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrAuth) {
		t.Errorf("stale owner transfer: got %v", err)
	}
	if err := c.Leave(ctx, "chat-1", "alice"); err != nil {
		t.Fatalf("old owner leave: %v", err)
	}
	sess, _ = store.GetSession(ctx, "chat-1")
	if !sess.IsCollaborative {
		t.Error("session must stay collaborative after a participant leaves")
	}
}

func TestListParticipantsGated(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	code := mustConvert(t, c, "chat-1", "alice", 3)
	mustJoin(t, c, "bob", code)

	roster, err := c.ListParticipants(ctx, "chat-1", "bob")
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster = %d, want 2", len(roster))
	}

	if _, err := c.ListParticipants(ctx, "chat-1", "mallory"); !errors.Is(err, ErrAuth) {
		t.Errorf("stranger listing roster: got %v, want auth error", err)
	}
}

func TestNonCollaborativeChatRejectsEverything(t *testing.T) {
	c, store, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	// A downgraded session keeps its row but closes all collaborative ops.
	code := mustConvert(t, c, "chat-1", "alice", 2)
	if err := c.Leave(ctx, "chat-1", "alice"); err != nil {
		t.Fatalf("owner leave: %v", err)
	}
	if sess, _ := store.GetSession(ctx, "chat-1"); sess.IsCollaborative {
		t.Fatal("precondition: session should be downgraded")
	}

	if _, err := c.Acquire(ctx, "chat-1", "alice"); err == nil {
		t.Error("acquire on non-collaborative chat should fail")
	} else {
		wantReason(t, err, ErrState, ReasonNotCollaborative)
	}
	if _, err := c.CreateInvite(ctx, "chat-1", "alice", CreateInviteInput{}); !errors.Is(err, ErrState) {
		t.Errorf("create invite: got %v, want state error", err)
	}
	if _, err := c.Join(ctx, "bob", code); err == nil {
		t.Error("join through a dead session's invite should fail")
	}
}
