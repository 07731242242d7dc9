package coord

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCASStore is the fallback Store for deployments where the database
// cannot offer multi-statement transactions to this service. Contended
// fields (invite use_count, session owner_id) are only ever mutated through
// conditional updates; a lost race gets exactly one retry, then surfaces as
// ErrConflict for the caller to retry at the user's discretion.
//
// Degraded mode: multi-step operations run as a sequence of individually
// atomic statements, ordered so the guarded statement comes first. There is
// a brief window in which a companion write (e.g. the role/color swap after
// an ownership gate) has not landed yet. The preferred PostgresTxStore has
// no such window.
type PostgresCASStore struct {
	pgBase

	// retryHook fires once per optimistic retry (metrics).
	retryHook func()
}

// NewPostgresCASStore constructs the optimistic-retry store directly. The
// app normally goes through NewPostgresStore, which probes capability first.
func NewPostgresCASStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresCASStore, error) {
	base, err := newPGBase(pool, opts...)
	if err != nil {
		return nil, err
	}
	return &PostgresCASStore{pgBase: base}, nil
}

// SetRetryHook wires a callback fired on every CAS retry.
func (s *PostgresCASStore) SetRetryHook(fn func()) {
	if fn != nil {
		s.retryHook = fn
	}
}

func (s *PostgresCASStore) retried() {
	if s.retryHook != nil {
		s.retryHook()
	}
}

// Convert enables collaboration. The session flip is the conditional gate;
// the owner row and invite follow as their own atomic statements.
func (s *PostgresCASStore) Convert(ctx context.Context, in ConvertRecord) (ChatSession, Participant, Invite, error) {
	var sess ChatSession
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.sessions()+` (id, owner_id, is_collaborative, max_participants, title, created_at, updated_at)
		 VALUES ($1, $2, TRUE, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE
		    SET owner_id = EXCLUDED.owner_id,
		        is_collaborative = TRUE,
		        max_participants = EXCLUDED.max_participants,
		        title = EXCLUDED.title,
		        updated_at = EXCLUDED.updated_at
		  WHERE `+s.sessions()+`.is_collaborative = FALSE
		 RETURNING id, owner_id, is_collaborative, max_participants, title, created_at, updated_at`,
		in.ChatID, in.OwnerID, in.MaxParticipants, in.Title, in.Now,
	).Scan(&sess.ID, &sess.OwnerID, &sess.IsCollaborative, &sess.MaxParticipants, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChatSession{}, Participant{}, Invite{}, NewError(ErrConflict, ReasonAlreadyCollaborative, "chat %s is already collaborative", in.ChatID)
	}
	if err != nil {
		return ChatSession{}, Participant{}, Invite{}, err
	}

	var owner Participant
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+s.participants()+` (chat_id, user_id, role, status, color_index, invited_by, joined_at)
		 VALUES ($1, $2, 'owner', 'accepted', 0, NULL, $3)
		 ON CONFLICT (chat_id, user_id) DO UPDATE
		    SET role = 'owner', status = 'accepted', color_index = 0
		 RETURNING chat_id, user_id, role, status, color_index, invited_by, joined_at`,
		in.ChatID, in.OwnerID, in.Now,
	).Scan(&owner.ChatID, &owner.UserID, &owner.Role, &owner.Status, &owner.ColorIndex, &owner.InvitedBy, &owner.JoinedAt)
	if err != nil {
		return ChatSession{}, Participant{}, Invite{}, err
	}

	if err := s.deactivateInvitesQ(ctx, s.pool, in.ChatID); err != nil {
		return ChatSession{}, Participant{}, Invite{}, err
	}
	inv, err := s.insertInviteQ(ctx, s.pool, InviteRecord{
		ID:        in.InviteID,
		ChatID:    in.ChatID,
		CodeHash:  in.InviteCodeHash,
		CreatedBy: in.OwnerID,
		MaxUses:   in.InviteMaxUses,
		ExpiresAt: in.InviteExpiresAt,
		Now:       in.Now,
	})
	if err != nil {
		return ChatSession{}, Participant{}, Invite{}, err
	}
	return sess, owner, inv, nil
}

// Join uses the invite use_count as the compare-and-swap field: read it,
// conditionally increment against the observed value, retry exactly once on
// a lost race. Admission itself is one capacity-guarded statement.
func (s *PostgresCASStore) Join(ctx context.Context, in JoinRecord) (Participant, Invite, error) {
	sess, err := s.GetSession(ctx, in.ChatID)
	if err != nil {
		return Participant{}, Invite{}, err
	}

	inv, err := s.getInviteByID(ctx, in.InviteID, in.ChatID)
	if err != nil {
		return Participant{}, Invite{}, err
	}

	consumed := false
	for attempt := 0; attempt < 2; attempt++ {
		if err := checkInviteUsable(inv, in.Now); err != nil {
			return Participant{}, Invite{}, err
		}

		tag, err := s.pool.Exec(ctx,
			`UPDATE `+s.invites()+`
			    SET use_count = use_count + 1
			  WHERE id = $1
			    AND use_count = $2
			    AND is_active
			    AND (expires_at IS NULL OR expires_at > $3)
			    AND (max_uses IS NULL OR use_count < max_uses)`,
			inv.ID, inv.UseCount, in.Now,
		)
		if err != nil {
			return Participant{}, Invite{}, err
		}
		if tag.RowsAffected() > 0 {
			inv.UseCount++
			consumed = true
			break
		}

		// A concurrent joiner won the race: re-read and retry exactly once.
		if attempt == 0 {
			s.retried()
			inv, err = s.getInviteByID(ctx, in.InviteID, in.ChatID)
			if err != nil {
				return Participant{}, Invite{}, err
			}
		}
	}
	if !consumed {
		return Participant{}, Invite{}, NewError(ErrConflict, ReasonRetryConflict, "invite %s is contended, try again", in.InviteID)
	}

	accepted, err := s.ListAccepted(ctx, in.ChatID)
	if err != nil {
		return Participant{}, Invite{}, s.unconsume(ctx, inv.ID, err)
	}
	if err := checkAdmission(sess, accepted, in.UserID); err != nil {
		return Participant{}, Invite{}, s.unconsume(ctx, inv.ID, err)
	}

	preferred := -1
	if prior, err := s.GetParticipant(ctx, in.ChatID, in.UserID); err == nil && prior.Status == StatusRemoved {
		preferred = prior.ColorIndex
	}
	color := pickColorIndex(accepted, sess.MaxParticipants, preferred)

	// Admission is a single capacity-guarded statement: the count re-check
	// happens inside the same command that admits, so concurrent joiners
	// cannot both take the last slot.
	var p Participant
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+s.participants()+` (chat_id, user_id, role, status, color_index, invited_by, joined_at)
		 SELECT $1, $2, 'participant', 'accepted', $3, $4, $5
		  WHERE (SELECT count(*) FROM `+s.participants()+` p2
		          WHERE p2.chat_id = $1 AND p2.status = 'accepted') < $6
		 ON CONFLICT (chat_id, user_id) DO UPDATE
		    SET status = 'accepted', role = 'participant',
		        color_index = EXCLUDED.color_index, invited_by = EXCLUDED.invited_by
		  WHERE `+s.participants()+`.status = 'removed'
		 RETURNING chat_id, user_id, role, status, color_index, invited_by, joined_at`,
		in.ChatID, in.UserID, color, inv.CreatedBy, in.Now, sess.MaxParticipants,
	).Scan(&p.ChatID, &p.UserID, &p.Role, &p.Status, &p.ColorIndex, &p.InvitedBy, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Capacity filled (or the row flipped to accepted) between the
		// consume and the admit. Hand the use back and classify.
		roster, listErr := s.ListAccepted(ctx, in.ChatID)
		if listErr == nil {
			if admErr := checkAdmission(sess, roster, in.UserID); admErr != nil {
				return Participant{}, Invite{}, s.unconsume(ctx, inv.ID, admErr)
			}
		}
		return Participant{}, Invite{}, s.unconsume(ctx, inv.ID,
			NewError(ErrConflict, ReasonRetryConflict, "chat %s admission is contended, try again", in.ChatID))
	}
	if err != nil {
		return Participant{}, Invite{}, s.unconsume(ctx, inv.ID, err)
	}
	return p, inv, nil
}

// unconsume hands back one invite use after a failed admission (best-effort
// compensation; the join itself has already failed).
func (s *PostgresCASStore) unconsume(ctx context.Context, inviteID string, cause error) error {
	_, _ = s.pool.Exec(ctx,
		`UPDATE `+s.invites()+` SET use_count = use_count - 1 WHERE id = $1 AND use_count > 0`,
		inviteID,
	)
	return cause
}

func (s *PostgresCASStore) getInviteByID(ctx context.Context, inviteID, chatID string) (Invite, error) {
	return s.scanInvite(s.pool.QueryRow(ctx,
		`SELECT id, chat_id, code_hash, created_by, max_uses, use_count, is_active, expires_at, created_at
		   FROM `+s.invites()+`
		  WHERE id = $1 AND chat_id = $2`,
		inviteID, chatID,
	))
}

// Remove is one conditional update; the role guard lives in the statement so
// an owner row can never be flipped.
func (s *PostgresCASStore) Remove(ctx context.Context, chatID, userID string, now time.Time) (RemoveResult, error) {
	var p Participant
	err := s.pool.QueryRow(ctx,
		`UPDATE `+s.participants()+`
		    SET status = 'removed'
		  WHERE chat_id = $1 AND user_id = $2 AND status = 'accepted' AND role <> 'owner'
		 RETURNING chat_id, user_id, role, status, color_index, invited_by, joined_at`,
		chatID, userID,
	).Scan(&p.ChatID, &p.UserID, &p.Role, &p.Status, &p.ColorIndex, &p.InvitedBy, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Classify: owner row vs absent/removed.
		prior, getErr := s.GetParticipant(ctx, chatID, userID)
		if getErr == nil && prior.Role == RoleOwner && prior.Status == StatusAccepted {
			return RemoveResult{}, NewError(ErrState, ReasonCannotRemoveOwner, "owner of chat %s cannot be removed", chatID)
		}
		return RemoveResult{}, NewError(ErrNotFound, ReasonNotMember, "user %s is not an accepted member of chat %s", userID, chatID)
	}
	if err != nil {
		return RemoveResult{}, err
	}

	released, err := s.ReleaseLock(ctx, chatID, userID)
	if err != nil {
		return RemoveResult{}, err
	}
	return RemoveResult{Participant: p, LockReleased: released}, nil
}

// OwnerLeave gates on one conditional update over the session row; the
// cleanup statements follow individually.
func (s *PostgresCASStore) OwnerLeave(ctx context.Context, chatID, ownerID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.sessions()+`
		    SET is_collaborative = FALSE, updated_at = $3
		  WHERE id = $1 AND owner_id = $2 AND is_collaborative
		    AND NOT EXISTS (
		        SELECT 1 FROM `+s.participants()+` p
		         WHERE p.chat_id = $1 AND p.status = 'accepted' AND p.user_id <> $2)`,
		chatID, ownerID, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		sess, getErr := s.GetSession(ctx, chatID)
		switch {
		case getErr != nil:
			return getErr
		case sess.OwnerID != ownerID:
			return NewError(ErrAuth, ReasonNotOwner, "user %s is not the owner of chat %s", ownerID, chatID)
		case !sess.IsCollaborative:
			return NewError(ErrState, ReasonNotCollaborative, "chat %s is not collaborative", chatID)
		default:
			return NewError(ErrState, ReasonOwnerHasParticipants, "chat %s still has accepted participants", chatID)
		}
	}

	_, _ = s.pool.Exec(ctx, `DELETE FROM `+s.participants()+` WHERE chat_id = $1 AND user_id = $2`, chatID, ownerID)
	_, _ = s.pool.Exec(ctx, `DELETE FROM `+s.locks()+` WHERE chat_id = $1`, chatID)
	_ = s.deactivateInvitesQ(ctx, s.pool, chatID)
	return nil
}

// Transfer gates on a conditional owner_id swap, then applies the role/color
// swap. The gate makes double-transfers impossible; the swap statements
// carry the documented inconsistency window.
func (s *PostgresCASStore) Transfer(ctx context.Context, chatID, currentOwnerID, newOwnerID string, now time.Time) error {
	next, err := s.GetParticipant(ctx, chatID, newOwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewError(ErrConflict, ReasonNotParticipant, "user %s is not a participant of chat %s", newOwnerID, chatID)
		}
		return err
	}
	if next.Status != StatusAccepted {
		return NewError(ErrConflict, ReasonNotParticipant, "user %s is not an accepted participant of chat %s", newOwnerID, chatID)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.sessions()+`
		    SET owner_id = $3, updated_at = $4
		  WHERE id = $1 AND owner_id = $2 AND is_collaborative`,
		chatID, currentOwnerID, newOwnerID, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetSession(ctx, chatID); getErr != nil {
			return getErr
		}
		return NewError(ErrAuth, ReasonNotOwner, "user %s is not the live owner of chat %s", currentOwnerID, chatID)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE `+s.participants()+`
		    SET role = 'participant', color_index = $3
		  WHERE chat_id = $1 AND user_id = $2`,
		chatID, currentOwnerID, next.ColorIndex,
	); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE `+s.participants()+`
		    SET role = 'owner', color_index = 0
		  WHERE chat_id = $1 AND user_id = $2`,
		chatID, newOwnerID,
	); err != nil {
		return err
	}
	return nil
}

// CreateInvite deactivates the previous active invite, then inserts.
func (s *PostgresCASStore) CreateInvite(ctx context.Context, in InviteRecord) (Invite, error) {
	if err := s.deactivateInvitesQ(ctx, s.pool, in.ChatID); err != nil {
		return Invite{}, err
	}
	return s.insertInviteQ(ctx, s.pool, in)
}
