package coord

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTxStore is the preferred Store implementation: every multi-step
// operation runs inside one transaction, serialized per chat by a row lock
// on the chat_sessions row (SELECT ... FOR UPDATE). Nothing partial is ever
// observable.
type PostgresTxStore struct {
	pgBase
}

// NewPostgresTxStore constructs the transactional store directly. The app
// normally goes through NewPostgresStore, which probes capability first.
func NewPostgresTxStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresTxStore, error) {
	base, err := newPGBase(pool, opts...)
	if err != nil {
		return nil, err
	}
	return &PostgresTxStore{pgBase: base}, nil
}

func (s *PostgresTxStore) begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
}

// lockSessionRow serializes all multi-step mutations for one chat.
func (s *PostgresTxStore) lockSessionRow(ctx context.Context, tx pgx.Tx, chatID string) (ChatSession, error) {
	var sess ChatSession
	err := tx.QueryRow(ctx,
		`SELECT id, owner_id, is_collaborative, max_participants, title, created_at, updated_at
		   FROM `+s.sessions()+`
		  WHERE id = $1
		    FOR UPDATE`,
		chatID,
	).Scan(&sess.ID, &sess.OwnerID, &sess.IsCollaborative, &sess.MaxParticipants, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChatSession{}, NewError(ErrNotFound, ReasonChatNotFound, "chat %s not found", chatID)
	}
	if err != nil {
		return ChatSession{}, err
	}
	return sess, nil
}

// Convert enables collaboration: session + owner row + initial invite, one
// transaction.
func (s *PostgresTxStore) Convert(ctx context.Context, in ConvertRecord) (ChatSession, Participant, Invite, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return ChatSession{}, Participant{}, Invite{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sess ChatSession
	err = tx.QueryRow(ctx,
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
	err = tx.QueryRow(ctx,
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

	if err := s.deactivateInvitesQ(ctx, tx, in.ChatID); err != nil {
		return ChatSession{}, Participant{}, Invite{}, err
	}
	inv, err := s.insertInviteQ(ctx, tx, InviteRecord{
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

	if err := tx.Commit(ctx); err != nil {
		return ChatSession{}, Participant{}, Invite{}, err
	}
	return sess, owner, inv, nil
}

// Join re-validates everything under the chat row lock, consumes one invite
// use, and inserts or reactivates the participant row, all in one commit.
func (s *PostgresTxStore) Join(ctx context.Context, in JoinRecord) (Participant, Invite, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return Participant{}, Invite{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := s.lockSessionRow(ctx, tx, in.ChatID)
	if err != nil {
		return Participant{}, Invite{}, err
	}

	inv, err := s.scanInvite(tx.QueryRow(ctx,
		`SELECT id, chat_id, code_hash, created_by, max_uses, use_count, is_active, expires_at, created_at
		   FROM `+s.invites()+`
		  WHERE id = $1 AND chat_id = $2`,
		in.InviteID, in.ChatID,
	))
	if err != nil {
		return Participant{}, Invite{}, err
	}
	if err := checkInviteUsable(inv, in.Now); err != nil {
		return Participant{}, Invite{}, err
	}

	accepted, err := s.listAcceptedQ(ctx, tx, in.ChatID)
	if err != nil {
		return Participant{}, Invite{}, err
	}
	if err := checkAdmission(sess, accepted, in.UserID); err != nil {
		return Participant{}, Invite{}, err
	}

	if err := tx.QueryRow(ctx,
		`UPDATE `+s.invites()+` SET use_count = use_count + 1 WHERE id = $1 RETURNING use_count`,
		inv.ID,
	).Scan(&inv.UseCount); err != nil {
		return Participant{}, Invite{}, err
	}

	prior, err := s.getParticipantQ(ctx, tx, in.ChatID, in.UserID)
	var p Participant
	switch {
	case err == nil:
		// Reactivate in place: joined_at survives; the old color is kept
		// only while the slot is still free.
		color := pickColorIndex(accepted, sess.MaxParticipants, prior.ColorIndex)
		err = tx.QueryRow(ctx,
			`UPDATE `+s.participants()+`
			    SET status = 'accepted', role = 'participant', color_index = $3, invited_by = $4
			  WHERE chat_id = $1 AND user_id = $2
			 RETURNING chat_id, user_id, role, status, color_index, invited_by, joined_at`,
			in.ChatID, in.UserID, color, inv.CreatedBy,
		).Scan(&p.ChatID, &p.UserID, &p.Role, &p.Status, &p.ColorIndex, &p.InvitedBy, &p.JoinedAt)
	case errors.Is(err, ErrNotFound):
		color := pickColorIndex(accepted, sess.MaxParticipants, -1)
		err = tx.QueryRow(ctx,
			`INSERT INTO `+s.participants()+` (chat_id, user_id, role, status, color_index, invited_by, joined_at)
			 VALUES ($1, $2, 'participant', 'accepted', $3, $4, $5)
			 RETURNING chat_id, user_id, role, status, color_index, invited_by, joined_at`,
			in.ChatID, in.UserID, color, inv.CreatedBy, in.Now,
		).Scan(&p.ChatID, &p.UserID, &p.Role, &p.Status, &p.ColorIndex, &p.InvitedBy, &p.JoinedAt)
	}
	if err != nil {
		return Participant{}, Invite{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Participant{}, Invite{}, err
	}
	return p, inv, nil
}

// Remove soft-deletes a non-owner membership and releases its lock, one
// commit.
func (s *PostgresTxStore) Remove(ctx context.Context, chatID, userID string, now time.Time) (RemoveResult, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return RemoveResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := s.lockSessionRow(ctx, tx, chatID); err != nil {
		return RemoveResult{}, err
	}

	p, err := s.getParticipantQ(ctx, tx, chatID, userID)
	if err != nil {
		return RemoveResult{}, err
	}
	if p.Status != StatusAccepted {
		return RemoveResult{}, NewError(ErrNotFound, ReasonNotMember, "user %s is not an accepted member of chat %s", userID, chatID)
	}
	if p.Role == RoleOwner {
		return RemoveResult{}, NewError(ErrState, ReasonCannotRemoveOwner, "owner of chat %s cannot be removed", chatID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.participants()+` SET status = 'removed' WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	); err != nil {
		return RemoveResult{}, err
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+s.locks()+` WHERE chat_id = $1 AND locked_by = $2`,
		chatID, userID,
	)
	if err != nil {
		return RemoveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RemoveResult{}, err
	}
	p.Status = StatusRemoved
	return RemoveResult{Participant: p, LockReleased: tag.RowsAffected() > 0}, nil
}

// OwnerLeave downgrades the session when the owner is alone, one commit.
func (s *PostgresTxStore) OwnerLeave(ctx context.Context, chatID, ownerID string, now time.Time) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := s.lockSessionRow(ctx, tx, chatID)
	if err != nil {
		return err
	}
	if sess.OwnerID != ownerID {
		return NewError(ErrAuth, ReasonNotOwner, "user %s is not the owner of chat %s", ownerID, chatID)
	}

	var others int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM `+s.participants()+`
		  WHERE chat_id = $1 AND status = 'accepted' AND user_id <> $2`,
		chatID, ownerID,
	).Scan(&others); err != nil {
		return err
	}
	if others > 0 {
		return NewError(ErrState, ReasonOwnerHasParticipants, "chat %s still has accepted participants", chatID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.sessions()+` SET is_collaborative = FALSE, updated_at = $2 WHERE id = $1`,
		chatID, now,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM `+s.participants()+` WHERE chat_id = $1 AND user_id = $2`,
		chatID, ownerID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM `+s.locks()+` WHERE chat_id = $1`,
		chatID,
	); err != nil {
		return err
	}
	if err := s.deactivateInvitesQ(ctx, tx, chatID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Transfer performs the four sub-steps in one commit: verify live owner,
// verify accepted target, move owner id, swap role/color.
func (s *PostgresTxStore) Transfer(ctx context.Context, chatID, currentOwnerID, newOwnerID string, now time.Time) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := s.lockSessionRow(ctx, tx, chatID)
	if err != nil {
		return err
	}
	if sess.OwnerID != currentOwnerID {
		return NewError(ErrAuth, ReasonNotOwner, "user %s is not the live owner of chat %s", currentOwnerID, chatID)
	}

	next, err := s.getParticipantQ(ctx, tx, chatID, newOwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewError(ErrConflict, ReasonNotParticipant, "user %s is not a participant of chat %s", newOwnerID, chatID)
		}
		return err
	}
	if next.Status != StatusAccepted {
		return NewError(ErrConflict, ReasonNotParticipant, "user %s is not an accepted participant of chat %s", newOwnerID, chatID)
	}

	// Old owner takes the color the new owner vacates; new owner takes 0.
	if _, err := tx.Exec(ctx,
		`UPDATE `+s.participants()+`
		    SET role = 'participant', color_index = $3
		  WHERE chat_id = $1 AND user_id = $2`,
		chatID, currentOwnerID, next.ColorIndex,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE `+s.participants()+`
		    SET role = 'owner', color_index = 0
		  WHERE chat_id = $1 AND user_id = $2`,
		chatID, newOwnerID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE `+s.sessions()+` SET owner_id = $2, updated_at = $3 WHERE id = $1`,
		chatID, newOwnerID, now,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateInvite deactivates the previous active invite and inserts the new
// one, one commit.
func (s *PostgresTxStore) CreateInvite(ctx context.Context, in InviteRecord) (Invite, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return Invite{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := s.lockSessionRow(ctx, tx, in.ChatID); err != nil {
		return Invite{}, err
	}
	if err := s.deactivateInvitesQ(ctx, tx, in.ChatID); err != nil {
		return Invite{}, err
	}
	inv, err := s.insertInviteQ(ctx, tx, in)
	if err != nil {
		return Invite{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Invite{}, err
	}
	return inv, nil
}
