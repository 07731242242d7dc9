package coord

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQuerier abstracts pool vs transaction so every read/scan helper works in
// both contexts.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// pgBase carries what the two Postgres Store implementations share: the pool,
// the schema, every point read, and the operations that are already a single
// conditional statement (lock acquire/release, invite revoke).
//
// Ownership model: pgBase does NOT own the pgx pool; the caller closes it.
type pgBase struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures the Postgres stores.
type StoreOption func(*pgBase) error

// WithSchema sets the DB schema used by the store (default: "huddle").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) StoreOption {
	return func(b *pgBase) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !isValidPGIdent(schema) {
			return NewError(ErrValidation, ReasonMissingField, "invalid schema identifier")
		}
		b.schema = schema
		return nil
	}
}

func newPGBase(pool *pgxpool.Pool, opts ...StoreOption) (pgBase, error) {
	b := pgBase{pool: pool, schema: "huddle"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&b); err != nil {
			return pgBase{}, err
		}
	}
	if b.pool == nil {
		return pgBase{}, NewError(ErrValidation, ReasonMissingField, "nil pool")
	}
	return b, nil
}

// NewPostgresStore probes the database's transaction capability once and
// returns the preferred transactional store, falling back to the
// optimistic-retry store when multi-statement transactions are unavailable.
// The coordinator's business logic never learns which one it got.
func NewPostgresStore(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, opts ...StoreOption) (Store, error) {
	base, err := newPGBase(pool, opts...)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	if err := probeTx(ctx, pool); err != nil {
		log.Warn("store.capability.fallback_cas", "err", err)
		return &PostgresCASStore{pgBase: base}, nil
	}
	log.Info("store.capability.tx")
	return &PostgresTxStore{pgBase: base}, nil
}

// probeTx opens and rolls back an empty transaction.
func probeTx(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT 1`); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Rollback(ctx)
}

func (b pgBase) sessions() string     { return pgIdent(b.schema, "chat_sessions") }
func (b pgBase) participants() string { return pgIdent(b.schema, "participants") }
func (b pgBase) locks() string        { return pgIdent(b.schema, "locks") }
func (b pgBase) invites() string      { return pgIdent(b.schema, "invites") }

// ---- point reads ----

// GetSession returns the session row for a chat.
func (b pgBase) GetSession(ctx context.Context, chatID string) (ChatSession, error) {
	return b.getSessionQ(ctx, b.pool, chatID)
}

func (b pgBase) getSessionQ(ctx context.Context, q pgQuerier, chatID string) (ChatSession, error) {
	var s ChatSession
	err := q.QueryRow(ctx,
		`SELECT id, owner_id, is_collaborative, max_participants, title, created_at, updated_at
		   FROM `+b.sessions()+`
		  WHERE id = $1`,
		chatID,
	).Scan(&s.ID, &s.OwnerID, &s.IsCollaborative, &s.MaxParticipants, &s.Title, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChatSession{}, NewError(ErrNotFound, ReasonChatNotFound, "chat %s not found", chatID)
	}
	if err != nil {
		return ChatSession{}, err
	}
	return s, nil
}

// GetParticipant returns the membership row for (chat, user), any status.
func (b pgBase) GetParticipant(ctx context.Context, chatID, userID string) (Participant, error) {
	return b.getParticipantQ(ctx, b.pool, chatID, userID)
}

func (b pgBase) getParticipantQ(ctx context.Context, q pgQuerier, chatID, userID string) (Participant, error) {
	var p Participant
	err := q.QueryRow(ctx,
		`SELECT chat_id, user_id, role, status, color_index, invited_by, joined_at
		   FROM `+b.participants()+`
		  WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&p.ChatID, &p.UserID, &p.Role, &p.Status, &p.ColorIndex, &p.InvitedBy, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Participant{}, NewError(ErrNotFound, ReasonNotMember, "user %s has no membership in chat %s", userID, chatID)
	}
	if err != nil {
		return Participant{}, err
	}
	return p, nil
}

// ListAccepted returns accepted rows ordered by color index.
func (b pgBase) ListAccepted(ctx context.Context, chatID string) ([]Participant, error) {
	return b.listAcceptedQ(ctx, b.pool, chatID)
}

func (b pgBase) listAcceptedQ(ctx context.Context, q pgQuerier, chatID string) ([]Participant, error) {
	rows, err := q.Query(ctx,
		`SELECT chat_id, user_id, role, status, color_index, invited_by, joined_at
		   FROM `+b.participants()+`
		  WHERE chat_id = $1 AND status = 'accepted'
		  ORDER BY color_index ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ChatID, &p.UserID, &p.Role, &p.Status, &p.ColorIndex, &p.InvitedBy, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetLock returns the raw lock row; callers interpret expiry.
func (b pgBase) GetLock(ctx context.Context, chatID string) (Lock, error) {
	var l Lock
	err := b.pool.QueryRow(ctx,
		`SELECT chat_id, locked_by, locked_at, expires_at
		   FROM `+b.locks()+`
		  WHERE chat_id = $1`,
		chatID,
	).Scan(&l.ChatID, &l.LockedBy, &l.LockedAt, &l.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lock{}, NewError(ErrNotFound, ReasonLockHeld, "no lock for chat %s", chatID)
	}
	if err != nil {
		return Lock{}, err
	}
	return l, nil
}

// GetInviteByCodeHash looks up an invite by its stored code hash.
func (b pgBase) GetInviteByCodeHash(ctx context.Context, codeHash string) (Invite, error) {
	return b.scanInvite(b.pool.QueryRow(ctx,
		`SELECT id, chat_id, code_hash, created_by, max_uses, use_count, is_active, expires_at, created_at
		   FROM `+b.invites()+`
		  WHERE code_hash = $1`,
		codeHash,
	))
}

// GetActiveInvite returns the chat's single active invite.
func (b pgBase) GetActiveInvite(ctx context.Context, chatID string) (Invite, error) {
	return b.scanInvite(b.pool.QueryRow(ctx,
		`SELECT id, chat_id, code_hash, created_by, max_uses, use_count, is_active, expires_at, created_at
		   FROM `+b.invites()+`
		  WHERE chat_id = $1 AND is_active`,
		chatID,
	))
}

func (b pgBase) scanInvite(row pgx.Row) (Invite, error) {
	var inv Invite
	err := row.Scan(&inv.ID, &inv.ChatID, &inv.CodeHash, &inv.CreatedBy, &inv.MaxUses, &inv.UseCount, &inv.IsActive, &inv.ExpiresAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, NewError(ErrNotFound, ReasonInviteNotFound, "invite not found")
	}
	if err != nil {
		return Invite{}, err
	}
	return inv, nil
}

// ---- single-statement conditional writes (shared by both implementations) ----

// AcquireLock is one conditional upsert: it wins only when no row exists or
// the existing lease has lapsed. Application-level read-then-write is
// deliberately absent here.
func (b pgBase) AcquireLock(ctx context.Context, chatID, userID string, now time.Time, lease time.Duration) (Lock, bool, error) {
	var l Lock
	err := b.pool.QueryRow(ctx,
		`INSERT INTO `+b.locks()+` (chat_id, locked_by, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (chat_id) DO UPDATE
		    SET locked_by = EXCLUDED.locked_by,
		        locked_at = EXCLUDED.locked_at,
		        expires_at = EXCLUDED.expires_at
		  WHERE `+b.locks()+`.expires_at <= $3
		 RETURNING chat_id, locked_by, locked_at, expires_at`,
		chatID, userID, now, now.Add(lease),
	).Scan(&l.ChatID, &l.LockedBy, &l.LockedAt, &l.ExpiresAt)
	if err == nil {
		return l, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Lock{}, false, err
	}

	// Denied: read the live lease for UI display. The holder may have
	// released in between; callers simply retry in that case.
	cur, getErr := b.GetLock(ctx, chatID)
	if getErr != nil && !errors.Is(getErr, ErrNotFound) {
		return Lock{}, false, getErr
	}
	return cur, false, nil
}

// ReleaseLock clears the lock only for the current holder (idempotent).
func (b pgBase) ReleaseLock(ctx context.Context, chatID, userID string) (bool, error) {
	tag, err := b.pool.Exec(ctx,
		`DELETE FROM `+b.locks()+` WHERE chat_id = $1 AND locked_by = $2`,
		chatID, userID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeInvite deactivates the chat's active invite in one statement.
func (b pgBase) RevokeInvite(ctx context.Context, chatID string, _ time.Time) (bool, error) {
	tag, err := b.pool.Exec(ctx,
		`UPDATE `+b.invites()+` SET is_active = FALSE WHERE chat_id = $1 AND is_active`,
		chatID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ---- shared SQL fragments for the multi-step implementations ----

func (b pgBase) insertInviteQ(ctx context.Context, q pgQuerier, in InviteRecord) (Invite, error) {
	return b.scanInvite(q.QueryRow(ctx,
		`INSERT INTO `+b.invites()+` (id, chat_id, code_hash, created_by, max_uses, use_count, is_active, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, TRUE, $6, $7)
		 RETURNING id, chat_id, code_hash, created_by, max_uses, use_count, is_active, expires_at, created_at`,
		in.ID, in.ChatID, in.CodeHash, in.CreatedBy, in.MaxUses, in.ExpiresAt, in.Now,
	))
}

func (b pgBase) deactivateInvitesQ(ctx context.Context, q pgQuerier, chatID string) error {
	_, err := q.Exec(ctx,
		`UPDATE `+b.invites()+` SET is_active = FALSE WHERE chat_id = $1 AND is_active`,
		chatID,
	)
	return err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
