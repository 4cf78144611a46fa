package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type InviteRepository struct {
	db *pgxpool.Pool
}

func NewInviteRepository(db *pgxpool.Pool) *InviteRepository {
	return &InviteRepository{db: db}
}

func (r *InviteRepository) Create(ctx context.Context, inv *domain.Invite) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO invites (id, room_id, inviter_id, invitee_id, status, expires_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING created_at`,
		inv.ID, inv.RoomID, inv.InviterID, inv.InviteeID, inv.ExpiresAt,
	).Scan(&inv.CreatedAt)
	if err != nil {
		return mapPgError(err)
	}
	inv.Status = domain.InvitePending
	return nil
}

func (r *InviteRepository) Get(ctx context.Context, id string) (*domain.Invite, error) {
	var inv domain.Invite
	err := r.db.QueryRow(ctx, `
		SELECT id, room_id, inviter_id, invitee_id, status, created_at, expires_at
		FROM invites WHERE id=$1`, id).
		Scan(&inv.ID, &inv.RoomID, &inv.InviterID, &inv.InviteeID,
			&inv.Status, &inv.CreatedAt, &inv.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInviteNotFound
		}
		return nil, mapPgError(err)
	}
	return &inv, nil
}

// ListPendingFor — ленивое истечение: истёкшие строки могут ещё лежать
// в таблице, но читателю не видны. Комната обязана быть ещё активной.
func (r *InviteRepository) ListPendingFor(ctx context.Context, userID int64, now time.Time) ([]repository.PendingInvite, error) {
	rows, err := r.db.Query(ctx, `
		SELECT i.id, i.room_id, i.inviter_id, i.invitee_id, i.status, i.created_at, i.expires_at,
		       rm.code, rm.name, rm.status, rm.max_players, rm.current_players
		FROM invites i
		JOIN rooms rm ON rm.id = i.room_id
		WHERE i.invitee_id = $1
		  AND i.status = 'pending'
		  AND i.expires_at > $2
		  AND rm.status IN ('waiting','playing')
		ORDER BY i.created_at DESC`, userID, now)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []repository.PendingInvite
	for rows.Next() {
		var p repository.PendingInvite
		if err := rows.Scan(
			&p.Invite.ID, &p.Invite.RoomID, &p.Invite.InviterID, &p.Invite.InviteeID,
			&p.Invite.Status, &p.Invite.CreatedAt, &p.Invite.ExpiresAt,
			&p.RoomCode, &p.RoomName, &p.RoomStatus, &p.MaxPlayers, &p.CurrentPlayers,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *InviteRepository) MarkAccepted(ctx context.Context, id string, now time.Time) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE invites SET status='accepted'
		WHERE id=$1 AND status='pending' AND expires_at > $2`, id, now)
	if err != nil {
		return false, mapPgError(err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *InviteRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM invites WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, mapPgError(err)
	}
	return cmd.RowsAffected(), nil
}

// FriendRepository читает внешнюю таблицу дружбы; движок её не пишет.
type FriendRepository struct {
	db *pgxpool.Pool
}

func NewFriendRepository(db *pgxpool.Pool) *FriendRepository {
	return &FriendRepository{db: db}
}

func (r *FriendRepository) AreFriends(ctx context.Context, userA, userB int64) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM friendships
			WHERE (user_a=$1 AND user_b=$2) OR (user_a=$2 AND user_b=$1))`,
		userA, userB).Scan(&ok)
	return ok, mapPgError(err)
}
