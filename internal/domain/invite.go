package domain

import "time"

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteExpired  InviteStatus = "expired"
)

const InviteTTL = 10 * time.Minute

// Invite — адресное приглашение в конкретную комнату.
// Истёкшие приглашения для всех читателей считаются отсутствующими
// (ленивое истечение, строка в хранилище может ещё жить).
type Invite struct {
	ID        string       `db:"id"` // uuid
	RoomID    int64        `db:"room_id"`
	InviterID int64        `db:"inviter_id"`
	InviteeID int64        `db:"invitee_id"`
	Status    InviteStatus `db:"status"`
	CreatedAt time.Time    `db:"created_at"`
	ExpiresAt time.Time    `db:"expires_at"`
}

func (i *Invite) Expired(now time.Time) bool { return !now.Before(i.ExpiresAt) }

func (i *Invite) Usable(now time.Time) bool {
	return i.Status == InvitePending && !i.Expired(now)
}
