package http

import (
	"encoding/json"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateRoomRequest struct {
	Name       string          `json:"name"`
	MaxPlayers int             `json:"max_players"`
	Password   string          `json:"password,omitempty"`
	Settings   json.RawMessage `json:"settings,omitempty"`
}

type JoinRoomRequest struct {
	Code     string `json:"code"`
	Password string `json:"password,omitempty"`
}

type SetReadyRequest struct {
	Ready bool `json:"ready"`
}

type KickRequest struct {
	UserID int64 `json:"user_id"`
}

type CreateInviteRequest struct {
	InviteeID int64 `json:"invitee_id"`
}

type RoomItem struct {
	ID             int64             `json:"id"`
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	Status         domain.RoomStatus `json:"status"`
	MaxPlayers     int               `json:"max_players"`
	CurrentPlayers int               `json:"current_players"`
	HostID         int64             `json:"host_id"`
	HasPassword    bool              `json:"has_password"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivity   time.Time         `json:"last_activity"`
}

func toRoomItem(r *domain.Room) RoomItem {
	return RoomItem{
		ID:             r.ID,
		Code:           r.Code,
		Name:           r.Name,
		Status:         r.Status,
		MaxPlayers:     r.MaxPlayers,
		CurrentPlayers: r.CurrentPlayers,
		HostID:         r.HostID,
		HasPassword:    r.HasPassword(),
		CreatedAt:      r.CreatedAt,
		LastActivity:   r.LastActivity,
	}
}

type RoomsListResponse struct {
	Items      []RoomItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type MemberItem struct {
	UserID   int64     `json:"user_id"`
	Seat     int       `json:"seat"`
	IsReady  bool      `json:"is_ready"`
	IsFiller bool      `json:"is_filler"`
	JoinedAt time.Time `json:"joined_at"`
}

func toMemberItems(roster domain.Roster) []MemberItem {
	items := make([]MemberItem, 0, len(roster))
	for _, m := range roster {
		items = append(items, MemberItem{
			UserID:   m.UserID,
			Seat:     m.Seat,
			IsReady:  m.IsReady || m.IsFiller(),
			IsFiller: m.IsFiller(),
			JoinedAt: m.JoinedAt,
		})
	}
	return items
}

type RosterResponse struct {
	RoomID   int64        `json:"room_id"`
	Members  []MemberItem `json:"members"`
	AllReady bool         `json:"all_ready"`
}

type JoinRoomResponse struct {
	Room   RoomItem `json:"room"`
	Seat   int      `json:"seat"`
	UserID int64    `json:"user_id"`
}

type InviteItem struct {
	ID             string            `json:"id"`
	RoomID         int64             `json:"room_id"`
	RoomCode       string            `json:"room_code"`
	RoomName       string            `json:"room_name"`
	RoomStatus     domain.RoomStatus `json:"room_status"`
	MaxPlayers     int               `json:"max_players"`
	CurrentPlayers int               `json:"current_players"`
	InviterID      int64             `json:"inviter_id"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

func toInviteItems(list []repository.PendingInvite) []InviteItem {
	items := make([]InviteItem, 0, len(list))
	for _, p := range list {
		items = append(items, InviteItem{
			ID:             p.Invite.ID,
			RoomID:         p.Invite.RoomID,
			RoomCode:       p.RoomCode,
			RoomName:       p.RoomName,
			RoomStatus:     p.RoomStatus,
			MaxPlayers:     p.MaxPlayers,
			CurrentPlayers: p.CurrentPlayers,
			InviterID:      p.Invite.InviterID,
			ExpiresAt:      p.Invite.ExpiresAt,
		})
	}
	return items
}

type InvitesListResponse struct {
	Items []InviteItem `json:"items"`
}
