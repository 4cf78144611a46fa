package domain

// Типы событий, которые уходят подписчикам комнаты.
const (
	EventRoomUpdated  = "room_updated"
	EventMemberJoined = "member_joined"
	EventMemberLeft   = "member_left"
	EventMemberKicked = "member_kicked"
	EventReadyChanged = "ready_changed"
	EventGameStarted  = "game_started"
	EventGameFinished = "game_finished"
	EventRoomDeleted  = "room_deleted"
)

// Event — зафиксированная мутация комнаты/состава. Notifier только
// наблюдает и ретранслирует; доставка best-effort, источником истины
// остаётся хранилище (клиент сверяется полным roster при reconnect).
type Event struct {
	RoomID   int64         `json:"room_id"`
	Kind     string        `json:"kind"`
	UserID   int64         `json:"user_id,omitempty"`
	Snapshot *RoomSnapshot `json:"snapshot,omitempty"`
}

// RoomSnapshot — read-only срез комнаты для подписчиков и списка приглашений.
type RoomSnapshot struct {
	RoomID         int64            `json:"room_id"`
	Code           string           `json:"code"`
	Name           string           `json:"name"`
	Status         RoomStatus       `json:"status"`
	MaxPlayers     int              `json:"max_players"`
	CurrentPlayers int              `json:"current_players"`
	HostID         int64            `json:"host_id"`
	Members        []MemberSnapshot `json:"members,omitempty"`
}

type MemberSnapshot struct {
	UserID   int64 `json:"user_id"`
	Seat     int   `json:"seat"`
	IsReady  bool  `json:"is_ready"`
	IsFiller bool  `json:"is_filler"`
}

func SnapshotRoom(r *Room, members Roster) *RoomSnapshot {
	s := &RoomSnapshot{
		RoomID:         r.ID,
		Code:           r.Code,
		Name:           r.Name,
		Status:         r.Status,
		MaxPlayers:     r.MaxPlayers,
		CurrentPlayers: r.CurrentPlayers,
		HostID:         r.HostID,
	}
	for _, m := range members {
		s.Members = append(s.Members, MemberSnapshot{
			UserID:   m.UserID,
			Seat:     m.Seat,
			IsReady:  m.IsReady || m.IsFiller(), // филлеры всегда готовы
			IsFiller: m.IsFiller(),
		})
	}
	return s
}
