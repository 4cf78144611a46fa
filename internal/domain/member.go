package domain

import "time"

// Member — участие пользователя в комнате. Филлеры (боты-заполнители)
// живут в отдельном пространстве идентификаторов: user_id < 0.
type Member struct {
	RoomID   int64     `db:"room_id"`
	UserID   int64     `db:"user_id"`
	Seat     int       `db:"seat"`
	IsReady  bool      `db:"is_ready"`
	JoinedAt time.Time `db:"joined_at"`
}

func (m Member) IsFiller() bool { return IsFillerID(m.UserID) }

func IsFillerID(userID int64) bool { return userID < 0 }

// NextFreeSeat возвращает наименьшее свободное место в [0, maxPlayers).
// Места не переиспользуются до выхода участника; порядок — рекомендательный.
func NextFreeSeat(taken []int, maxPlayers int) (int, bool) {
	used := make(map[int]struct{}, len(taken))
	for _, s := range taken {
		used[s] = struct{}{}
	}
	for seat := 0; seat < maxPlayers; seat++ {
		if _, ok := used[seat]; !ok {
			return seat, true
		}
	}
	return 0, false
}
