package domain

import "time"

type RoomStatus string

// Жизненный цикл комнаты: waiting → playing → finished → (удаление).
// Переходов назад и «через состояние» нет; рестарт матча — это новая комната.
const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

// Joinable — войти можно только пока комната ждёт игроков.
func (s RoomStatus) Joinable() bool { return s == StatusWaiting }

// Active — комната ещё не завершена.
func (s RoomStatus) Active() bool { return s == StatusWaiting || s == StatusPlaying }

const (
	MinPlayers = 2
	MaxPlayers = 9

	CodeLength = 6
)

type Room struct {
	ID             int64      `db:"id"`
	Code           string     `db:"code"`
	Name           string     `db:"name"`
	Status         RoomStatus `db:"status"`
	MaxPlayers     int        `db:"max_players"`
	CurrentPlayers int        `db:"current_players"`
	HostID         int64      `db:"host_id"`
	PasswordHash   *string    `db:"password_hash"`
	Settings       []byte     `db:"settings"`
	CreatedAt      time.Time  `db:"created_at"`
	LastActivity   time.Time  `db:"last_activity"`
}

func (r *Room) HasPassword() bool { return r.PasswordHash != nil && *r.PasswordHash != "" }

// ClampMaxPlayers приводит лимит мест к допустимому диапазону.
func ClampMaxPlayers(max int) int {
	if max < MinPlayers {
		return MinPlayers
	}
	if max > MaxPlayers {
		return MaxPlayers
	}
	return max
}
