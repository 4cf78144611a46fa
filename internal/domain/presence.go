package domain

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceInRoom  PresenceStatus = "in_room"
	PresencePlaying PresenceStatus = "playing"
)

// Presence — короткоживущий сигнал живости пользователя, независимый от комнат.
// Истечение не обслуживается фоном: staleness оценивают читатели.
type Presence struct {
	UserID   int64
	LastSeen time.Time
	Status   PresenceStatus
}

// Live — свежесть относительно заданного TTL.
func (p Presence) Live(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.LastSeen) < ttl
}
