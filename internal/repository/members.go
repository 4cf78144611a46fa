package repository

import (
	"context"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
)

type MemberRepository interface {
	// Join — транзакция с блокировкой строки комнаты: параллельные Join
	// по одной комнате не пробьют max_players и не выдадут одно место дважды.
	// Инкремент current_players и insert участника — одна транзакция.
	Join(ctx context.Context, roomID, userID int64) (*domain.Member, error)

	// Leave удаляет участие и декрементит current_players (не ниже нуля).
	Leave(ctx context.Context, roomID, userID int64) error

	// SetReady идемпотентен; возвращает полный состав после изменения.
	SetReady(ctx context.Context, roomID, userID int64, ready bool) (domain.Roster, error)

	ListByRoom(ctx context.Context, roomID int64) (domain.Roster, error)

	// HasActiveMembership — есть ли у пользователя участие в waiting/playing
	// комнате (одно активное участие на пользователя во всей системе).
	HasActiveMembership(ctx context.Context, userID int64) (bool, error)

	// AddFiller сажает заполнителя (user_id < 0, аллоцируется внутри)
	// по тем же правилам вместимости, что и Join.
	AddFiller(ctx context.Context, roomID int64) (*domain.Member, error)

	// EvictStale — условное удаление для свипа: участник удаляется, только
	// если всё ещё сидит в комнате; декремент счётчика в том же шаге.
	EvictStale(ctx context.Context, roomID, userID int64) (bool, error)

	// ListRealActive — живые (не филлеры) участники waiting/playing комнат,
	// кандидаты на eviction по stale presence.
	ListRealActive(ctx context.Context) ([]domain.Member, error)
}

type InviteRepository interface {
	Create(ctx context.Context, inv *domain.Invite) error
	Get(ctx context.Context, id string) (*domain.Invite, error)
	// ListPendingFor возвращает pending-приглашения адресата, обогащённые
	// срезом занятости комнаты; истёкшие отфильтрованы (лениво).
	ListPendingFor(ctx context.Context, userID int64, now time.Time) ([]PendingInvite, error)
	// MarkAccepted переводит pending → accepted; false, если приглашение
	// уже не pending или истекло.
	MarkAccepted(ctx context.Context, id string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PendingInvite — приглашение + read-only снимок занятости комнаты.
type PendingInvite struct {
	Invite         domain.Invite
	RoomCode       string
	RoomName       string
	RoomStatus     domain.RoomStatus
	MaxPlayers     int
	CurrentPlayers int
}

// FriendRepository — внешнее отношение дружбы; движок его только читает
// и только из подсистемы приглашений.
type FriendRepository interface {
	AreFriends(ctx context.Context, userA, userB int64) (bool, error)
}
