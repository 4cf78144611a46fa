package repository

import (
	"context"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
)

// HostedRoom — пара (комната, хост) для presence-политик свипа.
type HostedRoom struct {
	RoomID int64
	HostID int64
}

type RoomRepository interface {
	// Create вставляет комнату со сгенерированным кодом, предварительно
	// удалив прежнюю активную комнату этого хоста (одна активная комната
	// на хоста) — всё одной транзакцией. ErrAlreadyMember, если хост
	// состоит в чужой активной комнате. ErrCodeCollision при гонке по коду.
	Create(ctx context.Context, room *domain.Room) ([]int64, error)

	GetByID(ctx context.Context, id int64) (*domain.Room, error)
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
	ListWaiting(ctx context.Context, limit int, cursor string) ([]domain.Room, string, error)

	// Start валидирует предусловия и переводит waiting → playing атомарно.
	// Возвращает комнату и состав на момент перехода (ordered seat list).
	Start(ctx context.Context, roomID, requesterID int64) (*domain.Room, domain.Roster, error)

	// Finish — playing → finished; состав не трогает (остаётся до свипа).
	Finish(ctx context.Context, roomID int64) (*domain.Room, error)

	Delete(ctx context.Context, id int64) error

	// --- поддержка свипа: каждый delete перепроверяет свой предикат ---

	DeleteStaleWaiting(ctx context.Context, cutoff time.Time) ([]int64, error)
	DeleteEmpty(ctx context.Context) ([]int64, error)
	DeleteFillerOnly(ctx context.Context) ([]int64, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]int64, error)
	// DeleteIfAbandoned удаляет комнату, только если она всё ещё waiting
	// с тем же хостом (предикат перепроверяется в самом DELETE).
	DeleteIfAbandoned(ctx context.Context, roomID, hostID int64) (bool, error)
	ListWaitingHosts(ctx context.Context) ([]HostedRoom, error)

	// RepairCounts выравнивает current_players по фактическим строкам состава.
	// Чинится всегда счётчик, никогда не состав.
	RepairCounts(ctx context.Context) (int64, error)
}
