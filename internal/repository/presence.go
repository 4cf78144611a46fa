package repository

import (
	"context"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
)

// PresenceTracker — короткоживущие liveness-записи. Фонового истечения нет:
// staleness оценивается читателями (свипом) лениво.
type PresenceTracker interface {
	Heartbeat(ctx context.Context, userID int64, status domain.PresenceStatus) error
	Get(ctx context.Context, userID int64) (*domain.Presence, error)
	IsLive(ctx context.Context, userID int64, ttl time.Duration) (bool, error)
	// LastSeenBatch — батч для свипа; отсутствующие (истёкшие) ключи
	// в карту не попадают.
	LastSeenBatch(ctx context.Context, userIDs []int64) (map[int64]time.Time, error)
}

// Feed — pub/sub зафиксированных мутаций: движок узнаёт о чужих коммитах
// без поллинга, инстансы остаются stateless.
type Feed interface {
	Publish(ctx context.Context, ev domain.Event) error
	// Subscribe отдаёт поток событий комнаты; cancel освобождает подписку.
	Subscribe(ctx context.Context, roomID int64) (<-chan domain.Event, func(), error)
}
