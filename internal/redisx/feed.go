package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cardtable/lobby-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Feed — change-feed зафиксированных мутаций поверх Redis pub/sub.
// Канал на комнату: инстансы движка stateless, подписчик получает события
// независимо от того, какой инстанс закоммитил мутацию.
// Доставка best-effort: отключившийся подписчик сверяется полным roster.
type Feed struct {
	client    *redis.Client
	keyPrefix string
}

func NewFeed(client *redis.Client, keyPrefix string) *Feed {
	if keyPrefix == "" {
		keyPrefix = "lobby:"
	}
	return &Feed{client: client, keyPrefix: keyPrefix}
}

func (f *Feed) channel(roomID int64) string {
	return fmt.Sprintf("%sroom:%d:events", f.keyPrefix, roomID)
}

func (f *Feed) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("feed: encode event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(ev.RoomID), data).Err(); err != nil {
		return fmt.Errorf("feed: publish room %d: %w", ev.RoomID, err)
	}
	return nil
}

// Subscribe — поток событий одной комнаты; порядок — порядок коммитов
// в канале. cancel освобождает подписку и закрывает канал.
func (f *Feed) Subscribe(ctx context.Context, roomID int64) (<-chan domain.Event, func(), error) {
	sub := f.client.Subscribe(ctx, f.channel(roomID))
	// дождаться подтверждения подписки, чтобы не терять ранние события
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("feed: subscribe room %d: %w", roomID, err)
	}

	out := make(chan domain.Event, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("feed: drop malformed event", "room", roomID, "err", err)
				continue
			}
			select {
			case out <- ev:
			default:
				// медленный подписчик: событие теряется, клиент
				// обязан сверяться полным снапшотом при reconnect
				slog.Debug("feed: subscriber lagging, event dropped", "room", roomID)
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
