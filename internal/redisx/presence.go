package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"

	"github.com/redis/go-redis/v9"
)

// PresenceTracker — liveness-записи в Redis с TTL на ключе.
// TTL ключа берётся с запасом больше самого длинного окна, которым
// пользуется свип; сама свежесть считается по last_seen из значения.
type PresenceTracker struct {
	client    *redis.Client
	keyPrefix string
	keyTTL    time.Duration
}

type presenceRecord struct {
	LastSeen int64                 `json:"last_seen_unix_ms"`
	Status   domain.PresenceStatus `json:"status"`
}

func NewPresenceTracker(client *redis.Client, keyPrefix string, keyTTL time.Duration) *PresenceTracker {
	if keyPrefix == "" {
		keyPrefix = "lobby:"
	}
	if keyTTL <= 0 {
		keyTTL = 30 * time.Minute
	}
	return &PresenceTracker{client: client, keyPrefix: keyPrefix, keyTTL: keyTTL}
}

func (p *PresenceTracker) key(userID int64) string {
	return fmt.Sprintf("%spresence:%d", p.keyPrefix, userID)
}

func (p *PresenceTracker) Heartbeat(ctx context.Context, userID int64, status domain.PresenceStatus) error {
	if status == "" {
		status = domain.PresenceOnline
	}
	rec := presenceRecord{LastSeen: time.Now().UnixMilli(), Status: status}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, p.key(userID), data, p.keyTTL).Err(); err != nil {
		return fmt.Errorf("redis: heartbeat user %d: %w", userID, err)
	}
	return nil
}

func (p *PresenceTracker) Get(ctx context.Context, userID int64) (*domain.Presence, error) {
	raw, err := p.client.Get(ctx, p.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get presence %d: %w", userID, err)
	}
	var rec presenceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("redis: decode presence %d: %w", userID, err)
	}
	return &domain.Presence{
		UserID:   userID,
		LastSeen: time.UnixMilli(rec.LastSeen),
		Status:   rec.Status,
	}, nil
}

// IsLive — ленивое вычисление staleness читателем; истёкший ключ
// означает «давно не виделись».
func (p *PresenceTracker) IsLive(ctx context.Context, userID int64, ttl time.Duration) (bool, error) {
	pr, err := p.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return pr.Live(time.Now(), ttl), nil
}

func (p *PresenceTracker) LastSeenBatch(ctx context.Context, userIDs []int64) (map[int64]time.Time, error) {
	if len(userIDs) == 0 {
		return map[int64]time.Time{}, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = p.key(id)
	}
	vals, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget presence: %w", err)
	}

	out := make(map[int64]time.Time, len(userIDs))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // истёкший или отсутствующий ключ
		}
		var rec presenceRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		out[userIDs[i]] = time.UnixMilli(rec.LastSeen)
	}
	return out, nil
}
