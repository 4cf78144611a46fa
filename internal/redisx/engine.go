package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cardtable/lobby-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// EngineBridge — handoff игровому движку: при старте матча публикуем
// room id и упорядоченный список мест; движок позже отвечает FinishGame
// через internal HTTP endpoint.
type EngineBridge struct {
	client  *redis.Client
	channel string
}

func NewEngineBridge(client *redis.Client, channel string) *EngineBridge {
	if channel == "" {
		channel = "lobby:engine:match_started"
	}
	return &EngineBridge{client: client, channel: channel}
}

type matchStarted struct {
	RoomID int64                   `json:"room_id"`
	Seats  []domain.MemberSnapshot `json:"seats"`
}

func (b *EngineBridge) MatchStarted(ctx context.Context, roomID int64, roster domain.Roster) error {
	msg := matchStarted{RoomID: roomID}
	for _, m := range roster {
		msg.Seats = append(msg.Seats, domain.MemberSnapshot{
			UserID:   m.UserID,
			Seat:     m.Seat,
			IsReady:  true,
			IsFiller: m.IsFiller(),
		})
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("engine: encode match_started: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("engine: publish match_started room %d: %w", roomID, err)
	}
	return nil
}
