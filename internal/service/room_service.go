package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"
	"github.com/cardtable/lobby-service/internal/security"
)

// GameEngine — внешний игровой движок: получает handoff при старте матча
// и позже отвечает FinishGame через internal endpoint.
type GameEngine interface {
	MatchStarted(ctx context.Context, roomID int64, roster domain.Roster) error
}

const codeAllocRetries = 5

type RoomService struct {
	rooms   repository.RoomRepository
	members repository.MemberRepository
	feed    repository.Feed
	engine  GameEngine
}

func NewRoomService(rooms repository.RoomRepository, members repository.MemberRepository, feed repository.Feed, engine GameEngine) *RoomService {
	return &RoomService{rooms: rooms, members: members, feed: feed, engine: engine}
}

// CreateRoom — одна активная комната на хоста: прежняя waiting/playing
// комната хоста вытесняется в той же транзакции. Участие в чужой
// активной комнате блокирует создание (ErrAlreadyMember) — одно
// активное участие на пользователя действует и здесь, как при Join.
// Код уникален, коллизия разрешается регенерацией.
func (s *RoomService) CreateRoom(ctx context.Context, hostID int64, name string, maxPlayers int, password string, settings []byte) (*domain.Room, error) {
	maxPlayers = domain.ClampMaxPlayers(maxPlayers)

	var hashPtr *string
	if password != "" {
		hash, err := security.HashRoomPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hash room password: %w", err)
		}
		hashPtr = &hash
	}

	for attempt := 0; attempt < codeAllocRetries; attempt++ {
		code, err := domain.NewRoomCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}

		room := &domain.Room{
			Code:         code,
			Name:         name,
			MaxPlayers:   maxPlayers,
			HostID:       hostID,
			PasswordHash: hashPtr,
			Settings:     settings,
		}
		replaced, err := s.rooms.Create(ctx, room)
		if errors.Is(err, repository.ErrCodeCollision) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rooms.Create: %w", err)
		}

		for _, id := range replaced {
			s.publishDeleted(ctx, id)
		}
		s.publishSnapshot(ctx, domain.EventRoomUpdated, room.ID, hostID)
		return room, nil
	}
	return nil, domain.ErrCodeExhausted
}

func (s *RoomService) GetRoom(ctx context.Context, id int64) (*domain.Room, error) {
	return s.rooms.GetByID(ctx, id)
}

func (s *RoomService) ListRooms(ctx context.Context, limit int, cursor string) ([]domain.Room, string, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	return s.rooms.ListWaiting(ctx, limit, cursor)
}

// StartGame: NotHost / NoRealPlayers / TooFewPlayers / NotReady проверяются
// в одной транзакции с переходом waiting → playing. Матч никогда не
// стартует без живого готового игрока.
func (s *RoomService) StartGame(ctx context.Context, roomID, requesterID int64) (*domain.Room, error) {
	room, roster, err := s.rooms.Start(ctx, roomID, requesterID)
	if err != nil {
		return nil, err
	}

	// handoff движку; комната уже playing, поэтому сбой здесь не откатывает
	// переход — движок дочитает состояние из хранилища
	if err := s.engine.MatchStarted(ctx, roomID, roster); err != nil {
		slog.Error("game engine handoff failed", "room", roomID, "err", err)
	}

	s.publishSnapshot(ctx, domain.EventGameStarted, roomID, requesterID)
	return room, nil
}

// FinishGame — callback движка; повторный вызов на finished комнате — no-op.
func (s *RoomService) FinishGame(ctx context.Context, roomID int64) (*domain.Room, error) {
	room, err := s.rooms.Finish(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publishSnapshot(ctx, domain.EventGameFinished, roomID, 0)
	return room, nil
}

// --- публикация событий: best-effort, мутацию не откатывает ---

func (s *RoomService) publishSnapshot(ctx context.Context, kind string, roomID, userID int64) {
	publishSnapshot(ctx, s.feed, s.rooms, s.members, kind, roomID, userID)
}

func (s *RoomService) publishDeleted(ctx context.Context, roomID int64) {
	publishDeleted(ctx, s.feed, roomID)
}

func publishSnapshot(ctx context.Context, feed repository.Feed, rooms repository.RoomRepository, members repository.MemberRepository, kind string, roomID, userID int64) {
	room, err := rooms.GetByID(ctx, roomID)
	if err != nil {
		slog.Warn("event snapshot fetch failed", "room", roomID, "kind", kind, "err", err)
		return
	}
	roster, err := members.ListByRoom(ctx, roomID)
	if err != nil {
		slog.Warn("event roster fetch failed", "room", roomID, "kind", kind, "err", err)
		return
	}
	ev := domain.Event{
		RoomID:   roomID,
		Kind:     kind,
		UserID:   userID,
		Snapshot: domain.SnapshotRoom(room, roster),
	}
	if err := feed.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed", "room", roomID, "kind", kind, "err", err)
	}
}

func publishDeleted(ctx context.Context, feed repository.Feed, roomID int64) {
	ev := domain.Event{RoomID: roomID, Kind: domain.EventRoomDeleted}
	if err := feed.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed", "room", roomID, "kind", ev.Kind, "err", err)
	}
}
