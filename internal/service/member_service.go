package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"
	"github.com/cardtable/lobby-service/internal/security"
)

type MemberService struct {
	rooms    repository.RoomRepository
	members  repository.MemberRepository
	presence repository.PresenceTracker
	feed     repository.Feed
}

func NewMemberService(rooms repository.RoomRepository, members repository.MemberRepository, presence repository.PresenceTracker, feed repository.Feed) *MemberService {
	return &MemberService{rooms: rooms, members: members, presence: presence, feed: feed}
}

// JoinByCode — вход по коду комнаты. NotFound, если по коду нет комнаты
// в joinable-статусе; полнота и «одно активное участие» перепроверяются
// в транзакции вставки.
func (s *MemberService) JoinByCode(ctx context.Context, code string, userID int64, password string) (*domain.Room, *domain.Member, error) {
	room, err := s.rooms.GetByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if !room.Status.Joinable() {
		return nil, nil, domain.ErrRoomNotFound
	}
	if room.HasPassword() && !security.CheckRoomPassword(*room.PasswordHash, password) {
		return nil, nil, domain.ErrWrongPassword
	}

	member, err := s.join(ctx, room.ID, userID)
	if err != nil {
		return nil, nil, err
	}
	return room, member, nil
}

// join — общий хвост JoinByCode/AcceptInvite.
func (s *MemberService) join(ctx context.Context, roomID, userID int64) (*domain.Member, error) {
	member, err := s.members.Join(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	// best-effort: вошёл — значит жив
	if err := s.presence.Heartbeat(ctx, userID, domain.PresenceInRoom); err != nil {
		slog.Debug("presence touch on join failed", "user", userID, "err", err)
	}

	s.publish(ctx, domain.EventMemberJoined, roomID, userID)
	return member, nil
}

func (s *MemberService) Leave(ctx context.Context, roomID, userID int64) error {
	if err := s.members.Leave(ctx, roomID, userID); err != nil {
		return err
	}
	s.publish(ctx, domain.EventMemberLeft, roomID, userID)
	return nil
}

// Kick — удаление участника хостом; филлеры убираются этим же путём.
func (s *MemberService) Kick(ctx context.Context, roomID, requesterID, targetID int64) error {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != requesterID {
		return domain.ErrNotHost
	}
	if err := s.members.Leave(ctx, roomID, targetID); err != nil {
		return err
	}
	s.publish(ctx, domain.EventMemberKicked, roomID, targetID)
	return nil
}

// SetReady идемпотентен; возвращает полный состав, чтобы вызывающий
// определил «все готовы» без второго запроса.
func (s *MemberService) SetReady(ctx context.Context, roomID, userID int64, ready bool) (domain.Roster, error) {
	if domain.IsFillerID(userID) {
		return nil, fmt.Errorf("filler readiness is implicit: %w", domain.ErrNotInRoom)
	}
	roster, err := s.members.SetReady(ctx, roomID, userID, ready)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.EventReadyChanged, roomID, userID)
	return roster, nil
}

func (s *MemberService) Roster(ctx context.Context, roomID int64) (domain.Roster, error) {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return nil, err
	}
	return s.members.ListByRoom(ctx, roomID)
}

// AddFiller — хост добивает лобби заполнителем.
func (s *MemberService) AddFiller(ctx context.Context, roomID, requesterID int64) (*domain.Member, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.HostID != requesterID {
		return nil, domain.ErrNotHost
	}
	m, err := s.members.AddFiller(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.EventMemberJoined, roomID, m.UserID)
	return m, nil
}

// Heartbeat — liveness-сигнал пользователя, независимый от комнат.
func (s *MemberService) Heartbeat(ctx context.Context, userID int64, status domain.PresenceStatus) error {
	return s.presence.Heartbeat(ctx, userID, status)
}

func (s *MemberService) publish(ctx context.Context, kind string, roomID, userID int64) {
	publishSnapshot(ctx, s.feed, s.rooms, s.members, kind, roomID, userID)
}
