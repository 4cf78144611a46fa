package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"

	"github.com/google/uuid"
)

type InviteService struct {
	rooms      repository.RoomRepository
	memberRepo repository.MemberRepository
	invites    repository.InviteRepository
	friends    repository.FriendRepository
	memberSvc  *MemberService

	now func() time.Time
}

func NewInviteService(rooms repository.RoomRepository, memberRepo repository.MemberRepository, invites repository.InviteRepository, friends repository.FriendRepository, memberSvc *MemberService) *InviteService {
	return &InviteService{
		rooms:      rooms,
		memberRepo: memberRepo,
		invites:    invites,
		friends:    friends,
		memberSvc:  memberSvc,
		now:        time.Now,
	}
}

// CreateInvite — пригласить может только участник активной комнаты
// и только подтверждённого друга. Срок жизни — 10 минут.
func (s *InviteService) CreateInvite(ctx context.Context, roomID, inviterID, inviteeID int64) (*domain.Invite, error) {
	if inviterID == inviteeID {
		return nil, domain.ErrSelfInvite
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.Status.Active() {
		return nil, domain.ErrRoomNotFound
	}

	roster, err := s.memberRepo.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	isMember := false
	for _, m := range roster {
		if m.UserID == inviterID {
			isMember = true
			break
		}
	}
	if !isMember {
		return nil, domain.ErrNotInRoom
	}

	ok, err := s.friends.AreFriends(ctx, inviterID, inviteeID)
	if err != nil {
		return nil, fmt.Errorf("friends.AreFriends: %w", err)
	}
	if !ok {
		return nil, domain.ErrNotFriends
	}

	now := s.now()
	inv := &domain.Invite{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		InviterID: inviterID,
		InviteeID: inviteeID,
		ExpiresAt: now.Add(domain.InviteTTL),
	}
	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("invites.Create: %w", err)
	}
	return inv, nil
}

// ListPending — истёкшие приглашения для читателя отсутствуют,
// даже если строка ещё лежит в хранилище.
func (s *InviteService) ListPending(ctx context.Context, userID int64) ([]repository.PendingInvite, error) {
	return s.invites.ListPendingFor(ctx, userID, s.now())
}

// AcceptInvite валидирует приглашение и вводит адресата в комнату.
// Приглашение обходит пароль комнаты: его уже «открыл» участник.
func (s *InviteService) AcceptInvite(ctx context.Context, inviteID string, userID int64) (*domain.Room, *domain.Member, error) {
	inv, err := s.invites.Get(ctx, inviteID)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	// чужие и истёкшие приглашения неотличимы от отсутствующих
	if inv.InviteeID != userID || !inv.Usable(now) {
		return nil, nil, domain.ErrInviteNotFound
	}

	room, err := s.rooms.GetByID(ctx, inv.RoomID)
	if err != nil {
		return nil, nil, err
	}
	if !room.Status.Joinable() {
		return nil, nil, domain.ErrRoomNotFound
	}

	member, err := s.memberSvc.join(ctx, room.ID, userID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.invites.MarkAccepted(ctx, inviteID, now); err != nil {
		return nil, nil, fmt.Errorf("invites.MarkAccepted: %w", err)
	}
	return room, member, nil
}
