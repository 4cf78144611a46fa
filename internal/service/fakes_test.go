package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"
)

// memStore — in-memory реализация хранилища с той же семантикой ошибок,
// что и postgres-слой. Общее состояние для room/member/invite фейков.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	rooms   map[int64]*domain.Room
	members map[int64][]domain.Member
	invites map[string]*domain.Invite
	friends map[[2]int64]bool

	// сколько ближайших Create завершатся коллизией кода
	codeCollisions int

	now func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		rooms:   make(map[int64]*domain.Room),
		members: make(map[int64][]domain.Member),
		invites: make(map[string]*domain.Invite),
		friends: make(map[[2]int64]bool),
		now:     time.Now,
	}
}

func (s *memStore) befriend(a, b int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a > b {
		a, b = b, a
	}
	s.friends[[2]int64{a, b}] = true
}

func (s *memStore) roster(roomID int64) domain.Roster {
	out := append(domain.Roster(nil), s.members[roomID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seat < out[j].Seat })
	return out
}

func (s *memStore) deleteRoom(id int64) {
	delete(s.rooms, id)
	delete(s.members, id)
}

// --- repository.RoomRepository ---

type fakeRooms struct{ *memStore }

func (f fakeRooms) Create(_ context.Context, room *domain.Room) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.codeCollisions > 0 {
		f.memStore.codeCollisions--
		return nil, repository.ErrCodeCollision
	}

	var replaced []int64
	for id, r := range f.rooms {
		if r.HostID == room.HostID && r.Status.Active() {
			replaced = append(replaced, id)
		}
	}
	for _, id := range replaced {
		f.deleteRoom(id)
	}

	// одно активное участие: членство в чужой комнате блокирует создание
	for id, r := range f.rooms {
		if !r.Status.Active() {
			continue
		}
		for _, m := range f.members[id] {
			if m.UserID == room.HostID {
				return nil, domain.ErrAlreadyMember
			}
		}
	}

	f.nextID++
	room.ID = f.nextID
	room.Status = domain.StatusWaiting
	room.CurrentPlayers = 1
	room.CreatedAt = f.now()
	room.LastActivity = room.CreatedAt

	cp := *room
	f.rooms[room.ID] = &cp
	f.members[room.ID] = []domain.Member{
		{RoomID: room.ID, UserID: room.HostID, Seat: 0, JoinedAt: room.CreatedAt},
	}
	return replaced, nil
}

func (f fakeRooms) GetByID(_ context.Context, id int64) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}

func (f fakeRooms) GetByCode(_ context.Context, code string) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code = domain.NormalizeRoomCode(code)
	for _, r := range f.rooms {
		if r.Code == code {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrRoomNotFound
}

func (f fakeRooms) ListWaiting(_ context.Context, limit int, _ string) ([]domain.Room, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Room
	for _, r := range f.rooms {
		if r.Status == domain.StatusWaiting {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, "", nil
}

func (f fakeRooms) Start(_ context.Context, roomID, requesterID int64) (*domain.Room, domain.Roster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	if r.HostID != requesterID {
		return nil, nil, domain.ErrNotHost
	}
	if r.Status != domain.StatusWaiting {
		return nil, nil, domain.ErrRoomNotOpen
	}
	roster := f.roster(roomID)
	if err := roster.CheckStart(); err != nil {
		return nil, nil, err
	}
	r.Status = domain.StatusPlaying
	r.LastActivity = f.now()
	cp := *r
	return &cp, roster, nil
}

func (f fakeRooms) Finish(_ context.Context, roomID int64) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	switch r.Status {
	case domain.StatusPlaying:
		r.Status = domain.StatusFinished
		r.LastActivity = f.now()
	case domain.StatusFinished:
		// idempotent
	default:
		return nil, domain.ErrRoomNotOpen
	}
	cp := *r
	return &cp, nil
}

func (f fakeRooms) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteRoom(id)
	return nil
}

func (f fakeRooms) DeleteStaleWaiting(_ context.Context, cutoff time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, r := range f.rooms {
		if r.Status == domain.StatusWaiting && r.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		f.deleteRoom(id)
	}
	return ids, nil
}

func (f fakeRooms) DeleteEmpty(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id := range f.rooms {
		if len(f.members[id]) == 0 {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		f.deleteRoom(id)
	}
	return ids, nil
}

func (f fakeRooms) DeleteFillerOnly(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, r := range f.rooms {
		if r.Status != domain.StatusWaiting || len(f.members[id]) == 0 {
			continue
		}
		real := false
		for _, m := range f.members[id] {
			if !m.IsFiller() {
				real = true
				break
			}
		}
		if !real {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		f.deleteRoom(id)
	}
	return ids, nil
}

func (f fakeRooms) DeleteFinishedBefore(_ context.Context, cutoff time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, r := range f.rooms {
		if r.Status == domain.StatusFinished && r.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		f.deleteRoom(id)
	}
	return ids, nil
}

func (f fakeRooms) DeleteIfAbandoned(_ context.Context, roomID, hostID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok || r.HostID != hostID || r.Status != domain.StatusWaiting {
		return false, nil
	}
	f.deleteRoom(roomID)
	return true, nil
}

func (f fakeRooms) ListWaitingHosts(_ context.Context) ([]repository.HostedRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.HostedRoom
	for id, r := range f.rooms {
		if r.Status == domain.StatusWaiting {
			out = append(out, repository.HostedRoom{RoomID: id, HostID: r.HostID})
		}
	}
	return out, nil
}

func (f fakeRooms) RepairCounts(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.rooms {
		if actual := len(f.members[id]); r.CurrentPlayers != actual {
			r.CurrentPlayers = actual
			n++
		}
	}
	return n, nil
}

// --- repository.MemberRepository ---

type fakeMembers struct{ *memStore }

func (f fakeMembers) Join(_ context.Context, roomID, userID int64) (*domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if !r.Status.Joinable() {
		return nil, domain.ErrRoomNotOpen
	}
	for id, other := range f.rooms {
		if !other.Status.Active() {
			continue
		}
		for _, m := range f.members[id] {
			if m.UserID == userID {
				return nil, domain.ErrAlreadyMember
			}
		}
	}
	return f.insert(roomID, userID, false)
}

func (f fakeMembers) insert(roomID, userID int64, ready bool) (*domain.Member, error) {
	r := f.rooms[roomID]
	taken := make([]int, 0, len(f.members[roomID]))
	for _, m := range f.members[roomID] {
		taken = append(taken, m.Seat)
	}
	if len(taken) >= r.MaxPlayers {
		return nil, domain.ErrRoomFull
	}
	seat, ok := domain.NextFreeSeat(taken, r.MaxPlayers)
	if !ok {
		return nil, domain.ErrRoomFull
	}
	m := domain.Member{RoomID: roomID, UserID: userID, Seat: seat, IsReady: ready, JoinedAt: f.now()}
	f.members[roomID] = append(f.members[roomID], m)
	r.CurrentPlayers++
	r.LastActivity = f.now()
	return &m, nil
}

func (f fakeMembers) Leave(_ context.Context, roomID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.members[roomID] {
		if m.UserID == userID {
			f.members[roomID] = append(f.members[roomID][:i], f.members[roomID][i+1:]...)
			if r, ok := f.rooms[roomID]; ok && r.CurrentPlayers > 0 {
				r.CurrentPlayers--
				r.LastActivity = f.now()
			}
			return nil
		}
	}
	return domain.ErrNotInRoom
}

func (f fakeMembers) SetReady(_ context.Context, roomID, userID int64, ready bool) (domain.Roster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for i := range f.members[roomID] {
		if f.members[roomID][i].UserID == userID {
			f.members[roomID][i].IsReady = ready
			found = true
			break
		}
	}
	if !found {
		return nil, domain.ErrNotInRoom
	}
	return f.roster(roomID), nil
}

func (f fakeMembers) ListByRoom(_ context.Context, roomID int64) (domain.Roster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roster(roomID), nil
}

func (f fakeMembers) HasActiveMembership(_ context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.rooms {
		if !r.Status.Active() {
			continue
		}
		for _, m := range f.members[id] {
			if m.UserID == userID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f fakeMembers) AddFiller(_ context.Context, roomID int64) (*domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if !r.Status.Joinable() {
		return nil, domain.ErrRoomNotOpen
	}
	next := int64(0)
	for _, m := range f.members[roomID] {
		if m.UserID < next {
			next = m.UserID
		}
	}
	return f.insert(roomID, next-1, true)
}

func (f fakeMembers) EvictStale(_ context.Context, roomID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok || !r.Status.Active() {
		return false, nil
	}
	for i, m := range f.members[roomID] {
		if m.UserID == userID {
			f.members[roomID] = append(f.members[roomID][:i], f.members[roomID][i+1:]...)
			if r.CurrentPlayers > 0 {
				r.CurrentPlayers--
			}
			return true, nil
		}
	}
	return false, nil
}

func (f fakeMembers) ListRealActive(_ context.Context) ([]domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Member
	for id, r := range f.rooms {
		if !r.Status.Active() {
			continue
		}
		for _, m := range f.members[id] {
			if !m.IsFiller() {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// --- repository.InviteRepository / FriendRepository ---

type fakeInvites struct{ *memStore }

func (f fakeInvites) Create(_ context.Context, inv *domain.Invite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv.Status = domain.InvitePending
	inv.CreatedAt = f.now()
	cp := *inv
	f.invites[inv.ID] = &cp
	return nil
}

func (f fakeInvites) Get(_ context.Context, id string) (*domain.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invites[id]
	if !ok {
		return nil, domain.ErrInviteNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f fakeInvites) ListPendingFor(_ context.Context, userID int64, now time.Time) ([]repository.PendingInvite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.PendingInvite
	for _, inv := range f.invites {
		if inv.InviteeID != userID || !inv.Usable(now) {
			continue
		}
		r, ok := f.rooms[inv.RoomID]
		if !ok || !r.Status.Active() {
			continue
		}
		out = append(out, repository.PendingInvite{
			Invite:         *inv,
			RoomCode:       r.Code,
			RoomName:       r.Name,
			RoomStatus:     r.Status,
			MaxPlayers:     r.MaxPlayers,
			CurrentPlayers: r.CurrentPlayers,
		})
	}
	return out, nil
}

func (f fakeInvites) MarkAccepted(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invites[id]
	if !ok || !inv.Usable(now) {
		return false, nil
	}
	inv.Status = domain.InviteAccepted
	return true, nil
}

func (f fakeInvites) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, inv := range f.invites {
		if inv.Expired(now) {
			delete(f.invites, id)
			n++
		}
	}
	return n, nil
}

type fakeFriends struct{ *memStore }

func (f fakeFriends) AreFriends(_ context.Context, a, b int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a > b {
		a, b = b, a
	}
	return f.friends[[2]int64{a, b}], nil
}

// --- repository.PresenceTracker ---

type fakePresence struct {
	mu   sync.Mutex
	seen map[int64]time.Time
	now  func() time.Time
}

func newFakePresence() *fakePresence {
	return &fakePresence{seen: make(map[int64]time.Time), now: time.Now}
}

func (f *fakePresence) touch(userID int64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[userID] = at
}

func (f *fakePresence) Heartbeat(_ context.Context, userID int64, _ domain.PresenceStatus) error {
	f.touch(userID, f.now())
	return nil
}

func (f *fakePresence) Get(_ context.Context, userID int64) (*domain.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ls, ok := f.seen[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &domain.Presence{UserID: userID, LastSeen: ls}, nil
}

func (f *fakePresence) IsLive(_ context.Context, userID int64, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ls, ok := f.seen[userID]
	return ok && f.now().Sub(ls) < ttl, nil
}

func (f *fakePresence) LastSeenBatch(_ context.Context, userIDs []int64) (map[int64]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]time.Time)
	for _, id := range userIDs {
		if ls, ok := f.seen[id]; ok {
			out[id] = ls
		}
	}
	return out, nil
}

// --- repository.Feed ---

type fakeFeed struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeFeed) Publish(_ context.Context, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeFeed) Subscribe(_ context.Context, _ int64) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event)
	close(ch)
	return ch, func() {}, nil
}

func (f *fakeFeed) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (f *fakeFeed) last() (domain.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return domain.Event{}, false
	}
	return f.events[len(f.events)-1], true
}

// --- service.GameEngine ---

type fakeEngine struct {
	mu      sync.Mutex
	started []int64
	err     error
}

func (f *fakeEngine) MatchStarted(_ context.Context, roomID int64, _ domain.Roster) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, roomID)
	return f.err
}
