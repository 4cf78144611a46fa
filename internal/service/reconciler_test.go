package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"
	"github.com/cardtable/lobby-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(e *env, cfg service.ReconcilerConfig) *service.Reconciler {
	return service.NewReconciler(
		fakeRooms{e.store}, fakeMembers{e.store}, fakeInvites{e.store},
		e.presence, e.feed, cfg)
}

func policyByName(t *testing.T, rep *service.SweepReport, name string) service.PolicyResult {
	t.Helper()
	for _, p := range rep.Policies {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("policy %q not in report", name)
	return service.PolicyResult{}
}

func TestSweepPolicyOrder(t *testing.T) {
	e := newEnv()
	rec := newReconciler(e, service.ReconcilerConfig{})

	rep, err := rec.Sweep(context.Background())
	require.NoError(t, err)

	var names []string
	for _, p := range rep.Policies {
		names = append(names, p.Name)
	}
	// грубые удаления раньше точечных
	assert.Equal(t, []string{
		"age_out_waiting",
		"purge_empty",
		"purge_filler_only",
		"purge_abandoned_hosts",
		"evict_stale_players",
		"expire_finished",
		"expire_invites",
		"repair_counts",
	}, names)
}

// блокирующийся на первой политике repo для проверки guard-а
type slowRooms struct {
	fakeRooms
	entered     chan struct{}
	enteredOnce sync.Once
	release     chan struct{}
}

func (s *slowRooms) DeleteStaleWaiting(ctx context.Context, cutoff time.Time) ([]int64, error) {
	s.enteredOnce.Do(func() { close(s.entered) })
	<-s.release
	return s.fakeRooms.DeleteStaleWaiting(ctx, cutoff)
}

func TestSweepSkippedWhileRunning(t *testing.T) {
	e := newEnv()
	slow := &slowRooms{
		fakeRooms: fakeRooms{e.store},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	rec := service.NewReconciler(slow, fakeMembers{e.store}, fakeInvites{e.store}, e.presence, e.feed, service.ReconcilerConfig{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rec.Sweep(context.Background())
	}()

	<-slow.entered
	// параллельный свип пропускается, а не встаёт в очередь
	_, err := rec.Sweep(context.Background())
	assert.ErrorIs(t, err, service.ErrSweepInProgress)

	close(slow.release)
	<-done

	// после завершения свип снова доступен
	_, err = rec.Sweep(context.Background())
	assert.NoError(t, err)
}

func TestAgeOutWaiting(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	stale, err := e.rooms.CreateRoom(ctx, 1, "stale", 4, "", nil)
	require.NoError(t, err)
	fresh, err := e.rooms.CreateRoom(ctx, 2, "fresh", 4, "", nil)
	require.NoError(t, err)

	e.store.mu.Lock()
	e.store.rooms[stale.ID].LastActivity = time.Now().Add(-time.Hour)
	e.store.mu.Unlock()
	e.presence.touch(1, time.Now())
	e.presence.touch(2, time.Now())

	rec := newReconciler(e, service.ReconcilerConfig{WaitingRoomAge: 15 * time.Minute})
	rep, err := rec.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, policyByName(t, rep, "age_out_waiting").Removed)
	_, err = e.rooms.GetRoom(ctx, stale.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = e.rooms.GetRoom(ctx, fresh.ID)
	assert.NoError(t, err)
	assert.Contains(t, e.feed.kinds(), domain.EventRoomDeleted)
}

func TestPurgeEmptyAndFillerOnly(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	emptied, err := e.rooms.CreateRoom(ctx, 1, "emptied", 4, "", nil)
	require.NoError(t, err)
	require.NoError(t, e.members.Leave(ctx, emptied.ID, 1))

	fillers, err := e.rooms.CreateRoom(ctx, 2, "fillers", 4, "", nil)
	require.NoError(t, err)
	_, err = e.members.AddFiller(ctx, fillers.ID, 2)
	require.NoError(t, err)
	require.NoError(t, e.members.Leave(ctx, fillers.ID, 2))

	alive, err := e.rooms.CreateRoom(ctx, 3, "alive", 4, "", nil)
	require.NoError(t, err)
	e.presence.touch(3, time.Now())

	rec := newReconciler(e, service.ReconcilerConfig{})
	rep, err := rec.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, policyByName(t, rep, "purge_empty").Removed)
	assert.Equal(t, 1, policyByName(t, rep, "purge_filler_only").Removed)

	_, err = e.rooms.GetRoom(ctx, emptied.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = e.rooms.GetRoom(ctx, fillers.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = e.rooms.GetRoom(ctx, alive.ID)
	assert.NoError(t, err)
}

func TestPurgeAbandonedHosts(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	abandoned, err := e.rooms.CreateRoom(ctx, 1, "abandoned", 4, "", nil)
	require.NoError(t, err)
	hosted, err := e.rooms.CreateRoom(ctx, 2, "hosted", 4, "", nil)
	require.NoError(t, err)

	// хост 1 давно не подавал признаков жизни, хост 2 жив
	e.presence.touch(1, time.Now().Add(-time.Hour))
	e.presence.touch(2, time.Now())

	rec := newReconciler(e, service.ReconcilerConfig{PresenceLongTTL: 15 * time.Minute})
	rep, err := rec.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, policyByName(t, rep, "purge_abandoned_hosts").Removed)
	_, err = e.rooms.GetRoom(ctx, abandoned.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = e.rooms.GetRoom(ctx, hosted.ID)
	assert.NoError(t, err)
}

// presence, у которого батч-скан отстаёт от точечной проверки: хост
// вернулся между сканом и удалением.
type racePresence struct {
	*fakePresence
	onBatch func()
}

func (r *racePresence) LastSeenBatch(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
	out, err := r.fakePresence.LastSeenBatch(ctx, ids)
	if r.onBatch != nil {
		r.onBatch()
	}
	return out, err
}

func TestAbandonedHostRecheckedBeforeDelete(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	room, err := e.rooms.CreateRoom(ctx, 1, "t", 4, "", nil)
	require.NoError(t, err)
	e.presence.touch(1, time.Now().Add(-time.Hour))

	pres := &racePresence{fakePresence: e.presence}
	pres.onBatch = func() {
		// хост вернулся сразу после скана
		e.presence.touch(1, time.Now())
		pres.onBatch = nil
	}

	rec := service.NewReconciler(fakeRooms{e.store}, fakeMembers{e.store}, fakeInvites{e.store}, pres, e.feed, service.ReconcilerConfig{PresenceLongTTL: 15 * time.Minute})
	rep, err := rec.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, policyByName(t, rep, "purge_abandoned_hosts").Removed,
		"перепроверка перед удалением спасает вернувшегося хоста")
	_, err = e.rooms.GetRoom(ctx, room.ID)
	assert.NoError(t, err)
}

func TestEvictStalePlayers(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	room, err := e.rooms.CreateRoom(ctx, 1, "t", 4, "", nil)
	require.NoError(t, err)
	_, _, err = e.members.JoinByCode(ctx, room.Code, 2, "")
	require.NoError(t, err)
	_, err = e.members.AddFiller(ctx, room.ID, 1)
	require.NoError(t, err)

	// хост жив, игрок 2 протух; филлеры под eviction не попадают
	e.presence.touch(1, time.Now())
	e.presence.touch(2, time.Now().Add(-time.Hour))

	rec := newReconciler(e, service.ReconcilerConfig{PresenceShortTTL: 3 * time.Minute})
	rep, err := rec.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, policyByName(t, rep, "evict_stale_players").Removed)
	assert.Contains(t, e.feed.kinds(), domain.EventMemberLeft)

	roster, err := e.members.Roster(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, int64(1), roster[0].UserID)
	assert.True(t, roster[1].IsFiller())
}

func TestExpireFinished(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	room, err := e.rooms.CreateRoom(ctx, 1, "t", 4, "", nil)
	require.NoError(t, err)
	_, _, err = e.members.JoinByCode(ctx, room.Code, 2, "")
	require.NoError(t, err)
	for _, uid := range []int64{1, 2} {
		_, err = e.members.SetReady(ctx, room.ID, uid, true)
		require.NoError(t, err)
	}
	_, err = e.rooms.StartGame(ctx, room.ID, 1)
	require.NoError(t, err)
	_, err = e.rooms.FinishGame(ctx, room.ID)
	require.NoError(t, err)

	e.presence.touch(1, time.Now())
	e.presence.touch(2, time.Now())

	rec := newReconciler(e, service.ReconcilerConfig{FinishedGrace: 10 * time.Minute})

	// внутри grace-периода комната живёт (экраны результатов)
	rep, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, policyByName(t, rep, "expire_finished").Removed)

	e.store.mu.Lock()
	e.store.rooms[room.ID].LastActivity = time.Now().Add(-time.Hour)
	e.store.mu.Unlock()

	rep, err = rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, policyByName(t, rep, "expire_finished").Removed)
	_, err = e.rooms.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestExpireInvitesAndRepairCounts(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	room, err := e.rooms.CreateRoom(ctx, 1, "t", 4, "", nil)
	require.NoError(t, err)
	e.presence.touch(1, time.Now())

	e.store.mu.Lock()
	e.store.invites["dead"] = &domain.Invite{
		ID: "dead", RoomID: room.ID, InviterID: 1, InviteeID: 5,
		Status: domain.InvitePending, ExpiresAt: time.Now().Add(-time.Minute),
	}
	// расхождение счётчика с фактическим составом
	e.store.rooms[room.ID].CurrentPlayers = 7
	e.store.mu.Unlock()

	rec := newReconciler(e, service.ReconcilerConfig{})
	rep, err := rec.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, policyByName(t, rep, "expire_invites").Removed)
	assert.Equal(t, 1, policyByName(t, rep, "repair_counts").Removed)

	got, err := e.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentPlayers, "счётчик выровнен по составу")
}

var _ repository.PresenceTracker = (*racePresence)(nil)
