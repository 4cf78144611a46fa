package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"
)

// ErrSweepInProgress — свип ещё идёт; новый не ставится в очередь, а пропускается.
var ErrSweepInProgress = errors.New("sweep already in progress")

type ReconcilerConfig struct {
	// waiting-комната без активности дольше этого возраста удаляется
	WaitingRoomAge time.Duration
	// finished-комната живёт ещё этот grace (экраны результатов)
	FinishedGrace time.Duration
	// short TTL: игрок «скорее всего в сессии, но вкладка в фоне»
	PresenceShortTTL time.Duration
	// long TTL: хост бросил лобби
	PresenceLongTTL time.Duration
	// time-box одного свипа: медленное хранилище не задержит следующий
	Timeout time.Duration
}

func (c *ReconcilerConfig) defaults() {
	if c.WaitingRoomAge <= 0 {
		c.WaitingRoomAge = 15 * time.Minute
	}
	if c.FinishedGrace <= 0 {
		c.FinishedGrace = 10 * time.Minute
	}
	if c.PresenceShortTTL <= 0 {
		c.PresenceShortTTL = 3 * time.Minute
	}
	if c.PresenceLongTTL <= 0 {
		c.PresenceLongTTL = 15 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
}

// Reconciler — периодический свип, сводящий фактическое состояние комнат
// к желаемому. Политики независимы, идемпотентны и выполняются в
// фиксированном порядке: грубые удаления раньше точечных, чтобы не
// возиться с комнатами, которые всё равно уйдут целиком. Каждое удаление
// перепроверяет свой предикат в момент DELETE.
type Reconciler struct {
	rooms    repository.RoomRepository
	members  repository.MemberRepository
	invites  repository.InviteRepository
	presence repository.PresenceTracker
	feed     repository.Feed
	cfg      ReconcilerConfig

	running atomic.Bool
	now     func() time.Time
}

func NewReconciler(rooms repository.RoomRepository, members repository.MemberRepository, invites repository.InviteRepository, presence repository.PresenceTracker, feed repository.Feed, cfg ReconcilerConfig) *Reconciler {
	cfg.defaults()
	return &Reconciler{
		rooms:    rooms,
		members:  members,
		invites:  invites,
		presence: presence,
		feed:     feed,
		cfg:      cfg,
		now:      time.Now,
	}
}

type PolicyResult struct {
	Name    string `json:"name"`
	Removed int    `json:"removed"`
	Err     string `json:"err,omitempty"`
}

type SweepReport struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Policies  []PolicyResult `json:"policies"`
}

// Sweep прогоняет все политики. Сбой одной политики логируется и не
// останавливает остальные: частичная реконсиляция за цикл допустима,
// свип повторится.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	started := r.now()
	report := &SweepReport{StartedAt: started}

	policies := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{"age_out_waiting", r.ageOutWaiting},
		{"purge_empty", r.purgeEmpty},
		{"purge_filler_only", r.purgeFillerOnly},
		{"purge_abandoned_hosts", r.purgeAbandonedHosts},
		{"evict_stale_players", r.evictStalePlayers},
		{"expire_finished", r.expireFinished},
		{"expire_invites", r.expireInvites},
		{"repair_counts", r.repairCounts},
	}

	for _, p := range policies {
		removed, err := p.run(ctx)
		res := PolicyResult{Name: p.name, Removed: removed}
		if err != nil {
			res.Err = err.Error()
			slog.Error("sweep policy failed", "policy", p.name, "err", err)
		} else if removed > 0 {
			slog.Info("sweep policy applied", "policy", p.name, "removed", removed)
		}
		report.Policies = append(report.Policies, res)
	}

	report.Duration = r.now().Sub(started)
	return report, nil
}

// 1. waiting-комнаты, в которых давно ничего не происходило.
func (r *Reconciler) ageOutWaiting(ctx context.Context) (int, error) {
	ids, err := r.rooms.DeleteStaleWaiting(ctx, r.now().Add(-r.cfg.WaitingRoomAge))
	r.announceDeleted(ctx, ids)
	return len(ids), err
}

// 2. комнаты без единого участника, статус не важен.
func (r *Reconciler) purgeEmpty(ctx context.Context) (int, error) {
	ids, err := r.rooms.DeleteEmpty(ctx)
	r.announceDeleted(ctx, ids)
	return len(ids), err
}

// 3. waiting-комнаты, где остались одни филлеры: никто не ждёт — терять нечего.
func (r *Reconciler) purgeFillerOnly(ctx context.Context) (int, error) {
	ids, err := r.rooms.DeleteFillerOnly(ctx)
	r.announceDeleted(ctx, ids)
	return len(ids), err
}

// 4. waiting-комнаты, чей хост протух дольше long TTL: лобби, которое
// никто не хостит, не должно держать код комнаты.
func (r *Reconciler) purgeAbandonedHosts(ctx context.Context) (int, error) {
	hosted, err := r.rooms.ListWaitingHosts(ctx)
	if err != nil {
		return 0, err
	}

	hostIDs := make([]int64, 0, len(hosted))
	for _, h := range hosted {
		hostIDs = append(hostIDs, h.HostID)
	}
	seen, err := r.presence.LastSeenBatch(ctx, hostIDs)
	if err != nil {
		return 0, err
	}

	now := r.now()
	removed := 0
	for _, h := range hosted {
		if ls, ok := seen[h.HostID]; ok && now.Sub(ls) < r.cfg.PresenceLongTTL {
			continue
		}
		// перепроверка прямо перед удалением: хост мог вернуться
		// между сканом и этим шагом
		live, err := r.presence.IsLive(ctx, h.HostID, r.cfg.PresenceLongTTL)
		if err != nil {
			return removed, err
		}
		if live {
			continue
		}
		ok, err := r.rooms.DeleteIfAbandoned(ctx, h.RoomID, h.HostID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
			r.announceDeleted(ctx, []int64{h.RoomID})
		}
	}
	return removed, nil
}

// 5. точечное выселение протухших участников из waiting/playing комнат —
// призрачные места не должны блокировать join и готовность.
func (r *Reconciler) evictStalePlayers(ctx context.Context) (int, error) {
	members, err := r.members.ListRealActive(ctx)
	if err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	seen, err := r.presence.LastSeenBatch(ctx, ids)
	if err != nil {
		return 0, err
	}

	now := r.now()
	removed := 0
	for _, m := range members {
		if ls, ok := seen[m.UserID]; ok && now.Sub(ls) < r.cfg.PresenceShortTTL {
			continue
		}
		live, err := r.presence.IsLive(ctx, m.UserID, r.cfg.PresenceShortTTL)
		if err != nil {
			return removed, err
		}
		if live {
			continue
		}
		ok, err := r.members.EvictStale(ctx, m.RoomID, m.UserID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
			publishSnapshot(ctx, r.feed, r.rooms, r.members, domain.EventMemberLeft, m.RoomID, m.UserID)
		}
	}
	return removed, nil
}

// 6. finished-комнаты после grace-периода на экраны результатов.
func (r *Reconciler) expireFinished(ctx context.Context) (int, error) {
	ids, err := r.rooms.DeleteFinishedBefore(ctx, r.now().Add(-r.cfg.FinishedGrace))
	r.announceDeleted(ctx, ids)
	return len(ids), err
}

// 7. попутная уборка истёкших приглашений (читатели и так их не видят).
func (r *Reconciler) expireInvites(ctx context.Context) (int, error) {
	n, err := r.invites.DeleteExpired(ctx, r.now())
	return int(n), err
}

// 8. выравнивание current_players по фактическому составу: чинится
// счётчик, никогда не состав.
func (r *Reconciler) repairCounts(ctx context.Context) (int, error) {
	n, err := r.rooms.RepairCounts(ctx)
	return int(n), err
}

func (r *Reconciler) announceDeleted(ctx context.Context, ids []int64) {
	for _, id := range ids {
		publishDeleted(ctx, r.feed, id)
	}
}
