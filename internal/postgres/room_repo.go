package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RoomRepository struct {
	db *pgxpool.Pool
}

func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

const roomColumns = `id, code, name, status, max_players, current_players, host_id, password_hash, settings, created_at, last_activity`

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var rm domain.Room
	err := row.Scan(
		&rm.ID, &rm.Code, &rm.Name, &rm.Status,
		&rm.MaxPlayers, &rm.CurrentPlayers, &rm.HostID,
		&rm.PasswordHash, &rm.Settings, &rm.CreatedAt, &rm.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, mapPgError(err)
	}
	return &rm, nil
}

// Create — одна транзакция: удалить прежнюю активную комнату хоста,
// убедиться, что хост не состоит в чужой комнате, вставить новую и
// сразу посадить хоста на место 0.
// Возвращает id вытесненных комнат (для событий room_deleted).
func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) ([]int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`DELETE FROM rooms WHERE host_id=$1 AND status IN ('waiting','playing') RETURNING id`,
		room.HostID)
	if err != nil {
		return nil, mapPgError(err)
	}
	replaced, err := collectIDs(rows)
	if err != nil {
		return nil, mapPgError(err)
	}

	// одно активное участие на пользователя: членство в чужой комнате
	// блокирует создание (своя прежняя комната уже удалена выше)
	var busy bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM room_members m
			JOIN rooms r ON r.id = m.room_id
			WHERE m.user_id = $1 AND r.status IN ('waiting','playing'))`,
		room.HostID).Scan(&busy); err != nil {
		return nil, mapPgError(err)
	}
	if busy {
		return nil, domain.ErrAlreadyMember
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO rooms (code, name, status, max_players, current_players, host_id, password_hash, settings)
		VALUES ($1, $2, 'waiting', $3, 1, $4, $5, $6)
		RETURNING id, status, created_at, last_activity`,
		room.Code, room.Name, room.MaxPlayers, room.HostID, room.PasswordHash, room.Settings,
	).Scan(&room.ID, &room.Status, &room.CreatedAt, &room.LastActivity)
	if err != nil {
		return nil, mapPgError(err)
	}

	// хост занимает место 0 в той же транзакции, чтобы комната не родилась
	// пустой и не попала под empty-room purge между create и join
	if _, err := tx.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id, seat, is_ready)
		VALUES ($1, $2, 0, FALSE)`,
		room.ID, room.HostID); err != nil {
		return nil, mapPgError(err)
	}
	room.CurrentPlayers = 1

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err)
	}
	return replaced, nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	return scanRoom(r.db.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id=$1`, id))
}

func (r *RoomRepository) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	return scanRoom(r.db.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE code=$1`,
		domain.NormalizeRoomCode(code)))
}

func (r *RoomRepository) ListWaiting(ctx context.Context, limit int, cursorStr string) ([]domain.Room, string, error) {
	cur, err := DecodeCursor(cursorStr)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT ` + roomColumns + `
		FROM rooms
		WHERE status = 'waiting'
		  AND ($1::timestamptz IS NULL OR created_at < $1
		       OR (created_at = $1 AND id < $2))
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	var createdAt any
	var id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.db.Query(ctx, query, createdAt, id, limit)
	if err != nil {
		return nil, "", mapPgError(err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		var rm domain.Room
		if err := rows.Scan(
			&rm.ID, &rm.Code, &rm.Name, &rm.Status,
			&rm.MaxPlayers, &rm.CurrentPlayers, &rm.HostID,
			&rm.PasswordHash, &rm.Settings, &rm.CreatedAt, &rm.LastActivity,
		); err != nil {
			return nil, "", err
		}
		rooms = append(rooms, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapPgError(err)
	}

	var nextCursor string
	if len(rooms) == limit {
		last := rooms[len(rooms)-1]
		nextCursor, _ = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rooms, nextCursor, nil
}

// Start — валидация и переход waiting → playing под блокировкой строки комнаты.
func (r *RoomRepository) Start(ctx context.Context, roomID, requesterID int64) (*domain.Room, domain.Roster, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	room, err := scanRoom(tx.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id=$1 FOR UPDATE`, roomID))
	if err != nil {
		return nil, nil, err
	}
	if room.HostID != requesterID {
		return nil, nil, domain.ErrNotHost
	}
	if room.Status != domain.StatusWaiting {
		return nil, nil, domain.ErrRoomNotOpen
	}

	roster, err := listMembers(ctx, tx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if err := roster.CheckStart(); err != nil {
		return nil, nil, err
	}

	err = tx.QueryRow(ctx,
		`UPDATE rooms SET status='playing', last_activity=now() WHERE id=$1 RETURNING status, last_activity`,
		roomID).Scan(&room.Status, &room.LastActivity)
	if err != nil {
		return nil, nil, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, mapPgError(err)
	}
	return room, roster, nil
}

// Finish — callback игрового движка; повтор на уже finished комнате — no-op.
func (r *RoomRepository) Finish(ctx context.Context, roomID int64) (*domain.Room, error) {
	room, err := scanRoom(r.db.QueryRow(ctx, `
		UPDATE rooms SET status='finished', last_activity=now()
		WHERE id=$1 AND status='playing'
		RETURNING `+roomColumns, roomID))
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return nil, err
	}

	room, err = r.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == domain.StatusFinished {
		return room, nil
	}
	return nil, domain.ErrRoomNotOpen
}

func (r *RoomRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE id=$1`, id)
	return mapPgError(err)
}

// --- свип: условные удаления, предикат проверяется в самом DELETE ---

func (r *RoomRepository) DeleteStaleWaiting(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`DELETE FROM rooms WHERE status='waiting' AND last_activity < $1 RETURNING id`, cutoff)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectIDs(rows)
}

func (r *RoomRepository) DeleteEmpty(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		DELETE FROM rooms r
		WHERE NOT EXISTS (SELECT 1 FROM room_members m WHERE m.room_id = r.id)
		RETURNING r.id`)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectIDs(rows)
}

func (r *RoomRepository) DeleteFillerOnly(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		DELETE FROM rooms r
		WHERE r.status = 'waiting'
		  AND EXISTS (SELECT 1 FROM room_members m WHERE m.room_id = r.id)
		  AND NOT EXISTS (SELECT 1 FROM room_members m WHERE m.room_id = r.id AND m.user_id > 0)
		RETURNING r.id`)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectIDs(rows)
}

func (r *RoomRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`DELETE FROM rooms WHERE status='finished' AND last_activity < $1 RETURNING id`, cutoff)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectIDs(rows)
}

func (r *RoomRepository) DeleteIfAbandoned(ctx context.Context, roomID, hostID int64) (bool, error) {
	cmd, err := r.db.Exec(ctx,
		`DELETE FROM rooms WHERE id=$1 AND host_id=$2 AND status='waiting'`, roomID, hostID)
	if err != nil {
		return false, mapPgError(err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *RoomRepository) ListWaitingHosts(ctx context.Context) ([]repository.HostedRoom, error) {
	rows, err := r.db.Query(ctx, `SELECT id, host_id FROM rooms WHERE status='waiting'`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []repository.HostedRoom
	for rows.Next() {
		var hr repository.HostedRoom
		if err := rows.Scan(&hr.RoomID, &hr.HostID); err != nil {
			return nil, err
		}
		out = append(out, hr)
	}
	return out, rows.Err()
}

// RepairCounts выравнивает расхождение current_players со строками состава.
// Правится всегда счётчик, никогда не состав.
func (r *RoomRepository) RepairCounts(ctx context.Context) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE rooms r SET current_players = c.n
		FROM (
			SELECT r2.id, COUNT(m.user_id)::int AS n
			FROM rooms r2
			LEFT JOIN room_members m ON m.room_id = r2.id
			GROUP BY r2.id
		) c
		WHERE c.id = r.id AND r.current_players <> c.n`)
	if err != nil {
		return 0, mapPgError(err)
	}
	return cmd.RowsAffected(), nil
}
