package postgres

import (
	"context"
	"errors"

	"github.com/cardtable/lobby-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MemberRepository struct {
	db *pgxpool.Pool
}

func NewMemberRepository(db *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{db: db}
}

func listMembers(ctx context.Context, q querier, roomID int64) (domain.Roster, error) {
	rows, err := q.Query(ctx, `
		SELECT room_id, user_id, seat, is_ready, joined_at
		FROM room_members WHERE room_id=$1 ORDER BY seat ASC`, roomID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var roster domain.Roster
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Seat, &m.IsReady, &m.JoinedAt); err != nil {
			return nil, err
		}
		roster = append(roster, m)
	}
	return roster, rows.Err()
}

// lockRoom берёт строку комнаты под FOR UPDATE: параллельные мутации
// состава одной комнаты сериализуются на этой блокировке.
func lockRoom(ctx context.Context, tx pgx.Tx, roomID int64) (status domain.RoomStatus, maxPlayers int, err error) {
	err = tx.QueryRow(ctx,
		`SELECT status, max_players FROM rooms WHERE id=$1 FOR UPDATE`, roomID).
		Scan(&status, &maxPlayers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, domain.ErrRoomNotFound
		}
		return "", 0, mapPgError(err)
	}
	return status, maxPlayers, nil
}

// Join — вставка участника, инкремент current_players и touch last_activity
// одной транзакцией. Два параллельных Join не пробьют max_players: оба
// встают в очередь на строку комнаты и перечитывают count уже под замком.
func (r *MemberRepository) Join(ctx context.Context, roomID, userID int64) (*domain.Member, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	status, maxPlayers, err := lockRoom(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}
	if !status.Joinable() {
		return nil, domain.ErrRoomNotOpen
	}

	// одно активное участие на пользователя во всей системе
	var active bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM room_members m
			JOIN rooms rm ON rm.id = m.room_id
			WHERE m.user_id=$1 AND rm.status IN ('waiting','playing'))`,
		userID).Scan(&active); err != nil {
		return nil, mapPgError(err)
	}
	if active {
		return nil, domain.ErrAlreadyMember
	}

	m, err := insertMember(ctx, tx, roomID, userID, maxPlayers, false)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err)
	}
	return m, nil
}

// insertMember — общий хвост Join/AddFiller: место first-fit, insert,
// count++, touch. Вызывается строго под lockRoom.
func insertMember(ctx context.Context, tx pgx.Tx, roomID, userID int64, maxPlayers int, ready bool) (*domain.Member, error) {
	rows, err := tx.Query(ctx, `SELECT seat FROM room_members WHERE room_id=$1`, roomID)
	if err != nil {
		return nil, mapPgError(err)
	}
	taken := make([]int, 0, maxPlayers)
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return nil, err
		}
		taken = append(taken, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(taken) >= maxPlayers {
		return nil, domain.ErrRoomFull
	}
	seat, ok := domain.NextFreeSeat(taken, maxPlayers)
	if !ok {
		return nil, domain.ErrRoomFull
	}

	m := &domain.Member{RoomID: roomID, UserID: userID, Seat: seat, IsReady: ready}
	err = tx.QueryRow(ctx, `
		INSERT INTO room_members (room_id, user_id, seat, is_ready)
		VALUES ($1, $2, $3, $4)
		RETURNING joined_at`,
		roomID, userID, seat, ready).Scan(&m.JoinedAt)
	if err != nil {
		return nil, mapPgError(err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rooms SET current_players = current_players + 1, last_activity = now()
		WHERE id=$1`, roomID); err != nil {
		return nil, mapPgError(err)
	}
	return m, nil
}

func (r *MemberRepository) Leave(ctx context.Context, roomID, userID int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx,
		`DELETE FROM room_members WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if err != nil {
		return mapPgError(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotInRoom
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rooms SET current_players = GREATEST(current_players - 1, 0), last_activity = now()
		WHERE id=$1`, roomID); err != nil {
		return mapPgError(err)
	}

	return mapPgError(tx.Commit(ctx))
}

// SetReady идемпотентен; состав возвращается из той же транзакции,
// чтобы вызывающий увидел «все готовы» без второго запроса.
func (r *MemberRepository) SetReady(ctx context.Context, roomID, userID int64, ready bool) (domain.Roster, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx,
		`UPDATE room_members SET is_ready=$3 WHERE room_id=$1 AND user_id=$2`,
		roomID, userID, ready)
	if err != nil {
		return nil, mapPgError(err)
	}
	if cmd.RowsAffected() == 0 {
		return nil, domain.ErrNotInRoom
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rooms SET last_activity = now() WHERE id=$1`, roomID); err != nil {
		return nil, mapPgError(err)
	}

	roster, err := listMembers(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err)
	}
	return roster, nil
}

func (r *MemberRepository) ListByRoom(ctx context.Context, roomID int64) (domain.Roster, error) {
	return listMembers(ctx, r.db, roomID)
}

func (r *MemberRepository) HasActiveMembership(ctx context.Context, userID int64) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM room_members m
			JOIN rooms rm ON rm.id = m.room_id
			WHERE m.user_id=$1 AND rm.status IN ('waiting','playing'))`,
		userID).Scan(&active)
	return active, mapPgError(err)
}

// AddFiller — заполнители получают id из непересекающегося пространства:
// -1, -2, ... в рамках комнаты. Всегда is_ready=TRUE.
func (r *MemberRepository) AddFiller(ctx context.Context, roomID int64) (*domain.Member, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	status, maxPlayers, err := lockRoom(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}
	if !status.Joinable() {
		return nil, domain.ErrRoomNotOpen
	}

	var next int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MIN(user_id), 0) - 1
		FROM room_members WHERE room_id=$1 AND user_id < 0`, roomID).Scan(&next); err != nil {
		return nil, mapPgError(err)
	}
	if next >= 0 {
		next = -1
	}

	m, err := insertMember(ctx, tx, roomID, next, maxPlayers, true)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err)
	}
	return m, nil
}

// EvictStale — условное удаление для свипа: строка должна всё ещё
// существовать и комната быть активной на момент DELETE.
func (r *MemberRepository) EvictStale(ctx context.Context, roomID, userID int64) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		DELETE FROM room_members m
		USING rooms rm
		WHERE m.room_id=$1 AND m.user_id=$2
		  AND rm.id = m.room_id AND rm.status IN ('waiting','playing')`,
		roomID, userID)
	if err != nil {
		return false, mapPgError(err)
	}
	if cmd.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rooms SET current_players = GREATEST(current_players - 1, 0)
		WHERE id=$1`, roomID); err != nil {
		return false, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, mapPgError(err)
	}
	return true, nil
}

func (r *MemberRepository) ListRealActive(ctx context.Context) ([]domain.Member, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.room_id, m.user_id, m.seat, m.is_ready, m.joined_at
		FROM room_members m
		JOIN rooms rm ON rm.id = m.room_id
		WHERE m.user_id > 0 AND rm.status IN ('waiting','playing')`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Seat, &m.IsReady, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
