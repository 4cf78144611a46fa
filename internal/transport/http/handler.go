package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/postgres"
	"github.com/cardtable/lobby-service/internal/service"
	httpmw "github.com/cardtable/lobby-service/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
)

// Sweeper запускает полный цикл реконсиляции вне расписания.
type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepReport, error)
}

type Handler struct {
	roomSvc   *service.RoomService
	memberSvc *service.MemberService
	inviteSvc *service.InviteService
	sweeper   Sweeper
}

func NewHandler(room *service.RoomService, member *service.MemberService, invite *service.InviteService, sweeper Sweeper) *Handler {
	return &Handler{
		roomSvc:   room,
		memberSvc: member,
		inviteSvc: invite,
		sweeper:   sweeper,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError — единая карта доменных ошибок на статусы:
// NotFound→404, Conflict→409, Forbidden→403, PreconditionFailed→422,
// Transient→503 (повтор на стороне клиента, движок сам не повторяет).
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrInviteNotFound),
		errors.Is(err, domain.ErrNotInRoom):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrAlreadyMember),
		errors.Is(err, domain.ErrCodeExhausted):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotHost),
		errors.Is(err, domain.ErrNotFriends):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrWrongPassword),
		errors.Is(err, domain.ErrRoomNotOpen),
		errors.Is(err, domain.ErrNotReady),
		errors.Is(err, domain.ErrNoRealPlayers),
		errors.Is(err, domain.ErrTooFewPlayers),
		errors.Is(err, domain.ErrSelfInvite):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrTransient):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case errors.Is(err, postgres.ErrInvalidCursor):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_cursor"})
	default:
		slog.Error("handler."+op, "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func roomIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	room, err := h.roomSvc.CreateRoom(r.Context(), userID, req.Name, req.MaxPlayers, req.Password, req.Settings)
	if err != nil {
		writeError(w, "CreateRoom", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoomItem(room))
}

// GET /rooms?limit=&cursor=
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	rooms, next, err := h.roomSvc.ListRooms(r.Context(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, "ListRooms", err)
		return
	}
	resp := RoomsListResponse{Items: make([]RoomItem, 0, len(rooms)), NextCursor: next}
	for i := range rooms {
		resp.Items = append(resp.Items, toRoomItem(&rooms[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	room, err := h.roomSvc.GetRoom(r.Context(), id)
	if err != nil {
		writeError(w, "GetRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomItem(room))
}

// POST /rooms/join — вход по 6-символьному коду
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())
	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	room, member, err := h.memberSvc.JoinByCode(r.Context(), req.Code, userID, req.Password)
	if err != nil {
		writeError(w, "JoinRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, JoinRoomResponse{
		Room:   toRoomItem(room),
		Seat:   member.Seat,
		UserID: userID,
	})
}

// POST /rooms/{id}/leave
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	userID := httpmw.UserIDFromCtx(r.Context())

	if err := h.memberSvc.Leave(r.Context(), id, userID); err != nil {
		writeError(w, "LeaveRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// POST /rooms/{id}/ready
func (h *Handler) SetReady(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	userID := httpmw.UserIDFromCtx(r.Context())

	var req SetReadyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	roster, err := h.memberSvc.SetReady(r.Context(), id, userID, req.Ready)
	if err != nil {
		writeError(w, "SetReady", err)
		return
	}
	writeJSON(w, http.StatusOK, RosterResponse{
		RoomID:   id,
		Members:  toMemberItems(roster),
		AllReady: roster.AllReady(),
	})
}

// POST /rooms/{id}/start
func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	userID := httpmw.UserIDFromCtx(r.Context())

	room, err := h.roomSvc.StartGame(r.Context(), id, userID)
	if err != nil {
		writeError(w, "StartGame", err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomItem(room))
}

// POST /rooms/{id}/kick
func (h *Handler) KickMember(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	userID := httpmw.UserIDFromCtx(r.Context())

	var req KickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	if err := h.memberSvc.Kick(r.Context(), id, userID, req.UserID); err != nil {
		writeError(w, "KickMember", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "kicked"})
}

// POST /rooms/{id}/fillers
func (h *Handler) AddFiller(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	userID := httpmw.UserIDFromCtx(r.Context())

	m, err := h.memberSvc.AddFiller(r.Context(), id, userID)
	if err != nil {
		writeError(w, "AddFiller", err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberItem{
		UserID:   m.UserID,
		Seat:     m.Seat,
		IsReady:  true,
		IsFiller: true,
		JoinedAt: m.JoinedAt,
	})
}

// DELETE /rooms/{id}/fillers/{uid}
func (h *Handler) RemoveFiller(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	userID := httpmw.UserIDFromCtx(r.Context())

	fillerID, err := strconv.ParseInt(chi.URLParam(r, "uid"), 10, 64)
	if err != nil || !domain.IsFillerID(fillerID) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid filler id"})
		return
	}

	if err := h.memberSvc.Kick(r.Context(), id, userID, fillerID); err != nil {
		writeError(w, "RemoveFiller", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// GET /rooms/{id}/members
func (h *Handler) GetRoster(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	roster, err := h.memberSvc.Roster(r.Context(), id)
	if err != nil {
		writeError(w, "GetRoster", err)
		return
	}
	writeJSON(w, http.StatusOK, RosterResponse{
		RoomID:   id,
		Members:  toMemberItems(roster),
		AllReady: roster.AllReady(),
	})
}

// POST /rooms/{id}/invites
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	userID := httpmw.UserIDFromCtx(r.Context())

	var req CreateInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	inv, err := h.inviteSvc.CreateInvite(r.Context(), id, userID, req.InviteeID)
	if err != nil {
		writeError(w, "CreateInvite", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         inv.ID,
		"room_id":    inv.RoomID,
		"invitee_id": inv.InviteeID,
		"expires_at": inv.ExpiresAt,
	})
}

// GET /invites
func (h *Handler) ListInvites(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())

	list, err := h.inviteSvc.ListPending(r.Context(), userID)
	if err != nil {
		writeError(w, "ListInvites", err)
		return
	}
	writeJSON(w, http.StatusOK, InvitesListResponse{Items: toInviteItems(list)})
}

// POST /invites/{id}/accept
func (h *Handler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())
	inviteID := chi.URLParam(r, "id")

	room, member, err := h.inviteSvc.AcceptInvite(r.Context(), inviteID, userID)
	if err != nil {
		writeError(w, "AcceptInvite", err)
		return
	}
	writeJSON(w, http.StatusOK, JoinRoomResponse{
		Room:   toRoomItem(room),
		Seat:   member.Seat,
		UserID: userID,
	})
}

// POST /presence/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID := httpmw.UserIDFromCtx(r.Context())
	if err := h.memberSvc.Heartbeat(r.Context(), userID, domain.PresenceOnline); err != nil {
		writeError(w, "Heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /internal/sweep — внеочередной запуск реконсиляции
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrSweepInProgress) {
			writeJSON(w, http.StatusConflict, ErrorResponse{Error: "sweep already running"})
			return
		}
		writeError(w, "TriggerSweep", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /internal/rooms/{id}/finish — callback игрового движка
func (h *Handler) FinishGame(w http.ResponseWriter, r *http.Request) {
	id, ok := roomIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	room, err := h.roomSvc.FinishGame(r.Context(), id)
	if err != nil {
		writeError(w, "FinishGame", err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomItem(room))
}
