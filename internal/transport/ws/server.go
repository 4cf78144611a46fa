package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cardtable/lobby-service/internal/domain"
	"github.com/cardtable/lobby-service/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type RoomReader interface {
	GetRoom(ctx context.Context, id int64) (*domain.Room, error)
}

type MemberReader interface {
	Roster(ctx context.Context, roomID int64) (domain.Roster, error)
	Heartbeat(ctx context.Context, userID int64, status domain.PresenceStatus) error
}

type TokenVerifier interface {
	UserID(token string) (int64, error)
}

// Server — пассивный fan-out зафиксированных мутаций: наблюдает feed и
// ретранслирует, состояние сам не меняет. Отвал клиента не трогает его
// участие в комнате — этим занимается presence-eviction свипа.
type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	feed     repository.Feed
	rooms    RoomReader
	members  MemberReader
	verifier TokenVerifier

	pingEvery time.Duration

	// mu охватывает и членство в hub, и карту насосов: решение
	// «первый/последний подписчик» и регистрация насоса атомарны.
	mu    sync.Mutex
	pumps map[int64]func() // roomID -> отмена насоса
}

func NewServer(hub *Hub, feed repository.Feed, rooms RoomReader, members MemberReader, verifier TokenVerifier, pingEvery time.Duration) *Server {
	if pingEvery <= 0 {
		pingEvery = 15 * time.Second
	}
	return &Server{
		hub:      hub,
		feed:     feed,
		rooms:    rooms,
		members:  members,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: pingEvery,
		pumps:     make(map[int64]func()),
	}
}

// WS endpoint: GET /ws/rooms/{id}?access_token=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("access_token"))
	if token == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}
	uid, err := s.verifier.UserID(token)
	if err != nil {
		http.Error(w, "invalid access_token", http.StatusUnauthorized)
		return
	}
	roomID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || roomID <= 0 {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	if _, err := s.rooms.GetRoom(r.Context(), roomID); err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, roomID, uid)
	s.attach(c)

	if err := s.sendState(r.Context(), c); err != nil {
		slog.Warn("ws send initial state failed", "room", roomID, "user", uid, "err", err)
	}

	go s.writeLoop(c)
	s.readLoop(r.Context(), c)

	s.detach(c)
	_ = c.Close()
}

// attach регистрирует соединение; первый подписчик комнаты на инстансе
// поднимает насос feed-а.
func (s *Server) attach(c Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hub.Add(c) {
		s.startPumpLocked(c.RoomID())
	}
}

// detach снимает соединение; последний ушедший гасит насос. Уход
// последнего и приход нового сериализованы через s.mu, поэтому снять
// чужой (более новый) насос невозможно.
func (s *Server) detach(c Conn) {
	var stop func()
	s.mu.Lock()
	if s.hub.Remove(c) {
		stop = s.pumps[c.RoomID()]
		delete(s.pumps, c.RoomID())
	}
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// startPumpLocked вызывается под s.mu.
func (s *Server) startPumpLocked(roomID int64) {
	if old, ok := s.pumps[roomID]; ok {
		// насоса без подписчиков быть не должно: detach последнего
		// снимает его атомарно. Старый гасим, а не теряем.
		delete(s.pumps, roomID)
		old()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pumps[roomID] = cancel
	go s.pump(ctx, roomID)
}

// pump — одна подписка на feed комнаты на инстанс; события раздаются
// всем локальным соединениям через hub.
func (s *Server) pump(ctx context.Context, roomID int64) {
	events, release, err := s.feed.Subscribe(ctx, roomID)
	if err != nil {
		slog.Error("feed subscribe failed", "room", roomID, "err", err)
		return
	}
	defer release()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.hub.Broadcast(roomID, eventMessage(ev))
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) sendState(ctx context.Context, c *wsConn) error {
	room, err := s.rooms.GetRoom(ctx, c.roomID)
	if err != nil {
		return err
	}
	roster, err := s.members.Roster(ctx, c.roomID)
	if err != nil {
		return err
	}
	return c.Send(stateMessage(domain.SnapshotRoom(room, roster)))
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	_ = s.members.Heartbeat(ctx, c.userID, domain.PresenceInRoom)

	c.conn.SetReadLimit(1 << 16)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		// живое соединение — живой пользователь
		_ = s.members.Heartbeat(ctx, c.userID, domain.PresenceInRoom)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case TypeHeartbeat:
			_ = s.members.Heartbeat(ctx, c.userID, domain.PresenceInRoom)
		default:
			// ignore: поток только на чтение, мутации идут через HTTP API
		}
	}
}

// writeLoop — периодический ping: мёртвый транспорт отваливается по
// read deadline и соединение утилизируется.
func (s *Server) writeLoop(c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-c.closed:
			return
		}
	}
}

type wsConn struct {
	conn   *websocket.Conn
	roomID int64
	userID int64
	sendMu chan struct{}
	closed chan struct{}

	closeOnce sync.Once
}

func newWsConn(c *websocket.Conn, roomID, userID int64) *wsConn {
	return &wsConn{
		conn:   c,
		roomID: roomID,
		userID: userID,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}

func (c *wsConn) UserID() int64 { return c.userID }
func (c *wsConn) RoomID() int64 { return c.roomID }
