package http

import (
	"net/http"
	"time"

	"github.com/cardtable/lobby-service/internal/service"
	httpmw "github.com/cardtable/lobby-service/internal/transport/http/middleware"
	"github.com/cardtable/lobby-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler, memberSvc *service.MemberService, wsServer *ws.Server, verifier httpmw.TokenVerifier, internalToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)

	// WS endpoint: токен передаётся query-параметром, аутентификация внутри
	r.Get("/ws/rooms/{id}", wsServer.HandleWS)

	// Все маршруты требуют access_token и user_id
	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.AuthMiddleware(verifier))
		pr.Use(httpmw.HeartbeatMiddleware(memberSvc))
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/rooms", func(rm chi.Router) {
			rm.Post("/", h.CreateRoom)
			rm.Get("/", h.ListRooms)
			rm.Post("/join", h.JoinRoom)

			rm.Route("/{id}", func(rr chi.Router) {
				rr.Get("/", h.GetRoom)
				rr.Post("/leave", h.LeaveRoom)
				rr.Post("/ready", h.SetReady)
				rr.Post("/start", h.StartGame)
				rr.Post("/kick", h.KickMember)
				rr.Get("/members", h.GetRoster)
				rr.Post("/fillers", h.AddFiller)
				rr.Delete("/fillers/{uid}", h.RemoveFiller)
				rr.Post("/invites", h.CreateInvite)
			})
		})

		pr.Route("/invites", func(iv chi.Router) {
			iv.Get("/", h.ListInvites)
			iv.Post("/{id}/accept", h.AcceptInvite)
		})

		pr.Post("/presence/heartbeat", h.Heartbeat)
	})

	// Межсервисные маршруты под общим токеном
	r.Group(func(ir chi.Router) {
		ir.Use(httpmw.InternalAuth(internalToken))
		ir.Use(middlewareChi.Timeout(2 * time.Minute))

		ir.Post("/internal/rooms/{id}/finish", h.FinishGame)
		ir.Post("/internal/sweep", h.TriggerSweep)
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
