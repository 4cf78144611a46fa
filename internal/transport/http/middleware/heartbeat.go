package httpmw

import (
	"context"
	"net/http"

	"github.com/cardtable/lobby-service/internal/domain"
)

type HeartbeatToucher interface {
	Heartbeat(ctx context.Context, userID int64, status domain.PresenceStatus) error
}

// HeartbeatMiddleware обновляет presence аутентифицированного пользователя
// на каждый запрос: активность в API — тоже сигнал живости.
func HeartbeatMiddleware(presence HeartbeatToucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := UserIDFromCtx(r.Context()); userID != 0 {
				// best-effort: ошибки не прерывают запрос
				_ = presence.Heartbeat(r.Context(), userID, domain.PresenceOnline)
			}
			next.ServeHTTP(w, r)
		})
	}
}
