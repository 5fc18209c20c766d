package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authcare/internal/middleware"
)

// Pinger はデータベースの疎通確認インターフェース。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Database string `json:"database"`
}

// Health はデータベースへの疎通を確認する。
// GET /health
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			middleware.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Database: "unreachable"})
			return
		}
		middleware.WriteJSON(w, http.StatusOK, healthResponse{Database: "ok"})
	}
}
