package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rtchat/authserver/internal/logging"
	"github.com/rtchat/authserver/types"
)

// StatsService reports account statistics.
type StatsService interface {
	CountAccounts(ctx context.Context) (int64, error)
}

type AdminHandler struct {
	stats StatsService
	log   logging.Logger
}

// AdminRouter registers admin-only routes. authMiddleware must populate the
// session claims; the role check runs after it.
func AdminRouter(r chi.Router, stats StatsService, authMiddleware func(http.Handler) http.Handler, log logging.Logger) {
	if log == nil {
		log = logging.Discard()
	}
	handler := &AdminHandler{stats: stats, log: log}

	r.With(authMiddleware, RequireRole(types.RoleAdmin)).Get("/stats", handler.Stats)
}

type StatsResponse struct {
	Accounts int64 `json:"accounts"`
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.stats.CountAccounts(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "count accounts failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable", "")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Accounts: count})
}
