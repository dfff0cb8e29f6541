package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

type LeaderboardHandler struct {
	leaderboardService *services.LeaderboardService
}

// LeaderboardRouter registers the public /api/leaderboard routes.
func LeaderboardRouter(r chi.Router, leaderboardService *services.LeaderboardService) {
	handler := &LeaderboardHandler{leaderboardService: leaderboardService}
	r.Get("/{category}", handler.Top)
}

func (h *LeaderboardHandler) Top(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	board, err := h.leaderboardService.Top(r.Context(), chi.URLParam(r, "category"), strings.TrimSpace(query.Get("timeFrame")), limit)
	if err != nil {
		writeServiceError(w, err, "failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, board)
}
