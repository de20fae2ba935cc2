package handlers

import "net/http"

// LeaderboardHandler обрабатывает GET /api/leaderboard?period=week|month|quarter|year
func (h *Handler) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	board, err := h.Leaderboard.Build(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}
