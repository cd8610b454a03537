package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"streakkeeper/internal/types/streak"
	"streakkeeper/services"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StreakHandler serves read-only streak state over HTTP. Reads here never
// apply the view-time break; that stays a chat behaviour.
type StreakHandler struct {
	svc    *services.StreakService
	store  Pinger
	logger *zap.Logger
}

func NewStreakHandler(svc *services.StreakService, store Pinger, logger *zap.Logger) *StreakHandler {
	return &StreakHandler{svc: svc, store: store, logger: logger}
}

type streakResponse struct {
	GuildID        string      `json:"guild_id"`
	StreakCount    int         `json:"streak_count"`
	StartDate      streak.Date `json:"start_date"`
	LastLoggedDate streak.Date `json:"last_logged_date"`
	ReminderTime   string      `json:"reminder_time"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type longestResponse struct {
	GuildID       string      `json:"guild_id"`
	LongestStreak int         `json:"longest_streak"`
	EndedOn       streak.Date `json:"ended_on"`
}

func (h *StreakHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "store unreachable",
		})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "streakkeeper"})
}

func (h *StreakHandler) GetStreak(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	guildID := mux.Vars(r)["guildID"]
	rec, err := h.svc.Record(ctx, guildID)
	if err != nil {
		h.serverError(w, "get streak", err)
		return
	}
	respondWithJSON(w, http.StatusOK, streakResponse{
		GuildID:        guildID,
		StreakCount:    rec.StreakCount,
		StartDate:      rec.StartDate,
		LastLoggedDate: rec.LastLoggedDate,
		ReminderTime:   rec.ReminderTime,
		UpdatedAt:      rec.UpdatedAt,
	})
}

func (h *StreakHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}

	board, err := h.svc.Leaderboard(ctx, mux.Vars(r)["guildID"], limit)
	if err != nil {
		h.serverError(w, "get leaderboard", err)
		return
	}
	respondWithJSON(w, http.StatusOK, board)
}

func (h *StreakHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	vars := mux.Vars(r)
	stats, err := h.svc.Stats(ctx, vars["guildID"], vars["userID"])
	if err != nil {
		h.serverError(w, "get stats", err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *StreakHandler) GetLongest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	guildID := mux.Vars(r)["guildID"]
	count, end, err := h.svc.Longest(ctx, guildID)
	if err != nil {
		h.serverError(w, "get longest streak", err)
		return
	}
	respondWithJSON(w, http.StatusOK, longestResponse{GuildID: guildID, LongestStreak: count, EndedOn: end})
}

// Export returns the full snapshot. Mounted behind Clerk auth.
func (h *StreakHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	guildID := mux.Vars(r)["guildID"]
	data, err := h.svc.Export(ctx, guildID)
	if err != nil {
		h.serverError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="streak-`+guildID+`.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *StreakHandler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
