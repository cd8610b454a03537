package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	lbtypes "streakkeeper/internal/types/leaderboard"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func setupRouter(t *testing.T) (*mux.Router, *harness) {
	t.Helper()
	hs := newHarness(t)
	h := NewStreakHandler(hs.svc, pingFunc(func(context.Context) error { return nil }), zap.NewNop())

	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")
	api := r.PathPrefix("/api/v1/guilds/{guildID}").Subrouter()
	api.HandleFunc("/streak", h.GetStreak).Methods("GET")
	api.HandleFunc("/leaderboard", h.GetLeaderboard).Methods("GET")
	api.HandleFunc("/stats/{userID}", h.GetStats).Methods("GET")
	api.HandleFunc("/longest", h.GetLongest).Methods("GET")
	api.HandleFunc("/export", h.Export).Methods("GET")
	return r, hs
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(t)
	rr := get(t, r, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"healthy"`)

	down := NewStreakHandler(nil, pingFunc(func(context.Context) error { return errors.New("gone") }), zap.NewNop())
	rr = httptest.NewRecorder()
	down.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "gone")
}

func TestGetStreak(t *testing.T) {
	r, hs := setupRouter(t)
	hs.run(ann, "!log", withAttachment)

	rr := get(t, r, "/api/v1/guilds/g1/streak")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body streakResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "g1", body.GuildID)
	assert.Equal(t, 1, body.StreakCount)
	assert.Equal(t, "2024-03-10", body.LastLoggedDate.String())
	assert.Equal(t, "19:00", body.ReminderTime)
}

func TestGetStreakDoesNotBreak(t *testing.T) {
	r, hs := setupRouter(t)
	hs.run(ann, "!log", withAttachment)
	hs.now = hs.now.AddDate(0, 0, 5)

	var body streakResponse
	require.NoError(t, json.Unmarshal(get(t, r, "/api/v1/guilds/g1/streak").Body.Bytes(), &body))
	assert.Equal(t, 1, body.StreakCount)
}

func TestGetLeaderboard(t *testing.T) {
	r, hs := setupRouter(t)
	hs.run(ann, "!log", withAttachment)
	hs.run(ben, "!log", withAttachment)

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantLen  int
	}{
		{"default", "", http.StatusOK, 2},
		{"limited", "?limit=1", http.StatusOK, 1},
		{"zero", "?limit=0", http.StatusBadRequest, 0},
		{"garbage", "?limit=ten", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(t, r, "/api/v1/guilds/g1/leaderboard"+tt.query)
			require.Equal(t, tt.wantCode, rr.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			var board lbtypes.Leaderboard
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &board))
			assert.Len(t, board.Entries, tt.wantLen)
			assert.Equal(t, 2, board.TotalUsers)
			assert.Equal(t, 1, board.Entries[0].Rank)
		})
	}
}

func TestGetStatsAndLongest(t *testing.T) {
	r, hs := setupRouter(t)
	hs.run(ann, "!log", withAttachment)

	rr := get(t, r, "/api/v1/guilds/g1/stats/ann")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"user_id":"ann","contributions":1,"rank":1,"total_users":1}`, rr.Body.String())

	rr = get(t, r, "/api/v1/guilds/g1/stats/nobody")
	assert.JSONEq(t, `{"user_id":"nobody","contributions":0,"rank":0,"total_users":1}`, rr.Body.String())

	rr = get(t, r, "/api/v1/guilds/g1/longest")
	assert.JSONEq(t, `{"guild_id":"g1","longest_streak":0,"ended_on":null}`, rr.Body.String())
}

func TestExportEndpoint(t *testing.T) {
	r, hs := setupRouter(t)
	hs.run(ann, "!log", withAttachment)

	rr := get(t, r, "/api/v1/guilds/g1/export")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="streak-g1.json"`, rr.Header().Get("Content-Disposition"))

	var snap struct {
		GuildID string `json:"guild_id"`
		Ledger  []lbtypes.Entry
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, "g1", snap.GuildID)
	require.Len(t, snap.Ledger, 1)
	assert.Equal(t, "ann", snap.Ledger[0].UserID)
}
