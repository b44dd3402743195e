package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoRoute(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"route": name, "user": chi.URLParam(r, "userID")})
	}
}

func testHandlers() HandlerSet {
	return HandlerSet{
		ListMemories:   echoRoute("list"),
		CreateMemory:   echoRoute("create"),
		SearchMemories: echoRoute("search"),
		SendMessage:    echoRoute("send"),
		GetContext:     echoRoute("get-context"),
		ResetContext:   echoRoute("reset-context"),
	}
}

func TestRouter_Routes(t *testing.T) {
	router := NewRouter(RouterConfig{}, testHandlers())

	tests := []struct {
		method, path, route string
	}{
		{http.MethodGet, "/api/v1/users/alice/memories", "list"},
		{http.MethodPost, "/api/v1/users/alice/memories", "create"},
		{http.MethodPost, "/api/v1/users/alice/memories/search", "search"},
		{http.MethodPost, "/api/v1/users/alice/messages", "send"},
		{http.MethodGet, "/api/v1/users/alice/context", "get-context"},
		{http.MethodDelete, "/api/v1/users/alice/context", "reset-context"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp struct {
				Data map[string]string `json:"data"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.route, resp.Data["route"])
			assert.Equal(t, "alice", resp.Data["user"])
		})
	}
}

func TestRouter_Live(t *testing.T) {
	router := NewRouter(RouterConfig{}, testHandlers())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestRouter_Ready(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		checks map[string]ReadinessCheck
		status int
		want   map[string]string
	}{
		{
			name:   "no checks",
			status: http.StatusOK,
			want:   map[string]string{"status": "healthy"},
		},
		{
			name:   "all healthy",
			checks: map[string]ReadinessCheck{"store": ok, "nats": ok},
			status: http.StatusOK,
			want:   map[string]string{"status": "healthy", "store": "healthy", "nats": "healthy"},
		},
		{
			name:   "one unhealthy",
			checks: map[string]ReadinessCheck{"store": ok, "nats": down},
			status: http.StatusServiceUnavailable,
			want:   map[string]string{"status": "degraded", "store": "healthy", "nats": "unhealthy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(RouterConfig{ReadinessChecks: tt.checks}, testHandlers())

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tt.status, rec.Code)

			var resp struct {
				Data map[string]string `json:"data"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.want, resp.Data)
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := NewRouter(RouterConfig{}, testHandlers())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RateLimiterScopedToAPI(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			HandleError(w, ErrTooManyRequest)
		})
	}
	router := NewRouter(RouterConfig{RateLimiter: deny}, testHandlers())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/alice/context", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_OptionalTurns(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(RouterConfig{}, testHandlers()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/alice/turns", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h := testHandlers()
	h.ListTurns = echoRoute("turns")
	rec = httptest.NewRecorder()
	NewRouter(RouterConfig{}, h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/alice/turns", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"route":"turns"`)
}

func TestRouter_Chat(t *testing.T) {
	h := testHandlers()
	h.Chat = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router := NewRouter(RouterConfig{}, h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/chat", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
