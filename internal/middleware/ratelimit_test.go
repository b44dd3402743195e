package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/aiox-platform/recall/internal/ratelimit"
)

func setupRateLimiter(t *testing.T, maxReqs int, window time.Duration) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := ratelimit.New(client, "ratelimit:http:", maxReqs, window)
	return RateLimit(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})), mr
}

func request(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/alice/messages", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	h, _ := setupRateLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		rec := request(h, "192.168.1.1:12345")
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
}

func TestRateLimit_BlocksOverLimit(t *testing.T) {
	h, _ := setupRateLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		request(h, "10.0.0.1:12345")
	}

	rec := request(h, "10.0.0.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimit_DifferentIPsIndependent(t *testing.T) {
	h, _ := setupRateLimiter(t, 2, time.Minute)

	request(h, "1.1.1.1:1")
	request(h, "1.1.1.1:1")

	rec := request(h, "2.2.2.2:1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_FailsOpenOnRedisError(t *testing.T) {
	h, mr := setupRateLimiter(t, 1, time.Minute)
	mr.Close()

	rec := request(h, "3.3.3.3:1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"remote addr", nil, "4.4.4.4:80", "4.4.4.4"},
		{"remote addr without port", nil, "4.4.4.4", "4.4.4.4"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "5.5.5.5, 6.6.6.6"}, "4.4.4.4:80", "5.5.5.5"},
		{"real ip", map[string]string{"X-Real-IP": "7.7.7.7"}, "4.4.4.4:80", "7.7.7.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
