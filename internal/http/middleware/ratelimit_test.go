package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	ratelimitmw "github.com/example/seatlite/internal/http/middleware"
)

func newLimitedHandler(t *testing.T, limit int, window time.Duration) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimitmw.NewWriteLimiter(client, limit, window)
	require.NotNil(t, limiter)
	return limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func doRequest(handler http.Handler, method, clientID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/v1/bookings", nil)
	req.Header.Set("X-Client-ID", clientID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWriteLimiterCapsMutatingRequests(t *testing.T) {
	handler := newLimitedHandler(t, 2, time.Minute)

	require.Equal(t, http.StatusOK, doRequest(handler, http.MethodPost, "alice").Code)
	require.Equal(t, http.StatusOK, doRequest(handler, http.MethodPost, "alice").Code)

	rec := doRequest(handler, http.MethodPost, "alice")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestWriteLimiterIsPerClient(t *testing.T) {
	handler := newLimitedHandler(t, 1, time.Minute)

	require.Equal(t, http.StatusOK, doRequest(handler, http.MethodPost, "alice").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(handler, http.MethodPost, "alice").Code)
	require.Equal(t, http.StatusOK, doRequest(handler, http.MethodPost, "bob").Code)
}

func TestWriteLimiterIgnoresReads(t *testing.T) {
	handler := newLimitedHandler(t, 1, time.Minute)

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, doRequest(handler, http.MethodGet, "alice").Code)
	}
}

func TestWriteLimiterFailsOpenOnRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimitmw.NewWriteLimiter(client, 1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	mr.Close()
	require.Equal(t, http.StatusOK, doRequest(handler, http.MethodPost, "alice").Code)
}

func TestNewWriteLimiterDisabledWithoutRedisOrLimit(t *testing.T) {
	require.Nil(t, ratelimitmw.NewWriteLimiter(nil, 10, time.Second))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.Nil(t, ratelimitmw.NewWriteLimiter(client, 0, time.Second))
}
