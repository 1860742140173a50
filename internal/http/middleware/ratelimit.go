package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// WriteLimiter caps mutating requests per client using a fixed-window counter
// in Redis. Read methods pass through untouched; the booking write path is the
// only surface that needs protection from hammering retries.
type WriteLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
}

// NewWriteLimiter constructs a limiter allowing limit mutating requests per
// window per client. A nil client disables limiting.
func NewWriteLimiter(client redis.Cmdable, limit int, window time.Duration) *WriteLimiter {
	if client == nil || limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Second
	}
	return &WriteLimiter{client: client, limit: int64(limit), window: window}
}

// Middleware applies the limit to non-read requests.
func (l *WriteLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		windowStart := time.Now().Truncate(l.window)
		key := "rl:" + clientIdentifier(r) + ":" + strconv.FormatInt(windowStart.UnixMilli(), 10)
		count, err := l.client.Incr(r.Context(), key).Result()
		if err != nil {
			// Fail open: a broken limiter must not take down the write path.
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			_ = l.client.PExpire(r.Context(), key, l.window).Err()
		}
		if count > l.limit {
			retryAfter := time.Until(windowStart.Add(l.window))
			seconds := int(retryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
