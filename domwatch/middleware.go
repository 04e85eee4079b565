package domwatch

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hazyhaar/vitrine/idgen"
)

type contextKey string

// LoggerKey is the context key of the per-request logger.
const LoggerKey contextKey = "domwatch_logger"

var traceID = idgen.Hex(4)

// SecurityHeaders sets the headers every API response carries.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// MaxBody limits request bodies to maxBytes.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TraceID tags each request with a random id, echoed in X-Trace-ID, and
// stores a logger carrying it in the request context.
func TraceID(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := traceID()
			w.Header().Set("X-Trace-ID", id)
			logger := base.With("trace_id", id, "method", r.Method, "path", r.URL.Path)
			logger.Debug("request", "remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), LoggerKey, logger)))
		})
	}
}

// GetLogger returns the request logger, or slog.Default.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// RateLimiter counts requests per client IP in fixed windows. Expired
// windows are dropped by the cache janitor.
type RateLimiter struct {
	max    int
	window time.Duration
	mu     sync.Mutex
	counts *cache.Cache
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{max: max, window: window, counts: cache.New(window, 2*window)}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n, ok := rl.counts.Get(ip)
	if !ok {
		rl.counts.Set(ip, 1, rl.window)
		return true
	}
	if n.(int) >= rl.max {
		return false
	}
	// Increment keeps the window's original expiry.
	if err := rl.counts.Increment(ip, 1); err != nil {
		rl.counts.Set(ip, 1, rl.window)
	}
	return true
}

// Middleware limits state-changing requests. Reads pass through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if !rl.allow(ip) {
			GetLogger(r.Context()).Warn("domwatch: rate limited", "ip", ip)
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP reads the first X-Forwarded-For hop, then RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
