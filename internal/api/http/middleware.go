package apihttp

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/asalamnsa/cc/internal/metrics"
)

// statusRecorder captures what a handler wrote so the access log and the
// route metrics can report it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// cacheResult is the X-Cache outcome set by the handler, or "" for routes
// that are not served from the response cache.
func (rw *statusRecorder) cacheResult() string {
	return strings.ToLower(rw.Header().Get("X-Cache"))
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newStatusRecorder(w)
		next.ServeHTTP(rw, r)

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", normalizeRoute(r.URL.Path)),
			slog.Int("status", rw.status),
			slog.Int("bytes", rw.size),
			slog.Int64("durationMs", time.Since(start).Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		if result := rw.cacheResult(); result != "" {
			attrs = append(attrs, slog.String("cache", result))
		}
		if rawQuery := strings.TrimSpace(r.URL.RawQuery); rawQuery != "" {
			attrs = append(attrs, slog.String("query", truncate(rawQuery, 180)))
		}
		if userAgent := strings.TrimSpace(r.UserAgent()); userAgent != "" {
			attrs = append(attrs, slog.String("userAgent", truncate(userAgent, 120)))
		}
		logger.LogAttrs(r.Context(), pickRequestLogLevel(r.URL.Path, rw.status), "api request", attrs...)
	})
}

// recoveryMiddleware turns a handler panic into the generic 500 body used for
// every unexpected failure, so no internal detail reaches the client.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			logger.Error("handler panic",
				slog.Any("panic", recovered),
				slog.String("method", r.Method),
				slog.String("route", normalizeRoute(r.URL.Path)),
				slog.String("clientIP", clientIP(r)),
				slog.String("stack", string(debug.Stack())),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request counts and latency per route, plus the
// cache outcome of routes backed by the response cache.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := newStatusRecorder(w)
		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if result := rw.cacheResult(); result != "" {
			metrics.HTTPCacheResultsTotal.WithLabelValues(route, result).Inc()
		}
	})
}

// apiHeadersMiddleware adds CORS and per-route Cache-Control to /api/ responses
// and answers CORS preflight requests directly.
func apiHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-None-Match")
		header.Set("Access-Control-Expose-Headers", "ETag, X-Cache, X-RateLimit-Limit, X-RateLimit-Remaining")
		header.Set("Cache-Control", cacheControlFor(r.URL.Path))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func cacheControlFor(path string) string {
	switch {
	case strings.Contains(path, "/search"), strings.Contains(path, "/list"), strings.Contains(path, "/related"):
		return "public, max-age=300, s-maxage=300"
	case strings.Contains(path, "/info"):
		return "public, max-age=60"
	case strings.Contains(path, "/cache"), strings.Contains(path, "/upstream"):
		return "no-cache, no-store, must-revalidate"
	default:
		return "public, max-age=300, s-maxage=300"
	}
}

func normalizeRoute(path string) string {
	switch path {
	case "/health", "/metrics",
		"/api/search", "/api/list", "/api/related", "/api/info",
		"/api/cache", "/api/upstream/health", "/api/thumbnail":
		return path
	default:
		return "/other"
	}
}

// pickRequestLogLevel keeps health checks and revalidations out of the info log.
// A missing video is an ordinary answer, not a client mistake.
func pickRequestLogLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status == http.StatusNotFound && path == "/api/info":
		return slog.LevelInfo
	case status >= 400:
		return slog.LevelWarn
	case status == http.StatusNotModified, path == "/health", path == "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
			return strings.TrimSpace(parts[0])
		}
	}
	if xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); xRealIP != "" {
		return xRealIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

// rateLimitMiddleware applies a global token-bucket rate limiter and reports
// the bucket state on /api/ responses. Requests over the limit get HTTP 429.
func rateLimitMiddleware(rps float64, burst int, next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		allowed := limiter.Allow()
		if strings.HasPrefix(r.URL.Path, "/api/") {
			remaining := int(limiter.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		if !allowed {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
