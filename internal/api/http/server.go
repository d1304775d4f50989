package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/asalamnsa/cc/internal/cache"
	"github.com/asalamnsa/cc/internal/domain"
	"github.com/asalamnsa/cc/internal/search"
	"github.com/asalamnsa/cc/internal/upstream"
)

type VideoService interface {
	Search(ctx context.Context, request domain.SearchRequest) (domain.SearchPage, error)
	List(ctx context.Context, request domain.ListRequest) (domain.ListPage, error)
	Related(ctx context.Context, request domain.RelatedRequest) (domain.RelatedResult, error)
	Video(ctx context.Context, fileCode string, noCache bool) (domain.DetailResult, error)
	Invalidate(ctx context.Context, key string) (domain.CacheClearResult, error)
	InvalidateAll(ctx context.Context) (domain.CacheClearResult, error)
	CacheStats() cache.Stats
	UpstreamDiagnostics() []domain.UpstreamDiagnostics
	Thumbnail(ctx context.Context, rawURL string) (upstream.Media, error)
}

type Server struct {
	videos    VideoService
	logger    *slog.Logger
	now       func() time.Time
	rateRPS   float64
	rateBurst int
}

const serverTimeLayout = "2006-01-02 15:04:05"

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRateLimit sets the global token bucket; non-positive values keep the defaults.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.rateRPS = rps
		}
		if burst > 0 {
			s.rateBurst = burst
		}
	}
}

func NewServer(videos VideoService, options ...ServerOption) *Server {
	server := &Server{
		videos:    videos,
		logger:    slog.Default(),
		now:       time.Now,
		rateRPS:   50,
		rateBurst: 100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/list", s.handleList)
	mux.HandleFunc("/api/related", s.handleRelated)
	mux.HandleFunc("/api/info", s.handleInfo)
	mux.HandleFunc("/api/cache", s.handleCache)
	mux.HandleFunc("/api/upstream/health", s.handleUpstreamHealth)
	mux.HandleFunc("/api/thumbnail", s.handleThumbnail)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, apiHeadersMiddleware(mux)), "video-proxy",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(traced)))
}

type searchEnvelope struct {
	ServerTime   string         `json:"server_time"`
	Status       int            `json:"status"`
	Msg          string         `json:"msg"`
	Result       []domain.Video `json:"result"`
	TotalResults int            `json:"total_results"`
	Page         int            `json:"page"`
	PerPage      int            `json:"per_page"`
	TotalPages   int            `json:"total_pages"`
	Degraded     bool           `json:"degraded,omitempty"`
}

type listResult struct {
	TotalPages   int            `json:"total_pages"`
	Files        []domain.Video `json:"files"`
	ResultsTotal string         `json:"results_total"`
	Results      int            `json:"results"`
}

type listEnvelope struct {
	Msg        string     `json:"msg"`
	ServerTime string     `json:"server_time"`
	Status     int        `json:"status"`
	Result     listResult `json:"result"`
	Degraded   bool       `json:"degraded,omitempty"`
}

type relatedEnvelope struct {
	Success  bool           `json:"success"`
	Data     []domain.Video `json:"data"`
	Error    string         `json:"error,omitempty"`
	CacheHit bool           `json:"cache_hit"`
}

type infoEnvelope struct {
	Status     int                   `json:"status"`
	Result     []domain.VideoDetails `json:"result"`
	ServerTime string                `json:"server_time"`
	Msg        string                `json:"msg"`
}

type cacheEnvelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("q")
	fail := func(status int, message string) {
		writeJSON(w, status, searchEnvelope{
			ServerTime: s.serverTime(),
			Status:     status,
			Msg:        message,
			Result:     []domain.Video{},
		})
	}

	page, err := parsePositiveInt(r, "page", 0)
	if err != nil {
		fail(http.StatusBadRequest, search.ErrInvalidPage.Error())
		return
	}
	perPage, err := parsePositiveInt(r, "per_page", 0)
	if err != nil {
		fail(http.StatusBadRequest, search.ErrInvalidPerPage.Error())
		return
	}

	result, err := s.videos.Search(r.Context(), domain.SearchRequest{
		Query:   query,
		Page:    page,
		PerPage: perPage,
		NoCache: parseNoCache(r),
	})
	if err != nil {
		status, message := s.mapError("search", err, slog.String("query", truncate(query, 80)))
		fail(status, message)
		return
	}

	s.logger.Info("search completed",
		slog.String("query", truncate(result.Query, 80)),
		slog.Int("totalResults", result.TotalResults),
		slog.Bool("cacheHit", result.CacheHit),
		slog.Bool("degraded", result.Degraded),
	)
	setCacheStatus(w, result.CacheHit)
	writeJSON(w, http.StatusOK, searchEnvelope{
		ServerTime:   s.serverTime(),
		Status:       http.StatusOK,
		Msg:          "OK",
		Result:       nonNilVideos(result.Items),
		TotalResults: result.TotalResults,
		Page:         result.Page,
		PerPage:      result.PerPage,
		TotalPages:   result.TotalPages,
		Degraded:     result.Degraded,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fail := func(status int, message string) {
		writeJSON(w, status, listEnvelope{
			Msg:        message,
			ServerTime: s.serverTime(),
			Status:     status,
			Result:     listResult{Files: []domain.Video{}, ResultsTotal: "0"},
		})
	}

	page, err := parsePositiveInt(r, "page", 0)
	if err != nil {
		fail(http.StatusBadRequest, search.ErrInvalidPage.Error())
		return
	}
	perPage, err := parsePositiveInt(r, "per_page", 0)
	if err != nil {
		fail(http.StatusBadRequest, search.ErrInvalidPerPage.Error())
		return
	}

	result, err := s.videos.List(r.Context(), domain.ListRequest{Page: page, PerPage: perPage, NoCache: parseNoCache(r)})
	if err != nil {
		status, message := s.mapError("list", err, slog.Int("page", page))
		fail(status, message)
		return
	}

	files := nonNilVideos(result.Items)
	setCacheStatus(w, result.CacheHit)
	writeJSON(w, http.StatusOK, listEnvelope{
		Msg:        "OK",
		ServerTime: s.serverTime(),
		Status:     http.StatusOK,
		Result: listResult{
			TotalPages:   result.TotalPages,
			Files:        files,
			ResultsTotal: strconv.Itoa(len(files)),
			Results:      len(files),
		},
		Degraded: result.Degraded,
	})
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	title := r.URL.Query().Get("title")
	fail := func(status int, message string) {
		writeJSON(w, status, relatedEnvelope{Error: message, Data: []domain.Video{}})
	}

	limit, err := parsePositiveInt(r, "limit", 0)
	if err != nil {
		fail(http.StatusBadRequest, search.ErrInvalidLimit.Error())
		return
	}

	result, err := s.videos.Related(r.Context(), domain.RelatedRequest{Title: title, Limit: limit, NoCache: parseNoCache(r)})
	if err != nil {
		status, message := s.mapError("related", err, slog.String("title", truncate(title, 80)))
		fail(status, message)
		return
	}

	setCacheStatus(w, result.CacheHit)
	writeJSON(w, http.StatusOK, relatedEnvelope{
		Success:  true,
		Data:     nonNilVideos(result.Items),
		CacheHit: result.CacheHit,
	})
}

// handleInfo serves one record with a content validator. A matching
// If-None-Match yields 304 with no body.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fileCode := r.URL.Query().Get("file_code")
	fail := func(status int, message string) {
		writeJSON(w, status, infoEnvelope{
			Status:     status,
			Result:     []domain.VideoDetails{},
			ServerTime: s.serverTime(),
			Msg:        message,
		})
	}

	result, err := s.videos.Video(r.Context(), fileCode, parseNoCache(r))
	if err != nil {
		status, message := s.mapError("info", err, slog.String("fileCode", truncate(fileCode, 60)))
		fail(status, message)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=60")
	if etag, err := search.Fingerprint(result.Video); err == nil {
		w.Header().Set("ETag", etag)
		if search.MatchesETag(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	} else {
		s.logger.Warn("etag computation failed", slog.String("fileCode", fileCode), slog.String("error", err.Error()))
	}

	setCacheStatus(w, result.CacheHit)
	writeJSON(w, http.StatusOK, infoEnvelope{
		Status:     http.StatusOK,
		Result:     []domain.VideoDetails{result.Video},
		ServerTime: s.serverTime(),
		Msg:        "OK",
	})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, cacheEnvelope{
			Success: true,
			Data: map[string]any{
				"cache_system": "in-memory L1 with optional redis L2",
				"available_operations": []string{
					"DELETE /api/cache?key=<cache_key> - Clear specific cache",
					"DELETE /api/cache?action=clear-all - Clear all cache",
				},
				"cache_durations": map[string]string{
					"SHORT":  domain.DurationLabel(cache.TTLShort),
					"MEDIUM": domain.DurationLabel(cache.TTLMedium),
					"LONG":   domain.DurationLabel(cache.TTLLong),
				},
				"stats": s.videos.CacheStats(),
			},
		})
	case http.MethodDelete:
		query := r.URL.Query()
		var (
			result domain.CacheClearResult
			err    error
		)
		if strings.TrimSpace(query.Get("action")) == "clear-all" {
			result, err = s.videos.InvalidateAll(r.Context())
		} else {
			result, err = s.videos.Invalidate(r.Context(), query.Get("key"))
		}
		if err != nil {
			if errors.Is(err, search.ErrValidation) {
				writeJSON(w, http.StatusBadRequest, cacheEnvelope{
					Error: err.Error(),
					Data:  map[string]string{"message": "Invalid request"},
				})
				return
			}
			s.logger.Error("cache invalidation failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, cacheEnvelope{
				Error: "Internal server error",
				Data:  map[string]string{"message": "Failed to clear cache"},
			})
			return
		}
		s.logger.Info("cache cleared",
			slog.Any("tags", result.ClearedTags),
			slog.Any("paths", result.ClearedPaths),
			slog.Int("removed", result.Removed),
		)
		writeJSON(w, http.StatusOK, cacheEnvelope{Success: true, Data: result})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUpstreamHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items := s.videos.UpstreamDiagnostics()
	if items == nil {
		items = []domain.UpstreamDiagnostics{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": s.now().UTC(),
		"items":     items,
	})
}

// mapError logs a failed service call and picks the status and client message.
// Unexpected errors never leak their text.
func (s *Server) mapError(operation string, err error, attrs ...slog.Attr) (int, string) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	switch {
	case errors.Is(err, search.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, search.ErrNotFound):
		status, message = http.StatusNotFound, "Video not found"
	case errors.Is(err, search.ErrUpstream):
		status, message = http.StatusBadGateway, "Upstream service unavailable"
	}

	level := slog.LevelWarn
	if status == http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs = append(attrs, slog.String("operation", operation), slog.Int("status", status), slog.String("error", err.Error()))
	s.logger.LogAttrs(context.Background(), level, "request failed", attrs...)
	return status, message
}

func (s *Server) serverTime() string {
	return s.now().UTC().Format(serverTimeLayout)
}

func setCacheStatus(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
		return
	}
	w.Header().Set("X-Cache", "MISS")
}

func nonNilVideos(items []domain.Video) []domain.Video {
	if items == nil {
		return []domain.Video{}
	}
	return items
}

func parseNoCache(r *http.Request) bool {
	return parseOptionalBool(r.URL.Query().Get("nocache")) || parseOptionalBool(r.URL.Query().Get("noCache"))
}

// parsePositiveInt returns fallback for an absent parameter and an error for
// anything present that is not a positive integer.
func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	values, present := r.URL.Query()[key]
	if !present {
		return fallback, nil
	}
	raw := ""
	if len(values) > 0 {
		raw = strings.TrimSpace(values[0])
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
