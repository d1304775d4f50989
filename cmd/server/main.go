package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	apihttp "github.com/asalamnsa/cc/internal/api/http"
	"github.com/asalamnsa/cc/internal/app"
	"github.com/asalamnsa/cc/internal/cache"
	"github.com/asalamnsa/cc/internal/metrics"
	"github.com/asalamnsa/cc/internal/search"
	"github.com/asalamnsa/cc/internal/telemetry"
	"github.com/asalamnsa/cc/internal/upstream"
)

const serviceName = "video-proxy"

func main() {
	envErr := app.LoadDotEnv(os.Getenv("ENV_FILE"))
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("env file not loaded", slog.String("error", envErr.Error()))
	}
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, telemetry.Options{Endpoint: cfg.OTelEndpoint})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("upstreamBaseURL", cfg.UpstreamBaseURL),
		slog.Duration("upstreamTimeout", cfg.UpstreamTimeout),
		slog.Int("upstreamMaxAttempts", cfg.UpstreamMaxAttempts),
		slog.Int("upstreamMaxConcurrency", cfg.UpstreamMaxConcurrency),
		slog.Int("customUserAgents", len(cfg.UpstreamUserAgents)),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
		slog.Bool("titlePadding", cfg.TitlePadding),
		slog.Int("thumbnailHosts", len(cfg.ThumbnailHosts)),
		slog.Float64("rateLimitRPS", cfg.RateLimitRPS),
	)

	upstreamClient, err := upstream.NewClient(upstream.Config{
		BaseURL:        cfg.UpstreamBaseURL,
		Timeout:        cfg.UpstreamTimeout,
		Profiles:       upstream.IdentitiesFromUserAgents(cfg.UpstreamUserAgents),
		MaxAttempts:    cfg.UpstreamMaxAttempts,
		MaxConcurrency: cfg.UpstreamMaxConcurrency,
	}, upstream.WithLogger(logger))
	if err != nil {
		logger.Error("invalid upstream configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	titleOpts := []search.TitleOption{search.WithTitlePadding(cfg.TitlePadding)}
	if len(cfg.TitleFillerWords) > 0 {
		titleOpts = append(titleOpts, search.WithFillerWords(cfg.TitleFillerWords))
	}
	videoService := search.NewService(upstreamClient,
		search.WithLogger(logger),
		search.WithCache(buildCacheStore(cfg, logger)),
		search.WithTitleCleaner(search.NewTitleCleaner(titleOpts...)),
		search.WithMediaHosts(cfg.ThumbnailHosts),
	)

	handler := apihttp.NewServer(videoService,
		apihttp.WithLogger(logger),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Fan-out may run up to the upstream timeout plus one retry backoff.
		WriteTimeout: cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("video proxy service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("upstreamTimeout", cfg.UpstreamTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("video proxy service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildCacheStore(cfg app.Config, logger *slog.Logger) *cache.Store {
	opts := []cache.Option{
		cache.WithLogger(logger),
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithSingleFlight(cfg.CacheSingleFlight),
		cache.WithLocalTTL(cfg.CacheLocalTTL),
	}
	if cfg.CacheDisabled {
		logger.Info("response cache disabled")
		return cache.NewStore(append(opts, cache.WithDisabled(true))...)
	}

	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return cache.NewStore(opts...)
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory cache only", slog.String("error", err.Error()))
		return cache.NewStore(opts...)
	}
	backend := cache.NewRedisBackend(redis.NewClient(redisOpts))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := backend.Ping(ctx); err != nil {
		logger.Warn("redis not reachable, using in-memory cache only", slog.String("error", err.Error()))
		return cache.NewStore(opts...)
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return cache.NewStore(append(opts, cache.WithRemote(backend))...)
}
