package app

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	UpstreamBaseURL        string
	UpstreamTimeout        time.Duration
	UpstreamMaxAttempts    int
	UpstreamMaxConcurrency int
	UpstreamUserAgents     []string

	RedisURL          string
	CacheDisabled     bool
	CacheMaxEntries   int
	CacheSingleFlight bool
	CacheLocalTTL     time.Duration

	TitlePadding     bool
	TitleFillerWords []string

	ThumbnailHosts []string

	RateLimitRPS   float64
	RateLimitBurst int

	OTelEndpoint string
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		UpstreamBaseURL:        getEnv("UPSTREAM_BASE_URL", "https://apifulzz.pages.dev"),
		UpstreamTimeout:        time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 15)) * time.Second,
		UpstreamMaxAttempts:    getEnvInt("UPSTREAM_MAX_ATTEMPTS", 2),
		UpstreamMaxConcurrency: getEnvInt("UPSTREAM_MAX_CONCURRENCY", 8),
		UpstreamUserAgents:     getEnvList("UPSTREAM_USER_AGENTS", "|"),

		RedisURL:          getEnv("REDIS_URL", ""),
		CacheDisabled:     getEnvBool("CACHE_DISABLED", false),
		CacheMaxEntries:   getEnvInt("CACHE_MAX_ENTRIES", 1000),
		CacheSingleFlight: getEnvBool("CACHE_SINGLE_FLIGHT", true),
		CacheLocalTTL:     time.Duration(getEnvInt("CACHE_LOCAL_TTL_SECONDS", 60)) * time.Second,

		TitlePadding:     getEnvBool("TITLE_PADDING_ENABLED", true),
		TitleFillerWords: getEnvList("TITLE_FILLER_WORDS", ","),

		ThumbnailHosts: getEnvList("THUMBNAIL_HOSTS", ","),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 100),

		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvList splits on sep and drops blank entries. User agents contain
// commas, so they use "|".
func getEnvList(key, sep string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}
