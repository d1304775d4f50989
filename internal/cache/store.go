package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asalamnsa/cc/internal/metrics"
)

const (
	TTLShort  = 60 * time.Second
	TTLMedium = time.Hour
	TTLLong   = 60 * 24 * time.Hour
)

var ErrEmptyTag = errors.New("empty cache tag")

// Tags and route paths removed by InvalidateAll. Related lookups are left alone.
var (
	PurgeTags  = []string{"search", "list", "video"}
	PurgePaths = []string{"/api/search", "/api/list", "/api/video"}
)

// Backend is one storage tier. Get reports the remaining lifetime of a hit.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	InvalidateTag(ctx context.Context, tag string) (int, error)
}

// Lookup describes one cache-aside lookup.
type Lookup[T any] struct {
	Key  string
	TTL  time.Duration
	Tags []string
	// TTLFor may shorten the lifetime for a specific value; zero keeps TTL.
	TTLFor func(T) time.Duration
	// Refresh skips the lookup but still stores the produced value.
	Refresh bool
}

type Stats struct {
	Enabled      bool  `json:"enabled"`
	Remote       bool  `json:"remote"`
	SingleFlight bool  `json:"single_flight"`
	Entries      int   `json:"entries"`
	MaxEntries   int   `json:"max_entries"`
	LocalTTL     int64 `json:"local_ttl_seconds,omitempty"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
}

type PurgeReport struct {
	Tags    []string
	Paths   []string
	Removed int
}

type Store struct {
	memory     *MemoryBackend
	remote     Backend
	disabled   bool
	group      *singleflight.Group
	logger     *slog.Logger
	maxEntries int
	localTTL   time.Duration
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRemote adds a shared second tier behind the in-memory one.
func WithRemote(backend Backend) Option {
	return func(s *Store) {
		s.remote = backend
	}
}

// WithLocalTTL caps how long the in-memory tier keeps entries while a remote
// tier is configured. Purges issued by another replica only reach the shared
// tier, so this bounds how long a replica can serve a purged entry.
func WithLocalTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.localTTL = ttl
		}
	}
}

func WithSingleFlight(enabled bool) Option {
	return func(s *Store) {
		if enabled {
			s.group = &singleflight.Group{}
		} else {
			s.group = nil
		}
	}
}

func WithDisabled(disabled bool) Option {
	return func(s *Store) {
		s.disabled = disabled
	}
}

func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		logger:     slog.Default(),
		maxEntries: defaultMaxEntries,
		localTTL:   TTLShort,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.memory = NewMemoryBackend(s.maxEntries, s.now)
	return s
}

// Key joins a prefix and ordered parameters: Key("search", "cat", "1") == "search_cat_1".
func Key(prefix string, params ...string) string {
	if len(params) == 0 {
		return prefix
	}
	return prefix + "_" + strings.Join(params, "_")
}

// GetOrCompute returns the cached value for lookup.Key or runs produce and
// stores its result. The bool reports a cache hit. Producer errors are
// returned as-is and never stored.
func GetOrCompute[T any](ctx context.Context, s *Store, lookup Lookup[T], produce func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if s == nil || s.disabled {
		value, err := produce(ctx)
		return value, false, err
	}

	if !lookup.Refresh {
		if raw, ok := s.lookup(ctx, lookup.Key); ok {
			var value T
			err := json.Unmarshal(raw, &value)
			if err == nil {
				return value, true, nil
			}
			s.logger.Warn("cache entry decode failed", slog.String("key", lookup.Key), slog.String("error", err.Error()))
		}
	}
	s.misses.Add(1)
	metrics.CacheMissesTotal.Inc()

	compute := func() (T, error) {
		value, err := produce(ctx)
		if err != nil {
			return zero, err
		}
		ttl := lookup.TTL
		if lookup.TTLFor != nil {
			if override := lookup.TTLFor(value); override > 0 {
				ttl = override
			}
		}
		s.store(ctx, lookup.Key, value, ttl, lookup.Tags)
		return value, nil
	}

	if s.group == nil {
		value, err := compute()
		if err != nil {
			return zero, false, err
		}
		return value, false, nil
	}

	shared, err, _ := s.group.Do(lookup.Key, func() (any, error) {
		return compute()
	})
	if err != nil {
		return zero, false, err
	}
	return shared.(T), false, nil
}

// entry is the stored form in every tier. Tags travel with the value so a
// remote hit can be re-indexed locally.
type entry struct {
	Tags  []string        `json:"tags"`
	Value json.RawMessage `json:"value"`
}

func (s *Store) lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	if raw, _, ok, _ := s.memory.Get(ctx, key); ok {
		var stored entry
		if err := json.Unmarshal(raw, &stored); err == nil {
			s.hits.Add(1)
			metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
			return stored.Value, true
		}
	}
	if s.remote == nil {
		return nil, false
	}

	raw, ttl, ok, err := s.remote.Get(ctx, key)
	if err != nil {
		s.logger.Warn("remote cache get failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var stored entry
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.logger.Warn("remote cache entry decode failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	s.hits.Add(1)
	metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	_ = s.memory.Set(ctx, key, raw, s.memoryTTL(ttl), withKeyTag(key, stored.Tags))
	return stored.Value, true
}

func (s *Store) store(ctx context.Context, key string, value any, ttl time.Duration, tags []string) {
	tags = withKeyTag(key, tags)
	encoded, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache entry encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	raw, err := json.Marshal(entry{Tags: tags, Value: encoded})
	if err != nil {
		s.logger.Warn("cache entry encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	_ = s.memory.Set(ctx, key, raw, s.memoryTTL(ttl), tags)
	if s.remote != nil {
		if err := s.remote.Set(ctx, key, raw, ttl, tags); err != nil {
			s.logger.Warn("remote cache set failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}

// memoryTTL is the in-memory lifetime for an entry stored with ttl. Without a
// remote tier the memory tier is authoritative and keeps the full ttl.
func (s *Store) memoryTTL(ttl time.Duration) time.Duration {
	if s.remote == nil || ttl <= s.localTTL {
		return ttl
	}
	return s.localTTL
}

// Invalidate removes every entry carrying tag from both tiers.
func (s *Store) Invalidate(ctx context.Context, tag string) (int, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return 0, ErrEmptyTag
	}

	removed, _ := s.memory.InvalidateTag(ctx, tag)
	if s.remote != nil {
		remoteRemoved, err := s.remote.InvalidateTag(ctx, tag)
		if err != nil {
			return removed, fmt.Errorf("invalidate remote tag %q: %w", tag, err)
		}
		if remoteRemoved > removed {
			removed = remoteRemoved
		}
	}
	metrics.CacheInvalidationsTotal.WithLabelValues(tag).Add(float64(removed))
	return removed, nil
}

func (s *Store) InvalidateAll(ctx context.Context) (PurgeReport, error) {
	report := PurgeReport{
		Tags:  append([]string(nil), PurgeTags...),
		Paths: append([]string(nil), PurgePaths...),
	}
	for _, tag := range append(append([]string(nil), PurgeTags...), PurgePaths...) {
		removed, err := s.Invalidate(ctx, tag)
		report.Removed += removed
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *Store) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		Enabled:      !s.disabled,
		Remote:       s.remote != nil,
		SingleFlight: s.group != nil,
		Entries:      s.memory.Len(),
		MaxEntries:   s.maxEntries,
		LocalTTL:     s.statsLocalTTL(),
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
	}
}

func (s *Store) statsLocalTTL() int64 {
	if s.remote == nil {
		return 0
	}
	return int64(s.localTTL / time.Second)
}

func withKeyTag(key string, tags []string) []string {
	out := make([]string, 0, len(tags)+1)
	seen := make(map[string]struct{}, len(tags)+1)
	for _, tag := range append([]string{key}, tags...) {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
