package search

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/asalamnsa/cc/internal/cache"
	"github.com/asalamnsa/cc/internal/domain"
	"github.com/asalamnsa/cc/internal/metrics"
	"github.com/asalamnsa/cc/internal/telemetry"
	"github.com/asalamnsa/cc/internal/upstream"
)

const (
	DefaultSearchPerPage = 100
	DefaultListPerPage   = 20
	DefaultRelatedLimit  = 10

	maxQueryLength = 200
	maxTitleLength = 200
	maxPage        = 1000
	maxPerPage     = 100
	maxRelated     = 50
	maxVideoID     = 50

	searchEndpoint = "/api/search"
	listEndpoint   = "/api/list"
	infoEndpoint   = "/api/info"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Fetcher is the upstream surface the service depends on.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, params url.Values) upstream.Response
	FetchMany(ctx context.Context, requests []upstream.Request) []upstream.Response
}

// Diagnoser is implemented by fetchers that track per-endpoint health.
type Diagnoser interface {
	Diagnostics() []domain.UpstreamDiagnostics
}

type Service struct {
	fetcher    Fetcher
	cache      *cache.Store
	normalizer *Normalizer
	media      *mediaHosts
	logger     *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCache(store *cache.Store) ServiceOption {
	return func(s *Service) {
		s.cache = store
	}
}

func WithTitleCleaner(cleaner *TitleCleaner) ServiceOption {
	return func(s *Service) {
		if cleaner != nil {
			s.normalizer = NewNormalizer(cleaner)
		}
	}
}

// WithMediaHosts allows thumbnail downloads from these domains and their
// subdomains in addition to hosts seen in served records.
func WithMediaHosts(hosts []string) ServiceOption {
	return func(s *Service) {
		s.media = newMediaHosts(hosts)
	}
}

func NewService(fetcher Fetcher, opts ...ServiceOption) *Service {
	s := &Service{
		fetcher:    fetcher,
		normalizer: NewNormalizer(nil),
		media:      newMediaHosts(nil),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// aggregate is the cached outcome of one fan-out; paging is applied after the cache.
type aggregate struct {
	Items    []domain.Video          `json:"items"`
	Upstream []domain.UpstreamStatus `json:"upstream"`
	Degraded bool                    `json:"degraded"`
}

func degradedTTL[T any](isDegraded func(T) bool) func(T) time.Duration {
	return func(value T) time.Duration {
		if isDegraded(value) {
			return cache.TTLShort
		}
		return 0
	}
}

func (s *Service) Search(ctx context.Context, request domain.SearchRequest) (domain.SearchPage, error) {
	query := strings.Join(strings.Fields(request.Query), " ")
	if query == "" || utf8.RuneCountInString(query) > maxQueryLength {
		return domain.SearchPage{}, ErrInvalidQuery
	}
	page, err := pageOrDefault(request.Page)
	if err != nil {
		return domain.SearchPage{}, err
	}
	perPage := request.PerPage
	if perPage == 0 {
		perPage = DefaultSearchPerPage
	}
	if perPage < 1 || perPage > maxPerPage {
		return domain.SearchPage{}, ErrInvalidPerPage
	}

	key := cache.Key("search", query, strconv.Itoa(page))
	lookup := cache.Lookup[aggregate]{
		Key:     key,
		TTL:     cache.TTLLong,
		Tags:    []string{"search", searchEndpoint},
		TTLFor:  degradedTTL(func(a aggregate) bool { return a.Degraded }),
		Refresh: request.NoCache,
	}
	result, hit, err := cache.GetOrCompute(ctx, s.cache, lookup, func(ctx context.Context) (aggregate, error) {
		keywords := ExtractSearchKeywords(query)
		result := s.fanOut(ctx, "search", ExpandSearchQuery(keywords), page, keywords, nil)
		sortSearchResults(result.Items)
		return result, nil
	})
	if err != nil {
		return domain.SearchPage{}, err
	}

	total := len(result.Items)
	end := perPage
	if end > total {
		end = total
	}
	items := make([]domain.Video, 0, end)
	items = append(items, result.Items[:end]...)
	s.media.rememberVideos(items)

	return domain.SearchPage{
		Query:        query,
		Items:        items,
		TotalResults: total,
		Page:         page,
		PerPage:      perPage,
		TotalPages:   (total + perPage - 1) / perPage,
		Upstream:     result.Upstream,
		Degraded:     result.Degraded,
		CacheHit:     hit,
	}, nil
}

func (s *Service) Related(ctx context.Context, request domain.RelatedRequest) (domain.RelatedResult, error) {
	title := strings.TrimSpace(request.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		return domain.RelatedResult{}, ErrInvalidTitle
	}
	limit := request.Limit
	if limit == 0 {
		limit = DefaultRelatedLimit
	}
	if limit < 1 || limit > maxRelated {
		return domain.RelatedResult{}, ErrInvalidLimit
	}

	lookup := cache.Lookup[aggregate]{
		Key:     cache.Key("related", title, strconv.Itoa(limit)),
		TTL:     cache.TTLMedium,
		Tags:    []string{"related", "/api/related"},
		TTLFor:  degradedTTL(func(a aggregate) bool { return a.Degraded }),
		Refresh: request.NoCache,
	}
	result, hit, err := cache.GetOrCompute(ctx, s.cache, lookup, func(ctx context.Context) (aggregate, error) {
		keywords := ExtractTitleKeywords(title)
		// Padding appends random filler, so the match uses unpadded titles.
		target := s.normalizer.titles.normalize(title)
		sameTitle := func(raw rawItem) bool {
			return strings.EqualFold(s.normalizer.titles.normalize(stringField(raw, "title")), target)
		}
		result := s.fanOut(ctx, "related", ExpandTitleQuery(keywords), 1, keywords, sameTitle)

		sortRelatedResults(result.Items)
		if len(result.Items) > limit {
			result.Items = result.Items[:limit]
		}
		return result, nil
	})
	if err != nil {
		return domain.RelatedResult{}, err
	}

	s.media.rememberVideos(result.Items)
	return domain.RelatedResult{
		Title:    title,
		Items:    result.Items,
		Upstream: result.Upstream,
		Degraded: result.Degraded,
		CacheHit: hit,
	}, nil
}

// fanOut queries the search endpoint once per planned query and merges the
// normalized, scored, deduplicated results. Failed sub-queries contribute
// nothing; raw items matching exclude are dropped before normalization.
func (s *Service) fanOut(ctx context.Context, operation string, plan []string, page int, keywords []string, exclude func(rawItem) bool) aggregate {
	if len(plan) == 0 {
		return aggregate{Items: []domain.Video{}}
	}

	ctx, span := telemetry.Tracer("search").Start(ctx, "search.fanout")
	span.SetAttributes(
		attribute.String("search.operation", operation),
		attribute.Int("search.subqueries", len(plan)),
	)
	defer span.End()
	metrics.FanOutQueries.WithLabelValues(operation).Observe(float64(len(plan)))

	requests := make([]upstream.Request, len(plan))
	for i, query := range plan {
		requests[i] = upstream.Request{
			Endpoint: searchEndpoint,
			Params:   url.Values{"q": {query}, "page": {strconv.Itoa(page)}},
		}
	}
	responses := s.fetcher.FetchMany(ctx, requests)

	statuses := make([]domain.UpstreamStatus, len(plan))
	sets := make([][]domain.Video, len(plan))
	failed := 0
	for i, query := range plan {
		status := domain.UpstreamStatus{Query: query}
		var response upstream.Response
		if i < len(responses) {
			response = responses[i]
		}
		status.StatusCode = response.StatusCode

		if !response.OK() {
			failed++
			status.Error = failureMessage(response)
			statuses[i] = status
			continue
		}
		rawItems, ok := parseSearchItems(response.Body)
		if !ok {
			failed++
			status.Error = "unparsable upstream body"
			s.logger.Warn("upstream search body unparsable",
				slog.String("operation", operation),
				slog.String("query", query),
			)
			statuses[i] = status
			continue
		}

		videos := make([]domain.Video, 0, len(rawItems))
		for _, raw := range rawItems {
			if exclude != nil && exclude(raw) {
				continue
			}
			videos = append(videos, s.normalizer.Video(raw, defaultListingSource))
		}
		sets[i] = videos
		status.OK = true
		status.Count = len(videos)
		statuses[i] = status
	}

	items := Dedupe(sets...)
	scoreVideos(items, keywords)

	degraded := failed == len(plan)
	if degraded {
		s.logger.Warn("all upstream sub-queries failed",
			slog.String("operation", operation),
			slog.Int("subqueries", len(plan)),
		)
	}
	span.SetAttributes(attribute.Int("search.results", len(items)), attribute.Bool("search.degraded", degraded))
	return aggregate{Items: items, Upstream: statuses, Degraded: degraded}
}

func (s *Service) List(ctx context.Context, request domain.ListRequest) (domain.ListPage, error) {
	page, err := pageOrDefault(request.Page)
	if err != nil {
		return domain.ListPage{}, err
	}
	perPage := request.PerPage
	if perPage == 0 {
		perPage = DefaultListPerPage
	}
	if perPage < 1 || perPage > maxPerPage {
		return domain.ListPage{}, ErrInvalidPerPage
	}

	lookup := cache.Lookup[domain.ListPage]{
		Key:     cache.Key("list_files_v3", strconv.Itoa(page), strconv.Itoa(perPage)),
		TTL:     cache.TTLMedium,
		Tags:    []string{"list", listEndpoint},
		TTLFor:  degradedTTL(func(p domain.ListPage) bool { return p.Degraded }),
		Refresh: request.NoCache,
	}
	result, hit, err := cache.GetOrCompute(ctx, s.cache, lookup, func(ctx context.Context) (domain.ListPage, error) {
		response := s.fetcher.Fetch(ctx, listEndpoint, url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(perPage)},
		})
		if !response.OK() {
			return domain.ListPage{Items: []domain.Video{}, Degraded: true}, nil
		}
		rawItems, totalPages, ok := parseListItems(response.Body)
		if !ok {
			s.logger.Warn("upstream list body unparsable", slog.Int("page", page))
			return domain.ListPage{Items: []domain.Video{}, Degraded: true}, nil
		}
		videos := make([]domain.Video, 0, len(rawItems))
		for _, raw := range rawItems {
			videos = append(videos, s.normalizer.ListVideo(raw))
		}
		return domain.ListPage{Items: Dedupe(videos), TotalPages: totalPages}, nil
	})
	if err != nil {
		return domain.ListPage{}, err
	}
	result.CacheHit = hit
	s.media.rememberVideos(result.Items)
	return result, nil
}

// Video looks up one record. Missing records and upstream failures are
// returned as errors and never cached.
func (s *Service) Video(ctx context.Context, fileCode string, noCache bool) (domain.DetailResult, error) {
	fileCode = strings.TrimSpace(fileCode)
	if fileCode == "" || len(fileCode) > maxVideoID || !videoIDPattern.MatchString(fileCode) {
		return domain.DetailResult{}, ErrInvalidVideoID
	}

	lookup := cache.Lookup[domain.VideoDetails]{
		Key:     cache.Key("video", fileCode),
		TTL:     cache.TTLLong,
		Tags:    []string{"video", "/api/video"},
		Refresh: noCache,
	}
	details, hit, err := cache.GetOrCompute(ctx, s.cache, lookup, func(ctx context.Context) (domain.VideoDetails, error) {
		response := s.fetcher.Fetch(ctx, infoEndpoint, url.Values{"file_code": {fileCode}})
		if !response.OK() {
			if response.StatusCode == 404 {
				return domain.VideoDetails{}, ErrNotFound
			}
			return domain.VideoDetails{}, ErrUpstream
		}
		raw, ok := parseInfoItem(response.Body)
		if !ok {
			return domain.VideoDetails{}, ErrNotFound
		}
		return s.normalizer.Details(raw, fileCode), nil
	})
	if err != nil {
		return domain.DetailResult{}, err
	}
	s.media.remember(details.ThumbnailURL, details.SplashImageURL)
	return domain.DetailResult{Video: details, CacheHit: hit}, nil
}

// Invalidate purges every cache entry tagged with key.
func (s *Service) Invalidate(ctx context.Context, key string) (domain.CacheClearResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.CacheClearResult{}, &ValidationError{Message: "No cache key provided and action is not clear-all"}
	}
	removed := 0
	if s.cache != nil {
		var err error
		removed, err = s.cache.Invalidate(ctx, key)
		if err != nil {
			return domain.CacheClearResult{}, err
		}
	}
	return domain.CacheClearResult{
		Message:     "Cache cleared for key: " + key,
		ClearedTags: []string{key},
		Removed:     removed,
	}, nil
}

func (s *Service) InvalidateAll(ctx context.Context) (domain.CacheClearResult, error) {
	result := domain.CacheClearResult{
		Message:      "All cache cleared successfully",
		ClearedTags:  append([]string(nil), cache.PurgeTags...),
		ClearedPaths: append([]string(nil), cache.PurgePaths...),
	}
	if s.cache == nil {
		return result, nil
	}
	report, err := s.cache.InvalidateAll(ctx)
	if err != nil {
		return domain.CacheClearResult{}, err
	}
	result.Removed = report.Removed
	return result, nil
}

func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *Service) UpstreamDiagnostics() []domain.UpstreamDiagnostics {
	if diagnoser, ok := s.fetcher.(Diagnoser); ok {
		return diagnoser.Diagnostics()
	}
	return nil
}

func pageOrDefault(page int) (int, error) {
	if page == 0 {
		return 1, nil
	}
	if page < 1 || page > maxPage {
		return 0, ErrInvalidPage
	}
	return page, nil
}

func failureMessage(response upstream.Response) string {
	if response.Err != nil {
		return response.Err.Error()
	}
	return "HTTP error! status: " + strconv.Itoa(response.StatusCode)
}
