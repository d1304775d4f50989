package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/asalamnsa/cc/internal/cache"
	"github.com/asalamnsa/cc/internal/domain"
	"github.com/asalamnsa/cc/internal/upstream"
)

type fakeFetcher struct {
	mu         sync.Mutex
	calls      []upstream.Request
	responder  func(endpoint string, params url.Values) upstream.Response
	mediaCalls []string
	mediaErr   error
}

func (f *fakeFetcher) FetchMedia(_ context.Context, target *url.URL) (upstream.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaCalls = append(f.mediaCalls, target.String())
	if f.mediaErr != nil {
		return upstream.Media{}, f.mediaErr
	}
	return upstream.Media{ContentType: "image/jpeg", Body: []byte("jpeg")}, nil
}

func (f *fakeFetcher) Fetch(_ context.Context, endpoint string, params url.Values) upstream.Response {
	f.mu.Lock()
	f.calls = append(f.calls, upstream.Request{Endpoint: endpoint, Params: params})
	f.mu.Unlock()
	return f.responder(endpoint, params)
}

func (f *fakeFetcher) FetchMany(ctx context.Context, requests []upstream.Request) []upstream.Response {
	responses := make([]upstream.Response, len(requests))
	for i, req := range requests {
		responses[i] = f.Fetch(ctx, req.Endpoint, req.Params)
	}
	return responses
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) Diagnostics() []domain.UpstreamDiagnostics {
	return []domain.UpstreamDiagnostics{{Endpoint: "/api/search"}}
}

func okBody(body string) upstream.Response {
	return upstream.Response{Body: body, StatusCode: 200}
}

func searchBody(items ...string) string {
	return `{"status":200,"result":[` + strings.Join(items, ",") + `]}`
}

func item(code, title string, views int) string {
	return fmt.Sprintf(`{"file_code":%q,"title":%q,"views":%d,"uploaded":"2024-01-01 00:00:00"}`, code, title, views)
}

func newTestService(fetcher Fetcher, opts ...ServiceOption) *Service {
	base := []ServiceOption{
		WithCache(cache.NewStore()),
		WithTitleCleaner(NewTitleCleaner(WithTitlePadding(false))),
	}
	return NewService(fetcher, append(base, opts...)...)
}

func TestSearchFansOutAndRanks(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(_ string, params url.Values) upstream.Response {
		switch params.Get("q") {
		case "big buck":
			return okBody(searchBody(item("a", "Big Buck", 5), item("b", "Buck", 1)))
		case "big":
			return okBody(searchBody(item("b", "Buck", 1), item("c", "Big", 100), item("", "No Code", 1)))
		default:
			return okBody(searchBody())
		}
	}}
	svc := newTestService(fetcher)

	page, err := svc.Search(context.Background(), domain.SearchRequest{Query: "Big  Buck"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if fetcher.callCount() != 2 {
		t.Fatalf("expected 2 sub-queries, got %d", fetcher.callCount())
	}
	if got := codes(page.Items); strings.Join(got, ",") != "a,c,b" {
		t.Fatalf("unexpected order %v", got)
	}
	if page.Items[0].RelevanceScore() != 2 {
		t.Fatalf("expected relevance 2 for first item, got %d", page.Items[0].RelevanceScore())
	}
	if page.TotalResults != 3 || page.TotalPages != 1 || page.PerPage != DefaultSearchPerPage || page.Page != 1 {
		t.Fatalf("unexpected paging %+v", page)
	}
	if page.Degraded {
		t.Fatal("expected healthy result")
	}
	for _, call := range fetcher.calls {
		if call.Endpoint != "/api/search" || call.Params.Get("page") != "1" {
			t.Fatalf("unexpected upstream call %+v", call)
		}
	}
}

func TestSearchPerPageLimitsItemsNotTotals(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(string, url.Values) upstream.Response {
		return okBody(searchBody(item("a", "x", 1), item("b", "x", 2), item("c", "x", 3)))
	}}
	svc := newTestService(fetcher)

	page, err := svc.Search(context.Background(), domain.SearchRequest{Query: "x", PerPage: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Items) != 2 || page.TotalResults != 3 || page.TotalPages != 2 {
		t.Fatalf("unexpected paging %+v", page)
	}
}

func TestSearchSurvivesOneFailedSubQuery(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(_ string, params url.Values) upstream.Response {
		switch params.Get("q") {
		case "big":
			return upstream.Response{Err: context.DeadlineExceeded}
		case "big buck bunny":
			return okBody(searchBody(item("a", "Big Buck Bunny", 1)))
		default:
			return okBody(searchBody(item("b", "Big Buck", 1)))
		}
	}}
	svc := newTestService(fetcher)

	page, err := svc.Search(context.Background(), domain.SearchRequest{Query: "big buck bunny"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected results from the healthy sub-queries, got %v", codes(page.Items))
	}
	if page.Degraded {
		t.Fatal("partial failure must not mark the result degraded")
	}
	failed := 0
	for _, status := range page.Upstream {
		if !status.OK {
			failed++
			if status.StatusCode != 0 || status.Error == "" {
				t.Fatalf("unexpected failed status %+v", status)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("expected one failed sub-query, got %d", failed)
	}
}

func TestSearchAllFailedIsDegradedAndShortLived(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(string, url.Values) upstream.Response {
		return upstream.Response{StatusCode: 503, Err: errors.New("HTTP error! status: 503")}
	}}
	svc := newTestService(fetcher)

	page, err := svc.Search(context.Background(), domain.SearchRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("expected empty success, got %v", err)
	}
	if !page.Degraded || len(page.Items) != 0 || page.TotalPages != 0 {
		t.Fatalf("unexpected degraded page %+v", page)
	}
}

func TestSearchUnparsableBodyIsEmptyContribution(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(_ string, params url.Values) upstream.Response {
		if params.Get("q") == "a b" {
			return okBody("<html>oops</html>")
		}
		return okBody(searchBody(item("z", "A", 1)))
	}}
	svc := newTestService(fetcher)

	page, err := svc.Search(context.Background(), domain.SearchRequest{Query: "a b"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Items) != 1 || page.Degraded {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestSearchCachesResult(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(string, url.Values) upstream.Response {
		return okBody(searchBody(item("a", "Cat", 1)))
	}}
	svc := newTestService(fetcher)
	ctx := context.Background()

	first, _ := svc.Search(ctx, domain.SearchRequest{Query: "cat"})
	calls := fetcher.callCount()
	second, err := svc.Search(ctx, domain.SearchRequest{Query: "CAT", PerPage: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if fetcher.callCount() != calls {
		t.Fatal("expected second search to be served from cache")
	}
	if first.CacheHit || !second.CacheHit {
		t.Fatalf("unexpected cache flags %v %v", first.CacheHit, second.CacheHit)
	}

	_, _ = svc.Search(ctx, domain.SearchRequest{Query: "cat", NoCache: true})
	if fetcher.callCount() == calls {
		t.Fatal("expected NoCache to reach upstream")
	}
}

func TestSearchValidationNeverReachesUpstream(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(string, url.Values) upstream.Response { return okBody(searchBody()) }}
	svc := newTestService(fetcher)
	ctx := context.Background()

	cases := []struct {
		request domain.SearchRequest
		want    error
	}{
		{domain.SearchRequest{Query: "   "}, ErrInvalidQuery},
		{domain.SearchRequest{Query: strings.Repeat("x", 201)}, ErrInvalidQuery},
		{domain.SearchRequest{Query: "ok", Page: 1001}, ErrInvalidPage},
		{domain.SearchRequest{Query: "ok", Page: -1}, ErrInvalidPage},
		{domain.SearchRequest{Query: "ok", PerPage: 101}, ErrInvalidPerPage},
	}
	for _, tc := range cases {
		_, err := svc.Search(ctx, tc.request)
		if !errors.Is(err, tc.want) || !errors.Is(err, ErrValidation) {
			t.Fatalf("request %+v: expected %v, got %v", tc.request, tc.want, err)
		}
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("validation must not reach upstream, calls=%d", fetcher.callCount())
	}
}

func TestRelatedExcludesExactTitleAndCaps(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(_ string, params url.Values) upstream.Response {
		return okBody(searchBody(
			item("self", "Big Buck Bunny", 1000),
			item("r1", "Big Buck", 10),
			item("r2", "Bunny", 50),
			item("r3", "Buck Bunny Big Night", 1),
			item("r4", "Unrelated", 999),
		))
	}}
	svc := newTestService(fetcher)

	result, err := svc.Related(context.Background(), domain.RelatedRequest{Title: "big buck bunny", Limit: 3})
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if fetcher.callCount() != 4 {
		t.Fatalf("expected 4 sub-queries, got %d", fetcher.callCount())
	}
	if got := strings.Join(codes(result.Items), ","); got != "r3,r1,r2" {
		t.Fatalf("unexpected related order %s", got)
	}
}

func TestRelatedWithoutKeywordsSkipsUpstream(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(string, url.Values) upstream.Response { return okBody(searchBody()) }}
	svc := newTestService(fetcher)

	result, err := svc.Related(context.Background(), domain.RelatedRequest{Title: "a 1 of"})
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(result.Items) != 0 || fetcher.callCount() != 0 {
		t.Fatalf("expected empty result without upstream calls, got %d items and %d calls", len(result.Items), fetcher.callCount())
	}
}

func TestRelatedValidation(t *testing.T) {
	svc := newTestService(&fakeFetcher{})
	ctx := context.Background()
	if _, err := svc.Related(ctx, domain.RelatedRequest{Title: ""}); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}
	if _, err := svc.Related(ctx, domain.RelatedRequest{Title: "ok", Limit: 51}); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestListUsesUpstreamTotalPages(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(endpoint string, params url.Values) upstream.Response {
		if endpoint != "/api/list" || params.Get("page") != "2" || params.Get("per_page") != "20" {
			t.Errorf("unexpected call %s %v", endpoint, params)
		}
		return okBody(`{"result":{"total_pages":9,"files":[` + item("a", "A", 1) + `,` + item("a", "A again", 1) + `,` + item("b", "B", 1) + `]}}`)
	}}
	svc := newTestService(fetcher)

	page, err := svc.List(context.Background(), domain.ListRequest{Page: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.TotalPages != 9 || len(page.Items) != 2 {
		t.Fatalf("unexpected list page %+v", page)
	}
	if page.Items[0].SourceTag != "doodstream" || page.Items[0].FolderID != "0" {
		t.Fatalf("unexpected defaults %+v", page.Items[0])
	}
	if page.Items[0].Relevance != nil {
		t.Fatal("list items must not carry relevance")
	}
}

func TestListUpstreamFailureIsEmpty(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(string, url.Values) upstream.Response {
		return upstream.Response{Err: errors.New("boom")}
	}}
	svc := newTestService(fetcher)

	page, err := svc.List(context.Background(), domain.ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !page.Degraded || page.TotalPages != 0 || len(page.Items) != 0 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestVideoLookupAndCaching(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(_ string, params url.Values) upstream.Response {
		return okBody(`{"result":[{"title":"Big Buck Bunny","api_source":"doodapi","length":60}]}`)
	}}
	svc := newTestService(fetcher)
	ctx := context.Background()

	result, err := svc.Video(ctx, "abc_1-2", false)
	if err != nil {
		t.Fatalf("video: %v", err)
	}
	if result.Video.FileCode != "abc_1-2" || result.Video.ProtectedDownload != "https://doodstream.com/d/abc_1-2" {
		t.Fatalf("unexpected details %+v", result.Video)
	}
	if result.Video.Duration != "00:01:00" {
		t.Fatalf("unexpected duration %q", result.Video.Duration)
	}

	again, _ := svc.Video(ctx, "abc_1-2", false)
	if !again.CacheHit || fetcher.callCount() != 1 {
		t.Fatalf("expected cached lookup, hit=%v calls=%d", again.CacheHit, fetcher.callCount())
	}
}

func TestVideoNotFoundIsNotCached(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(string, url.Values) upstream.Response {
		return okBody(`{"result":[]}`)
	}}
	svc := newTestService(fetcher)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Video(ctx, "missing", false); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if fetcher.callCount() != 2 {
		t.Fatalf("expected not-found to bypass the cache, calls=%d", fetcher.callCount())
	}
}

func TestVideoUpstreamErrors(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(_ string, params url.Values) upstream.Response {
		if params.Get("file_code") == "gone" {
			return upstream.Response{StatusCode: 404, Err: errors.New("HTTP error! status: 404")}
		}
		return upstream.Response{Err: context.DeadlineExceeded}
	}}
	svc := newTestService(fetcher)
	ctx := context.Background()

	if _, err := svc.Video(ctx, "gone", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Video(ctx, "slow", false); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestVideoIDValidation(t *testing.T) {
	svc := newTestService(&fakeFetcher{})
	for _, id := range []string{"", "   ", "has space", "semi;colon", strings.Repeat("a", 51)} {
		if _, err := svc.Video(context.Background(), id, false); !errors.Is(err, ErrInvalidVideoID) {
			t.Fatalf("id %q: expected ErrInvalidVideoID, got %v", id, err)
		}
	}
}

func TestInvalidateAndInvalidateAll(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(endpoint string, _ url.Values) upstream.Response {
		if endpoint == "/api/list" {
			return okBody(`{"result":{"files":[` + item("a", "A", 1) + `]}}`)
		}
		return okBody(searchBody(item("a", "A", 1)))
	}}
	svc := newTestService(fetcher)
	ctx := context.Background()

	_, _ = svc.Search(ctx, domain.SearchRequest{Query: "a"})
	_, _ = svc.List(ctx, domain.ListRequest{})
	_, _ = svc.Related(ctx, domain.RelatedRequest{Title: "alpha"})

	cleared, err := svc.Invalidate(ctx, cache.Key("search", "a", "1"))
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if cleared.Removed != 1 || cleared.Message != "Cache cleared for key: search_a_1" {
		t.Fatalf("unexpected clear result %+v", cleared)
	}
	if _, err := svc.Invalidate(ctx, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	all, err := svc.InvalidateAll(ctx)
	if err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if all.Removed != 1 || len(all.ClearedTags) != 3 || len(all.ClearedPaths) != 3 {
		t.Fatalf("unexpected bulk clear %+v", all)
	}
	if svc.CacheStats().Entries != 1 {
		t.Fatalf("expected the related entry to survive, stats=%+v", svc.CacheStats())
	}
}

func TestInvalidateByDocumentedKeys(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(endpoint string, _ url.Values) upstream.Response {
		if endpoint == "/api/list" {
			return okBody(`{"result":{"files":[` + item("a", "A", 1) + `]}}`)
		}
		return okBody(searchBody(item("a", "Big Buck Bunny Trailer", 1)))
	}}
	svc := newTestService(fetcher)
	ctx := context.Background()

	_, _ = svc.List(ctx, domain.ListRequest{Page: 1, PerPage: 20})
	_, _ = svc.Search(ctx, domain.SearchRequest{Query: "Big  Buck"})
	_, _ = svc.Related(ctx, domain.RelatedRequest{Title: "Big Buck Bunny", Limit: 5})

	for _, key := range []string{"list_files_v3_1_20", "search_Big Buck_1", "related_Big Buck Bunny_5"} {
		cleared, err := svc.Invalidate(ctx, key)
		if err != nil {
			t.Fatalf("invalidate %s: %v", key, err)
		}
		if cleared.Removed != 1 {
			t.Fatalf("expected %s to remove one entry, got %+v", key, cleared)
		}
	}

	page, err := svc.List(ctx, domain.ListRequest{Page: 1, PerPage: 20})
	if err != nil || page.CacheHit {
		t.Fatalf("expected a fresh list after purge, hit=%v err=%v", page.CacheHit, err)
	}
}

func TestRelatedExcludesSelfWhenTitlesArePadded(t *testing.T) {
	fetcher := &fakeFetcher{responder: func(string, url.Values) upstream.Response {
		return okBody(searchBody(
			item("self", "Big Buck Bunny (2008)", 1000),
			item("r1", "Big Buck", 10),
		))
	}}
	svc := newTestService(fetcher, WithTitleCleaner(NewTitleCleaner()))

	result, err := svc.Related(context.Background(), domain.RelatedRequest{Title: "big buck bunny"})
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if got := strings.Join(codes(result.Items), ","); got != "r1" {
		t.Fatalf("expected only r1, got %s", got)
	}
	if words := strings.Fields(result.Items[0].Title); len(words) != paddedTitleWords {
		t.Fatalf("expected padded title, got %q", result.Items[0].Title)
	}
}

func TestUpstreamDiagnosticsPassThrough(t *testing.T) {
	svc := newTestService(&fakeFetcher{})
	if got := svc.UpstreamDiagnostics(); len(got) != 1 {
		t.Fatalf("expected diagnostics from fetcher, got %v", got)
	}
}
