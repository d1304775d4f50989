package search

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asalamnsa/cc/internal/domain"
	"github.com/asalamnsa/cc/internal/upstream"
)

const defaultMaxMediaHosts = 256

var (
	ErrInvalidThumbnail = &ValidationError{Message: "Thumbnail url must be an absolute http or https url"}
	ErrUnknownMediaHost = &ValidationError{Message: "Thumbnail host is not used by any served video"}
)

// MediaFetcher is implemented by fetchers that can download record images.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, target *url.URL) (upstream.Media, error)
}

// mediaHosts remembers the image hosts of records handed to clients, so the
// thumbnail proxy only reaches hosts the upstream itself pointed at.
type mediaHosts struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	static   []string
	maxHosts int
	now      func() time.Time
}

func newMediaHosts(static []string) *mediaHosts {
	m := &mediaHosts{
		seen:     make(map[string]time.Time),
		maxHosts: defaultMaxMediaHosts,
		now:      time.Now,
	}
	for _, host := range static {
		if host = strings.Trim(strings.ToLower(strings.TrimSpace(host)), "."); host != "" {
			m.static = append(m.static, host)
		}
	}
	return m
}

func (m *mediaHosts) rememberVideos(items []domain.Video) {
	for _, item := range items {
		m.remember(item.ThumbnailURL, item.SplashImageURL)
	}
}

func (m *mediaHosts) remember(rawURLs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, raw := range rawURLs {
		host := mediaHost(raw)
		if host == "" {
			continue
		}
		m.seen[host] = now
	}
	if len(m.seen) <= m.maxHosts {
		return
	}
	hosts := make([]string, 0, len(m.seen))
	for host := range m.seen {
		hosts = append(hosts, host)
	}
	sort.Slice(hosts, func(i, j int) bool { return m.seen[hosts[i]].Before(m.seen[hosts[j]]) })
	for _, host := range hosts[:len(hosts)-m.maxHosts] {
		delete(m.seen, host)
	}
}

// allowed matches remembered hosts exactly and configured hosts by domain suffix.
func (m *mediaHosts) allowed(host string) bool {
	host = strings.ToLower(host)
	for _, static := range m.static {
		if host == static || strings.HasSuffix(host, "."+static) {
			return true
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[host]
	return ok
}

func mediaHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Thumbnail downloads a single_img or splash_img URL on behalf of a client.
// Only hosts seen in served records or configured explicitly are reachable,
// and literal private addresses are refused before any network access.
func (s *Service) Thumbnail(ctx context.Context, rawURL string) (upstream.Media, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Hostname() == "" {
		return upstream.Media{}, ErrInvalidThumbnail
	}
	if ip := net.ParseIP(target.Hostname()); ip != nil && upstream.IsBlockedIP(ip) {
		return upstream.Media{}, ErrUnknownMediaHost
	}
	if !s.media.allowed(target.Hostname()) {
		return upstream.Media{}, ErrUnknownMediaHost
	}

	fetcher, ok := s.fetcher.(MediaFetcher)
	if !ok {
		return upstream.Media{}, fmt.Errorf("%w: media downloads unsupported", ErrUpstream)
	}
	media, err := fetcher.FetchMedia(ctx, target)
	if err != nil {
		return upstream.Media{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return media, nil
}
