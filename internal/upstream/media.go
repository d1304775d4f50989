package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/asalamnsa/cc/internal/metrics"
	"github.com/asalamnsa/cc/internal/telemetry"
)

const (
	MaxMediaBytes     = int64(10 << 20)
	maxMediaRedirects = 5
	mediaEndpoint     = "media"
)

var (
	ErrMediaTooLarge  = errors.New("media exceeds size limit")
	ErrNotMedia       = errors.New("response is not an image")
	ErrBlockedAddress = errors.New("media host resolves to a blocked address")
)

// Media is one downloaded thumbnail or splash image.
type Media struct {
	ContentType string
	Body        []byte
}

// FetchMedia downloads an image referenced by an upstream record. It presents
// the same rotating identity and Referer as API calls and shares their timeout
// and retry policy. Unlike Fetch it follows ctx cancellation, since nothing is
// cached from it.
func (c *Client) FetchMedia(ctx context.Context, target *url.URL) (Media, error) {
	if target == nil {
		return Media{}, errors.New("missing media url")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	callCtx, span := telemetry.Tracer("upstream").Start(callCtx, "upstream.media")
	span.SetAttributes(attribute.String("media.host", target.Hostname()))
	defer span.End()

	started := time.Now()
	media, err := backoff.Retry(callCtx, func() (Media, error) {
		media, err := c.doMedia(callCtx, target.String())
		if err != nil && (errors.Is(err, ErrBlockedAddress) || !isTransientError(err)) {
			return Media{}, backoff.Permanent(err)
		}
		return media, err
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	metrics.UpstreamRequestDuration.WithLabelValues(mediaEndpoint).Observe(time.Since(started).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.UpstreamRequestsTotal.WithLabelValues(mediaEndpoint, "error").Inc()
		return Media{}, err
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(mediaEndpoint, "ok").Inc()
	return media, nil
}

func (c *Client) doMedia(ctx context.Context, target string) (Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Media{}, err
	}
	req.Header.Set("User-Agent", pickIdentity(c.profiles).UserAgent)
	req.Header.Set("Referer", c.baseURL.String())
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := c.mediaClient.Do(req)
	if err != nil {
		return Media{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Media{}, &StatusError{Code: resp.StatusCode}
	}
	if resp.ContentLength > MaxMediaBytes {
		return Media{}, ErrMediaTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return Media{}, fmt.Errorf("read media body: %w", err)
	}
	if int64(len(body)) > MaxMediaBytes {
		return Media{}, ErrMediaTooLarge
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return Media{}, ErrNotMedia
	}
	return Media{ContentType: contentType, Body: body}, nil
}

// newMediaHTTPClient refuses to dial loopback, private, link-local and
// multicast addresses. The check runs on the resolved address of every
// connection, redirects included.
func newMediaHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   8 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   refuseBlockedAddress,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxMediaRedirects {
				return fmt.Errorf("stopped after %d redirects", maxMediaRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("unsupported redirect scheme %q", req.URL.Scheme)
			}
			return nil
		},
	}
}

func refuseBlockedAddress(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if IsBlockedIP(net.ParseIP(host)) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func IsBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast()
}
