package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/asalamnsa/cc/internal/domain"
	"github.com/asalamnsa/cc/internal/telemetry"
)

const (
	DefaultBaseURL        = "https://apifulzz.pages.dev"
	DefaultTimeout        = 15 * time.Second
	defaultMaxAttempts    = 2
	defaultMaxConcurrency = 8
	maxBodyBytes          = 8 << 20
)

var ErrEndpointBlocked = errors.New("upstream endpoint temporarily blocked")

// Request is one call in a FetchMany batch.
type Request struct {
	Endpoint string
	Params   url.Values
}

// Response never carries a transport error out of band: failures have
// StatusCode 0 (or the rejected status) and a non-nil Err.
type Response struct {
	Body       string
	StatusCode int
	Err        error
}

func (r Response) OK() bool {
	return r.Err == nil && r.StatusCode == http.StatusOK
}

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Profiles       []Identity
	MaxAttempts    int
	MaxConcurrency int
	HTTPClient     *http.Client

	// MediaHTTPClient downloads images; the default refuses private addresses.
	MediaHTTPClient *http.Client
}

type Client struct {
	baseURL        *url.URL
	timeout        time.Duration
	profiles       []Identity
	maxAttempts    int
	maxConcurrency int
	httpClient     *http.Client
	mediaClient    *http.Client
	logger         *slog.Logger
	health         *healthTracker
	now            func() time.Time
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	rawBase := strings.TrimSpace(cfg.BaseURL)
	if rawBase == "" {
		rawBase = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream base url must be http or https, got %q", rawBase)
	}

	c := &Client{
		baseURL:        base,
		timeout:        cfg.Timeout,
		profiles:       append([]Identity(nil), cfg.Profiles...),
		maxAttempts:    cfg.MaxAttempts,
		maxConcurrency: cfg.MaxConcurrency,
		httpClient:     cfg.HTTPClient,
		mediaClient:    cfg.MediaHTTPClient,
		logger:         slog.Default(),
		health:         newHealthTracker(),
		now:            time.Now,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if len(c.profiles) == 0 {
		c.profiles = DefaultIdentities()
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.maxConcurrency <= 0 {
		c.maxConcurrency = defaultMaxConcurrency
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.mediaClient == nil {
		c.mediaClient = newMediaHTTPClient()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch performs one GET against the upstream API. The call is detached from
// ctx cancellation and bounded by the client timeout, retries included.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) Response {
	name := endpointName(endpoint)
	target := c.resolve(endpoint, params)

	if blocked, until, lastErr := c.health.isBlocked(name, c.now()); blocked {
		err := fmt.Errorf("%w: %s until %s", ErrEndpointBlocked, name, until.UTC().Format(time.RFC3339))
		if lastErr != "" {
			err = fmt.Errorf("%w (last error: %s)", err, lastErr)
		}
		return Response{Err: err}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	callCtx, span := telemetry.Tracer("upstream").Start(callCtx, "upstream.fetch")
	span.SetAttributes(attribute.String("upstream.endpoint", name))
	defer span.End()

	lastStatus := 0
	operation := func() (string, error) {
		body, status, err := c.do(callCtx, target)
		lastStatus = status
		if err == nil {
			return body, nil
		}
		if !isTransientError(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	started := time.Now()
	body, err := backoff.Retry(callCtx, operation,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	latency := time.Since(started)
	c.health.record(name, lastStatus, err, latency, c.now())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("upstream request failed",
			slog.String("endpoint", name),
			slog.String("query", params.Encode()),
			slog.Int("status", lastStatus),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()),
		)
		statusCode := 0
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			statusCode = statusErr.Code
		}
		return Response{StatusCode: statusCode, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", lastStatus))
	return Response{Body: body, StatusCode: lastStatus}
}

// FetchMany runs every request concurrently and waits for all of them.
// The result is index-aligned with requests; one failure never affects another.
func (c *Client) FetchMany(ctx context.Context, requests []Request) []Response {
	responses := make([]Response, len(requests))
	if len(requests) == 0 {
		return responses
	}

	detached := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(int64(c.maxConcurrency))
	var g errgroup.Group

	for i, req := range requests {
		g.Go(func() error {
			defer func() {
				if recovered := recover(); recovered != nil {
					responses[i] = Response{Err: fmt.Errorf("upstream request panicked: %v", recovered)}
				}
			}()

			if acquireErr := sem.Acquire(detached, 1); acquireErr != nil {
				responses[i] = Response{Err: acquireErr}
				return nil
			}
			defer sem.Release(1)

			responses[i] = c.Fetch(detached, req.Endpoint, req.Params)
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

// Diagnostics reports the breaker state of every endpoint called so far.
func (c *Client) Diagnostics() []domain.UpstreamDiagnostics {
	return c.health.diagnostics()
}

func (c *Client) do(ctx context.Context, target string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", 0, err
	}
	identity := pickIdentity(c.profiles)
	req.Header.Set("User-Agent", identity.UserAgent)
	req.Header.Set("Referer", c.baseURL.String())
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", resp.StatusCode, &StatusError{Code: resp.StatusCode}
	}

	body, err := readBody(resp)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read upstream body: %w", err)
	}
	return string(body), resp.StatusCode, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr
	}
	return io.ReadAll(io.LimitReader(reader, maxBodyBytes))
}

func (c *Client) resolve(endpoint string, params url.Values) string {
	target := *c.baseURL
	target.Path = strings.TrimRight(c.baseURL.Path, "/") + endpointName(endpoint)
	target.RawQuery = params.Encode()
	return target.String()
}

func endpointName(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "/"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return endpoint
}
