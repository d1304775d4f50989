package upstream

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asalamnsa/cc/internal/domain"
	"github.com/asalamnsa/cc/internal/metrics"
)

const (
	endpointFailureThreshold = 3
	endpointBlockBase        = 2 * time.Minute
	endpointBlockMax         = 15 * time.Minute
)

type endpointHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastStatusCode      int
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

type healthTracker struct {
	mu     sync.Mutex
	states map[string]*endpointHealth
}

func newHealthTracker() *healthTracker {
	return &healthTracker{states: make(map[string]*endpointHealth)}
}

func (h *healthTracker) isBlocked(endpoint string, now time.Time) (bool, time.Time, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.states[endpoint]
	if state == nil {
		return false, time.Time{}, ""
	}
	if state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, time.Time{}, ""
	}
	return true, state.blockedUntil, state.lastError
}

func (h *healthTracker) record(endpoint string, statusCode int, err error, latency time.Duration, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.states[endpoint]
	if state == nil {
		state = &endpointHealth{}
		h.states[endpoint] = state
	}
	state.totalRequests++
	state.lastStatusCode = statusCode
	if latency > 0 {
		state.lastLatency = latency
		metrics.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
		metrics.UpstreamAvailable.WithLabelValues(endpoint).Set(1)
		return
	}

	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()
	// A definite client-side answer (404, 400) proves the endpoint is reachable.
	if isTransientError(err) {
		state.consecutiveFailures++
	} else {
		state.consecutiveFailures = 0
	}

	status := "error"
	switch {
	case state.lastTimeout:
		status = "timeout"
	case statusCode > 0:
		status = "status"
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()

	if state.consecutiveFailures >= endpointFailureThreshold {
		state.blockedUntil = now.Add(exponentialBlockDuration(state.consecutiveFailures))
		metrics.UpstreamAvailable.WithLabelValues(endpoint).Set(0)
	}
}

// exponentialBlockDuration is base × 2^(failures - threshold), capped at endpointBlockMax.
func exponentialBlockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - endpointFailureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := endpointBlockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > endpointBlockMax {
			return endpointBlockMax
		}
	}
	return d
}

func (h *healthTracker) diagnostics() []domain.UpstreamDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]domain.UpstreamDiagnostics, 0, len(h.states))
	for endpoint, state := range h.states {
		item := domain.UpstreamDiagnostics{
			Endpoint:            endpoint,
			ConsecutiveFailures: state.consecutiveFailures,
			LastError:           state.lastError,
			LastStatusCode:      state.lastStatusCode,
			LastLatencyMS:       state.lastLatency.Milliseconds(),
			LastTimeout:         state.lastTimeout,
			TotalRequests:       state.totalRequests,
			TotalFailures:       state.totalFailures,
			TimeoutCount:        state.timeoutCount,
		}
		if !state.blockedUntil.IsZero() {
			blockedUntil := state.blockedUntil
			item.BlockedUntil = &blockedUntil
		}
		if !state.lastSuccessAt.IsZero() {
			lastSuccessAt := state.lastSuccessAt
			item.LastSuccessAt = &lastSuccessAt
		}
		if !state.lastFailureAt.IsZero() {
			lastFailureAt := state.lastFailureAt
			item.LastFailureAt = &lastFailureAt
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Endpoint) < strings.ToLower(items[j].Endpoint)
	})
	return items
}
