package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	CacheHitsTotal.WithLabelValues("memory").Inc()
	UpstreamRequestsTotal.WithLabelValues("/api/search", "ok").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{"vidproxy_cache_hits_total", "vidproxy_upstream_requests_total"} {
		if !names[want] {
			t.Fatalf("expected metric %s to be registered, got %v", want, names)
		}
	}
}
