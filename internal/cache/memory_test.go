package cache

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryBackendExpiresEntries(t *testing.T) {
	clock := newFakeClock()
	backend := NewMemoryBackend(10, clock.Now)
	ctx := context.Background()

	if err := backend.Set(ctx, "k", []byte("v"), time.Minute, []string{"k"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	clock.Advance(30 * time.Second)
	value, ttl, ok, _ := backend.Get(ctx, "k")
	if !ok || string(value) != "v" {
		t.Fatalf("expected hit, got ok=%v value=%q", ok, value)
	}
	if ttl != 30*time.Second {
		t.Fatalf("expected 30s remaining, got %s", ttl)
	}

	clock.Advance(30 * time.Second)
	if _, _, ok, _ := backend.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire at its TTL")
	}
	if backend.Len() != 0 {
		t.Fatalf("expected expired entry to be dropped, len=%d", backend.Len())
	}
}

func TestMemoryBackendReplacesWholeEntry(t *testing.T) {
	backend := NewMemoryBackend(10, nil)
	ctx := context.Background()

	_ = backend.Set(ctx, "k", []byte("old"), time.Minute, []string{"k", "search"})
	_ = backend.Set(ctx, "k", []byte("new"), time.Minute, []string{"k", "list"})

	removed, _ := backend.InvalidateTag(ctx, "search")
	if removed != 0 {
		t.Fatalf("expected stale tag link to be gone, removed=%d", removed)
	}
	value, _, ok, _ := backend.Get(ctx, "k")
	if !ok || string(value) != "new" {
		t.Fatalf("expected replaced value, got ok=%v value=%q", ok, value)
	}
}

func TestMemoryBackendInvalidateTag(t *testing.T) {
	backend := NewMemoryBackend(10, nil)
	ctx := context.Background()

	_ = backend.Set(ctx, "a", []byte("1"), time.Minute, []string{"a", "search"})
	_ = backend.Set(ctx, "b", []byte("2"), time.Minute, []string{"b", "search"})
	_ = backend.Set(ctx, "c", []byte("3"), time.Minute, []string{"c", "list"})

	removed, err := backend.InvalidateTag(ctx, "search")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, _, ok, _ := backend.Get(ctx, "a"); ok {
		t.Fatal("expected a to be invalidated")
	}
	if _, _, ok, _ := backend.Get(ctx, "c"); !ok {
		t.Fatal("expected c to survive")
	}
}

func TestMemoryBackendTrimsExpiredThenOldest(t *testing.T) {
	clock := newFakeClock()
	backend := NewMemoryBackend(2, clock.Now)
	ctx := context.Background()

	_ = backend.Set(ctx, "short", []byte("1"), time.Second, nil)
	clock.Advance(time.Millisecond)
	_ = backend.Set(ctx, "old", []byte("2"), time.Hour, nil)
	clock.Advance(2 * time.Second)
	_ = backend.Set(ctx, "mid", []byte("3"), time.Hour, nil)

	// "short" has expired and goes first; the map is back at its limit.
	if _, _, ok, _ := backend.Get(ctx, "old"); !ok {
		t.Fatal("expected old to survive while an expired entry was available")
	}

	clock.Advance(time.Millisecond)
	_ = backend.Set(ctx, "new", []byte("4"), time.Hour, nil)
	if _, _, ok, _ := backend.Get(ctx, "old"); ok {
		t.Fatal("expected oldest entry to be trimmed")
	}
	for _, key := range []string{"mid", "new"} {
		if _, _, ok, _ := backend.Get(ctx, key); !ok {
			t.Fatalf("expected %s to survive", key)
		}
	}
}

func TestMemoryBackendIgnoresNonPositiveTTL(t *testing.T) {
	backend := NewMemoryBackend(10, nil)
	_ = backend.Set(context.Background(), "k", []byte("v"), 0, nil)
	if backend.Len() != 0 {
		t.Fatal("expected zero TTL to skip storage")
	}
}
