package search

import (
	"strings"
	"testing"

	"github.com/asalamnsa/cc/internal/domain"
)

func TestFingerprintIsStableAndContentSensitive(t *testing.T) {
	record := domain.VideoDetails{FileCode: "abc", Title: "Big Buck Bunny", ViewCount: 10}

	first, err := Fingerprint(record)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	second, _ := Fingerprint(record)
	if first != second {
		t.Fatalf("expected stable fingerprint, got %s and %s", first, second)
	}
	if !strings.HasPrefix(first, `"`) || !strings.HasSuffix(first, `"`) {
		t.Fatalf("expected quoted etag, got %s", first)
	}

	record.ViewCount = 11
	changed, _ := Fingerprint(record)
	if changed == first {
		t.Fatal("expected fingerprint to change with content")
	}
}

func TestMatchesETag(t *testing.T) {
	etag := `"abc123"`
	cases := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"abc123"`, true},
		{"*", true},
		{`"other"`, false},
		{`"other", "abc123"`, true},
		{`W/"abc123"`, true},
	}
	for _, tc := range cases {
		if got := MatchesETag(tc.header, etag); got != tc.want {
			t.Fatalf("MatchesETag(%q): expected %v, got %v", tc.header, tc.want, got)
		}
	}
}
