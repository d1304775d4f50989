package search

import (
	"reflect"
	"testing"

	"github.com/asalamnsa/cc/internal/domain"
)

func codes(items []domain.Video) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.FileCode)
	}
	return out
}

func TestDedupeMergesInDispatchOrder(t *testing.T) {
	first := []domain.Video{{FileCode: "a"}, {FileCode: "b"}}
	second := []domain.Video{{FileCode: "b"}, {FileCode: "c"}}

	got := codes(Dedupe(first, second))
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	first := []domain.Video{{FileCode: "a", Title: "from first"}}
	second := []domain.Video{{FileCode: "a", Title: "from second"}}

	got := Dedupe(first, second)
	if len(got) != 1 || got[0].Title != "from first" {
		t.Fatalf("expected the first occurrence, got %+v", got)
	}
}

func TestDedupeDropsEmptyCodes(t *testing.T) {
	got := codes(Dedupe(
		[]domain.Video{{FileCode: ""}, {FileCode: "a"}},
		[]domain.Video{{FileCode: ""}, {FileCode: "a"}, {FileCode: "b"}},
	))
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestDedupeProducesUniqueCodes(t *testing.T) {
	sets := [][]domain.Video{
		{{FileCode: "x"}, {FileCode: "y"}, {FileCode: "x"}},
		{{FileCode: "z"}, {FileCode: "y"}},
		nil,
		{{FileCode: "w"}, {FileCode: "z"}, {FileCode: "x"}},
	}
	seen := map[string]bool{}
	for _, item := range Dedupe(sets...) {
		if seen[item.FileCode] {
			t.Fatalf("duplicate code %q", item.FileCode)
		}
		seen[item.FileCode] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 unique codes, got %d", len(seen))
	}
}

func TestDedupeNoInput(t *testing.T) {
	if got := Dedupe(); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
