package search

import (
	"reflect"
	"testing"
)

func TestExpandTitleQueryBigBuckBunny(t *testing.T) {
	keywords := ExtractTitleKeywords("Big Buck Bunny")
	if !reflect.DeepEqual(keywords, []string{"big", "buck", "bunny"}) {
		t.Fatalf("unexpected keywords %v", keywords)
	}
	got := ExpandTitleQuery(keywords)
	want := []string{"big buck bunny", "big", "buck", "bunny"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestExtractTitleKeywordsFiltersAndCaps(t *testing.T) {
	got := ExtractTitleKeywords("The 2 Big-Buck's of an Epic Movie Night, Part IV: Revenge")
	want := []string{"the", "big", "buck", "epic", "movie"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := ExtractTitleKeywords("a 1 !! of"); len(got) != 0 {
		t.Fatalf("expected no keywords, got %v", got)
	}
}

func TestExtractSearchKeywordsKeepsAllTokens(t *testing.T) {
	got := ExtractSearchKeywords("  Big  a BUCK ")
	want := []string{"big", "a", "buck"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestExpandSearchQueryPrefixes(t *testing.T) {
	got := ExpandSearchQuery([]string{"big", "buck", "bunny", "movie"})
	want := []string{"big buck bunny movie", "big", "big buck", "big buck bunny"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestExpandSearchQueryDeduplicates(t *testing.T) {
	got := ExpandSearchQuery([]string{"big", "buck"})
	want := []string{"big buck", "big"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := ExpandSearchQuery([]string{"solo"}); !reflect.DeepEqual(got, []string{"solo"}) {
		t.Fatalf("expected single query, got %v", got)
	}
}

func TestExpandEmptyKeywordsYieldsEmptyPlan(t *testing.T) {
	if got := ExpandSearchQuery(nil); len(got) != 0 {
		t.Fatalf("expected empty plan, got %v", got)
	}
	if got := ExpandTitleQuery(nil); len(got) != 0 {
		t.Fatalf("expected empty plan, got %v", got)
	}
}

func TestExpandPlansStayBounded(t *testing.T) {
	keywords := []string{"one", "two", "three", "four", "five"}
	if got := ExpandSearchQuery(keywords); len(got) > 4 {
		t.Fatalf("search plan too large: %v", got)
	}
	if got := ExpandTitleQuery(keywords); len(got) > 4 {
		t.Fatalf("title plan too large: %v", got)
	}
}
