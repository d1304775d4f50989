package search

import (
	"sort"
	"strings"
	"time"

	"github.com/asalamnsa/cc/internal/domain"
)

var uploadLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Relevance counts the keywords found, case-insensitively, inside title.
func Relevance(title string, keywords []string) int {
	lowerTitle := strings.ToLower(title)
	score := 0
	for _, keyword := range keywords {
		if strings.Contains(lowerTitle, strings.ToLower(keyword)) {
			score++
		}
	}
	return score
}

func scoreVideos(items []domain.Video, keywords []string) {
	for i := range items {
		score := Relevance(items[i].Title, keywords)
		items[i].Relevance = &score
	}
}

// sortSearchResults orders by relevance, then newest upload, then views.
func sortSearchResults(items []domain.Video) {
	sort.SliceStable(items, func(i, j int) bool {
		if c := compareInt(items[i].RelevanceScore(), items[j].RelevanceScore()); c != 0 {
			return c > 0
		}
		if c := compareTime(parseUploadedAt(items[i].UploadedAt), parseUploadedAt(items[j].UploadedAt)); c != 0 {
			return c > 0
		}
		return items[i].ViewCount > items[j].ViewCount
	})
}

// sortRelatedResults orders by relevance, then views.
func sortRelatedResults(items []domain.Video) {
	sort.SliceStable(items, func(i, j int) bool {
		if c := compareInt(items[i].RelevanceScore(), items[j].RelevanceScore()); c != 0 {
			return c > 0
		}
		return items[i].ViewCount > items[j].ViewCount
	})
}

// parseUploadedAt returns the zero time for unparsable input so such records sort last.
func parseUploadedAt(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range uploadLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func compareInt(left, right int) int {
	switch {
	case left > right:
		return 1
	case left < right:
		return -1
	default:
		return 0
	}
}

func compareTime(left, right time.Time) int {
	switch {
	case left.After(right):
		return 1
	case left.Before(right):
		return -1
	default:
		return 0
	}
}
