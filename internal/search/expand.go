package search

import (
	"regexp"
	"strings"
)

const (
	maxTitleKeywords   = 5
	minTitleKeywordLen = 3
	maxSearchPrefix    = 3
	maxTitleSingles    = 3
)

var nonLetterPattern = regexp.MustCompile(`[^a-z\s]+`)

// ExtractSearchKeywords lower-cases a user query and splits it on whitespace.
func ExtractSearchKeywords(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// ExtractTitleKeywords keeps at most five letter-only words longer than two characters.
func ExtractTitleKeywords(title string) []string {
	cleaned := nonLetterPattern.ReplaceAllString(strings.ToLower(title), " ")
	keywords := make([]string, 0, maxTitleKeywords)
	for _, word := range strings.Fields(cleaned) {
		if len(word) < minTitleKeywordLen {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == maxTitleKeywords {
			break
		}
	}
	return keywords
}

// ExpandSearchQuery returns the full join followed by the 1, 2 and 3 keyword prefixes.
func ExpandSearchQuery(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	queries := make([]string, 0, 1+maxSearchPrefix)
	queries = append(queries, strings.Join(keywords, " "))
	for n := 1; n <= maxSearchPrefix && n <= len(keywords); n++ {
		queries = append(queries, strings.Join(keywords[:n], " "))
	}
	return uniqueQueries(queries)
}

// ExpandTitleQuery returns the full join followed by the top three single keywords.
func ExpandTitleQuery(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	queries := make([]string, 0, 1+maxTitleSingles)
	queries = append(queries, strings.Join(keywords, " "))
	for i := 0; i < maxTitleSingles && i < len(keywords); i++ {
		queries = append(queries, keywords[i])
	}
	return uniqueQueries(queries)
}

func uniqueQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, query := range queries {
		if query == "" {
			continue
		}
		if _, ok := seen[query]; ok {
			continue
		}
		seen[query] = struct{}{}
		out = append(out, query)
	}
	return out
}
