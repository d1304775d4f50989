package search

import "github.com/asalamnsa/cc/internal/domain"

// Dedupe concatenates result sets in dispatch order and keeps the first
// record per file code. Records without a file code are dropped.
func Dedupe(sets ...[]domain.Video) []domain.Video {
	total := 0
	for _, set := range sets {
		total += len(set)
	}
	seen := make(map[string]struct{}, total)
	out := make([]domain.Video, 0, total)
	for _, set := range sets {
		for _, video := range set {
			if video.FileCode == "" {
				continue
			}
			if _, ok := seen[video.FileCode]; ok {
				continue
			}
			seen[video.FileCode] = struct{}{}
			out = append(out, video)
		}
	}
	return out
}
