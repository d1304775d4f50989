package search

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const paddedTitleWords = 10

var (
	digitPattern      = regexp.MustCompile(`[0-9]+`)
	nonLetterSpaceRun = regexp.MustCompile(`[^a-zA-Z\s]+`)
)

var defaultFillerWords = []string{
	"Video", "Viral", "Streaming", "Update", "Latest", "Online",
	"Watch", "Clip", "Trending", "Collection", "Release", "Exclusive",
	"Original", "Premium", "Playlist", "Episode", "Archive", "Link",
}

// TitleCleaner normalizes upstream titles and optionally pads short ones
// to ten words with shuffled filler vocabulary.
type TitleCleaner struct {
	padding bool
	filler  []string
}

type TitleOption func(*TitleCleaner)

func WithTitlePadding(enabled bool) TitleOption {
	return func(c *TitleCleaner) {
		c.padding = enabled
	}
}

// WithFillerWords replaces the padding vocabulary. Entries are cleaned like
// titles and multi-word entries are split so each filler adds one word.
func WithFillerWords(words []string) TitleOption {
	return func(c *TitleCleaner) {
		filler := make([]string, 0, len(words))
		for _, entry := range words {
			filler = append(filler, strings.Fields(c.normalize(entry))...)
		}
		if len(filler) > 0 {
			c.filler = filler
		}
	}
}

func NewTitleCleaner(opts ...TitleOption) *TitleCleaner {
	c := &TitleCleaner{
		padding: true,
		filler:  append([]string(nil), defaultFillerWords...),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TitleCleaner) Clean(title string) string {
	words := strings.Fields(c.normalize(title))
	if c.padding && len(words) > 0 && len(words) < paddedTitleWords {
		words = append(words, c.fillers(paddedTitleWords-len(words))...)
	}
	return strings.Join(words, " ")
}

func (c *TitleCleaner) normalize(title string) string {
	title = digitPattern.ReplaceAllString(title, "")
	title = nonLetterSpaceRun.ReplaceAllString(title, " ")
	title = strings.Join(strings.Fields(title), " ")
	// A Caser keeps state between calls, so each call gets its own.
	return cases.Title(language.Und).String(title)
}

// fillers returns n words from Fisher-Yates shuffles driven by crypto/rand.
// A vocabulary shorter than n is reshuffled and drawn again, so words repeat
// only when they have to.
func (c *TitleCleaner) fillers(n int) []string {
	if len(c.filler) == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for len(out) < n {
		shuffled := append([]string(nil), c.filler...)
		for i := len(shuffled) - 1; i > 0; i-- {
			j := cryptoIntN(i + 1)
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		}
		out = append(out, shuffled[:min(n-len(out), len(shuffled))]...)
	}
	return out
}

func cryptoIntN(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(err)
	}
	return int(v.Int64())
}
