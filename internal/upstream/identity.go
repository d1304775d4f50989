package upstream

import "math/rand/v2"

// Identity is the browser profile presented to the upstream API on one call.
type Identity struct {
	UserAgent string
}

var defaultIdentities = []Identity{
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"},
	{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"},
	{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"},
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"},
	{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"},
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0"},
	{UserAgent: "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/121.0"},
	{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"},
}

// DefaultIdentities returns a copy of the built-in browser profiles.
func DefaultIdentities() []Identity {
	return append([]Identity(nil), defaultIdentities...)
}

// IdentitiesFromUserAgents builds profiles from raw User-Agent strings, skipping blanks.
func IdentitiesFromUserAgents(agents []string) []Identity {
	out := make([]Identity, 0, len(agents))
	for _, agent := range agents {
		if agent == "" {
			continue
		}
		out = append(out, Identity{UserAgent: agent})
	}
	return out
}

func pickIdentity(profiles []Identity) Identity {
	if len(profiles) == 0 {
		return defaultIdentities[rand.IntN(len(defaultIdentities))]
	}
	return profiles[rand.IntN(len(profiles))]
}
