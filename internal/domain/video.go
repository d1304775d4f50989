package domain

import (
	"fmt"
	"time"
)

type Video struct {
	FileCode        string `json:"file_code"`
	Title           string `json:"title"`
	ThumbnailURL    string `json:"single_img"`
	SplashImageURL  string `json:"splash_img"`
	DurationSeconds int64  `json:"length"`
	Duration        string `json:"duration,omitempty"`
	ViewCount       int64  `json:"views"`
	UploadedAt      string `json:"uploaded"`
	SourceTag       string `json:"api_source"`
	CanPlay         int    `json:"canplay"`
	Relevance       *int   `json:"relevance,omitempty"`
	DownloadURL     string `json:"download_url,omitempty"`
	FolderID        string `json:"fld_id,omitempty"`
}

// RelevanceScore returns 0 for records that were never scored.
func (v Video) RelevanceScore() int {
	if v.Relevance == nil {
		return 0
	}
	return *v.Relevance
}

type VideoDetails struct {
	FileCode          string `json:"filecode"`
	Title             string `json:"title"`
	ThumbnailURL      string `json:"single_img"`
	SplashImageURL    string `json:"splash_img"`
	DurationSeconds   int64  `json:"length"`
	Duration          string `json:"duration,omitempty"`
	ViewCount         int64  `json:"views"`
	UploadedAt        string `json:"uploaded"`
	LastView          string `json:"last_view"`
	SourceTag         string `json:"api_source"`
	CanPlay           int    `json:"canplay"`
	Size              int64  `json:"size"`
	Status            int    `json:"status"`
	ProtectedEmbed    string `json:"protected_embed"`
	ProtectedDownload string `json:"protected_dl"`
}

type SearchRequest struct {
	Query   string
	Page    int
	PerPage int
	NoCache bool
}

type SearchPage struct {
	Query        string           `json:"query"`
	Items        []Video          `json:"items"`
	TotalResults int              `json:"totalResults"`
	Page         int              `json:"page"`
	PerPage      int              `json:"perPage"`
	TotalPages   int              `json:"totalPages"`
	Upstream     []UpstreamStatus `json:"upstream,omitempty"`
	Degraded     bool             `json:"degraded,omitempty"`
	CacheHit     bool             `json:"cacheHit"`
}

type ListRequest struct {
	Page    int
	PerPage int
	NoCache bool
}

type ListPage struct {
	Items      []Video `json:"files"`
	TotalPages int     `json:"total_pages"`
	Degraded   bool    `json:"degraded,omitempty"`
	CacheHit   bool    `json:"-"`
}

type RelatedRequest struct {
	Title   string
	Limit   int
	NoCache bool
}

type RelatedResult struct {
	Title    string           `json:"title"`
	Items    []Video          `json:"items"`
	Upstream []UpstreamStatus `json:"upstream,omitempty"`
	Degraded bool             `json:"degraded,omitempty"`
	CacheHit bool             `json:"cacheHit"`
}

type DetailResult struct {
	Video    VideoDetails `json:"video"`
	CacheHit bool         `json:"cacheHit"`
}

// UpstreamStatus describes the outcome of one fan-out sub-query.
type UpstreamStatus struct {
	Query      string `json:"query"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode"`
	Count      int    `json:"count"`
	Error      string `json:"error,omitempty"`
}

type UpstreamDiagnostics struct {
	Endpoint            string     `json:"endpoint"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastStatusCode      int        `json:"lastStatusCode,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	TimeoutCount        int64      `json:"timeoutCount,omitempty"`
}

type CacheClearResult struct {
	Message      string   `json:"message"`
	ClearedTags  []string `json:"cleared_tags,omitempty"`
	ClearedPaths []string `json:"cleared_paths,omitempty"`
	Removed      int      `json:"removed"`
}

// FormatDuration renders seconds as HH:MM:SS; zero yields an empty string.
func FormatDuration(seconds int64) string {
	if seconds <= 0 {
		return ""
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// DurationLabel renders a cache lifetime in its largest whole unit, e.g. "60 seconds" or "1 hour".
func DurationLabel(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d >= day && d%day == 0:
		return plural(int64(d/day), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d > time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return plural(int64(d/time.Second), "second")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
