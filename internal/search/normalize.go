package search

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/asalamnsa/cc/internal/domain"
)

const (
	defaultListingSource = "doodstream"
	defaultDetailSource  = "lulustream"
	defaultDetailStatus  = 200
	defaultFolderID      = "0"
)

type rawItem = map[string]any

// Normalizer maps untyped upstream items onto canonical records.
type Normalizer struct {
	titles *TitleCleaner
}

func NewNormalizer(titles *TitleCleaner) *Normalizer {
	if titles == nil {
		titles = NewTitleCleaner()
	}
	return &Normalizer{titles: titles}
}

// Video normalizes one search or listing item. Missing strings become empty,
// missing numbers zero, and a missing source falls back to defaultSource.
func (n *Normalizer) Video(item rawItem, defaultSource string) domain.Video {
	length := intField(item, "length")
	video := domain.Video{
		FileCode:        stringField(item, "file_code"),
		Title:           n.titles.Clean(stringField(item, "title")),
		ThumbnailURL:    stringField(item, "single_img"),
		SplashImageURL:  stringField(item, "splash_img"),
		DurationSeconds: length,
		Duration:        domain.FormatDuration(length),
		ViewCount:       intField(item, "views"),
		UploadedAt:      stringField(item, "uploaded"),
		SourceTag:       stringOr(item, "api_source", defaultSource),
		CanPlay:         canPlay(item),
	}
	return video
}

// ListVideo is Video plus the listing-only download and folder fields.
func (n *Normalizer) ListVideo(item rawItem) domain.Video {
	video := n.Video(item, defaultListingSource)
	video.DownloadURL = stringField(item, "download_url")
	video.FolderID = stringOr(item, "fld_id", defaultFolderID)
	return video
}

func (n *Normalizer) Details(item rawItem, requestedCode string) domain.VideoDetails {
	fileCode := stringOr(item, "filecode", stringOr(item, "file_code", requestedCode))
	source := stringOr(item, "api_source", defaultDetailSource)
	length := intField(item, "length")

	status := int(intField(item, "status"))
	if status == 0 {
		status = defaultDetailStatus
	}

	return domain.VideoDetails{
		FileCode:          fileCode,
		Title:             n.titles.Clean(stringField(item, "title")),
		ThumbnailURL:      stringField(item, "single_img"),
		SplashImageURL:    stringField(item, "splash_img"),
		DurationSeconds:   length,
		Duration:          domain.FormatDuration(length),
		ViewCount:         intField(item, "views"),
		UploadedAt:        stringField(item, "uploaded"),
		LastView:          stringField(item, "last_view"),
		SourceTag:         source,
		CanPlay:           canPlay(item),
		Size:              intField(item, "size"),
		Status:            status,
		ProtectedEmbed:    stringField(item, "protected_embed"),
		ProtectedDownload: ProtectedDownloadURL(source, requestedCode, stringField(item, "protected_dl")),
	}
}

// ProtectedDownloadURL synthesizes the download page for known hosting
// families and passes any other upstream value through.
func ProtectedDownloadURL(source, fileCode, upstreamValue string) string {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "lulustream":
		return "https://lulustream.com/d/" + fileCode
	case "doodapi", "doodstream":
		return "https://doodstream.com/d/" + fileCode
	default:
		return upstreamValue
	}
}

func canPlay(item rawItem) int {
	value := intField(item, "canplay")
	if value == 0 {
		return 1
	}
	return int(value)
}

func stringOr(item rawItem, key, fallback string) string {
	if value := stringField(item, key); value != "" {
		return value
	}
	return fallback
}

func stringField(item rawItem, key string) string {
	switch value := item[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	default:
		return ""
	}
}

// intField coerces numbers and numeric strings; anything else is zero and
// negatives clamp to zero.
func intField(item rawItem, key string) int64 {
	var parsed float64
	switch value := item[key].(type) {
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return 0
		}
		parsed = f
	case float64:
		parsed = value
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0
		}
		parsed = f
	default:
		return 0
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed <= 0 {
		return 0
	}
	if parsed >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(parsed)
}

func decodeObject(body string) (rawItem, bool) {
	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.UseNumber()
	var envelope rawItem
	if err := decoder.Decode(&envelope); err != nil || envelope == nil {
		return nil, false
	}
	return envelope, true
}

func objectList(value any) []rawItem {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	items := make([]rawItem, 0, len(list))
	for _, entry := range list {
		if item, ok := entry.(rawItem); ok {
			items = append(items, item)
		}
	}
	return items
}

// parseSearchItems reads {"result":[...]}; anything else is "no results".
func parseSearchItems(body string) ([]rawItem, bool) {
	envelope, ok := decodeObject(body)
	if !ok {
		return nil, false
	}
	if _, isList := envelope["result"].([]any); !isList {
		return nil, false
	}
	return objectList(envelope["result"]), true
}

// parseListItems reads {"result":{"files":[...],"total_pages":N}}.
func parseListItems(body string) ([]rawItem, int, bool) {
	envelope, ok := decodeObject(body)
	if !ok {
		return nil, 0, false
	}
	result, ok := envelope["result"].(rawItem)
	if !ok {
		return nil, 0, false
	}
	if _, isList := result["files"].([]any); !isList {
		return nil, 0, false
	}
	totalPages := int(intField(result, "total_pages"))
	if totalPages == 0 {
		totalPages = 1
	}
	return objectList(result["files"]), totalPages, true
}

// parseInfoItem reads the first element of {"result":[...]}.
func parseInfoItem(body string) (rawItem, bool) {
	items, ok := parseSearchItems(body)
	if !ok || len(items) == 0 {
		return nil, false
	}
	return items[0], true
}
