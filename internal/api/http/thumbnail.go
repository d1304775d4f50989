package apihttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// handleThumbnail serves single_img and splash_img URLs through the proxy so
// clients never contact the hosting CDNs directly. Which hosts are reachable
// is decided by the video service.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing url")
		return
	}

	media, err := s.videos.Thumbnail(r.Context(), raw)
	if err != nil {
		status, message := s.mapError("thumbnail", err, slog.String("url", truncate(raw, 180)))
		writeError(w, status, errorCode(status), message)
		return
	}

	w.Header().Set("Content-Type", media.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(media.Body)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(media.Body)
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusBadGateway:
		return "upstream_error"
	default:
		return "internal_error"
	}
}
