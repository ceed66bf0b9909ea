// Package classify maps incoming request URLs to caching lanes.
package classify

import (
	"net/url"
	"path"
	"strings"
)

// Lane identifies which caching strategy applies to a request.
type Lane int

const (
	LaneOther Lane = iota
	LaneVideo
	LaneGalleryMedia
	LaneImage
	LaneAPI
)

// String returns a human-readable lane name, used for logging and metrics labels.
func (l Lane) String() string {
	switch l {
	case LaneVideo:
		return "video"
	case LaneGalleryMedia:
		return "gallery_media"
	case LaneImage:
		return "image"
	case LaneAPI:
		return "api"
	default:
		return "other"
	}
}

const (
	// GalleryMediaPath is the path fragment identifying gallery media endpoints.
	GalleryMediaPath = "/api/gallery/media/"

	// APIPrefix is the path fragment identifying backend API endpoints.
	APIPrefix = "/api/"

	thumbnailMarker = "thumb"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".ogg":  true,
	".ogv":  true,
	".mov":  true,
	".m4v":  true,
	".avi":  true,
	".mkv":  true,
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".bmp":  true,
	".ico":  true,
	".avif": true,
}

// Classify maps a request URL to its lane. The content type hint is an
// optional refinement: classification must work from the URL alone, since
// most call sites only have the request, not a response. A gallery media
// URL with no recognizable extension and no hint lands in the media lane,
// not the video lane.
func Classify(rawURL string, contentTypeHint string) Lane {
	u, err := url.Parse(rawURL)
	if err != nil {
		return LaneOther
	}

	p := strings.ToLower(u.Path)
	ext := path.Ext(p)
	gallery := strings.Contains(p, GalleryMediaPath)

	if gallery && (videoExtensions[ext] || strings.Contains(strings.ToLower(contentTypeHint), "video")) {
		return LaneVideo
	}

	if gallery {
		return LaneGalleryMedia
	}
	if imageExtensions[ext] || strings.Contains(p, thumbnailMarker) {
		return LaneImage
	}

	if strings.Contains(p, APIPrefix) {
		return LaneAPI
	}

	return LaneOther
}

// IsVideo reports whether the URL (plus optional content type) belongs to
// the video lane.
func IsVideo(rawURL string, contentTypeHint string) bool {
	return Classify(rawURL, contentTypeHint) == LaneVideo
}
