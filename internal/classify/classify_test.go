package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		contentType string
		want        Lane
	}{
		{
			name: "gallery media with video extension",
			url:  "https://campuspulse.example/api/gallery/media/highlights.mp4",
			want: LaneVideo,
		},
		{
			name:        "gallery media with video content type and no extension",
			url:         "https://campuspulse.example/api/gallery/media/64f1a2",
			contentType: "video/mp4",
			want:        LaneVideo,
		},
		{
			name: "gallery media with image extension",
			url:  "https://campuspulse.example/api/gallery/media/poster.jpg",
			want: LaneGalleryMedia,
		},
		{
			name: "gallery media with no extension and no hint defaults to media",
			url:  "https://campuspulse.example/api/gallery/media/64f1a2",
			want: LaneGalleryMedia,
		},
		{
			name: "image extension outside gallery path",
			url:  "https://campuspulse.example/logo.png",
			want: LaneImage,
		},
		{
			name: "thumbnail marker without extension",
			url:  "https://campuspulse.example/assets/thumb/evt-12",
			want: LaneImage,
		},
		{
			name: "api request",
			url:  "https://campuspulse.example/api/events?page=2",
			want: LaneAPI,
		},
		{
			name: "api request with image extension is still an image",
			url:  "https://campuspulse.example/api/badges/gold.png",
			want: LaneImage,
		},
		{
			name: "video extension outside gallery path is not video",
			url:  "https://campuspulse.example/promo/teaser.mp4",
			want: LaneOther,
		},
		{
			name: "navigation request",
			url:  "https://campuspulse.example/events/upcoming",
			want: LaneOther,
		},
		{
			name: "unparsable url",
			url:  "http://%zz",
			want: LaneOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.url, tt.contentType))
		})
	}
}

// Classification must be a pure function: repeated calls with the same
// inputs always land in the same lane.
func TestClassifyDeterministic(t *testing.T) {
	url := "https://campuspulse.example/api/gallery/media/clip.webm"
	first := Classify(url, "")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Classify(url, ""))
	}
}

func TestIsVideo(t *testing.T) {
	assert.True(t, IsVideo("https://campuspulse.example/api/gallery/media/clip.mkv", ""))
	assert.False(t, IsVideo("https://campuspulse.example/api/gallery/media/poster.jpg", ""))
	assert.True(t, IsVideo("https://campuspulse.example/api/gallery/media/stream", "video/webm"))
}

func TestLaneString(t *testing.T) {
	assert.Equal(t, "video", LaneVideo.String())
	assert.Equal(t, "gallery_media", LaneGalleryMedia.String())
	assert.Equal(t, "image", LaneImage.String())
	assert.Equal(t, "api", LaneAPI.String())
	assert.Equal(t, "other", LaneOther.String())
}
