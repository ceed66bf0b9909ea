package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRange(t *testing.T) {
	const size = 10_000_000
	const chunk = int64(DefaultChunkSize)

	tests := []struct {
		name        string
		header      string
		wantOK      bool
		wantSat     bool
		wantStart   int64
		wantEnd     int64
		wantContent string
	}{
		{
			name:        "explicit range",
			header:      "bytes=100-199",
			wantOK:      true,
			wantSat:     true,
			wantStart:   100,
			wantEnd:     199,
			wantContent: "bytes 100-199/10000000",
		},
		{
			name:      "open ended range gets default chunk",
			header:    "bytes=100-",
			wantOK:    true,
			wantSat:   true,
			wantStart: 100,
			wantEnd:   100 + chunk - 1,
		},
		{
			name:      "open ended near the end is capped",
			header:    "bytes=9999900-",
			wantOK:    true,
			wantSat:   true,
			wantStart: 9_999_900,
			wantEnd:   9_999_999,
		},
		{
			name:      "explicit end past blob is capped",
			header:    "bytes=0-99999999",
			wantOK:    true,
			wantSat:   true,
			wantStart: 0,
			wantEnd:   9_999_999,
		},
		{
			name:      "suffix range",
			header:    "bytes=-500",
			wantOK:    true,
			wantSat:   true,
			wantStart: 9_999_500,
			wantEnd:   9_999_999,
		},
		{name: "missing bytes prefix", header: "100-199", wantSat: true},
		{name: "multi range unsupported", header: "bytes=0-1,5-6", wantSat: true},
		{name: "garbage start", header: "bytes=abc-199", wantSat: true},
		{name: "end before start", header: "bytes=200-100", wantSat: true},
		{name: "start past blob is unsatisfiable", header: "bytes=99999999-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, ok, sat := parseRange(tt.header, size, chunk)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantSat, sat)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantStart, rng.start)
			assert.Equal(t, tt.wantEnd, rng.end)
			if tt.wantContent != "" {
				assert.Equal(t, tt.wantContent, rng.contentRange())
			}
		})
	}
}

func TestParseRangeOpenEndedChunkLength(t *testing.T) {
	// Per the streaming contract: an open-ended range over a blob larger
	// than start+chunk returns exactly one chunk.
	rng, ok, _ := parseRange("bytes=100-", 100+DefaultChunkSize+1_000_000, DefaultChunkSize)
	assert.True(t, ok)
	assert.Equal(t, int64(DefaultChunkSize), rng.length())
}

func TestParseContentRangeTotal(t *testing.T) {
	total, ok := parseContentRangeTotal("bytes 0-1023/4096")
	assert.True(t, ok)
	assert.Equal(t, int64(4096), total)

	_, ok = parseContentRangeTotal("bytes 0-1023/*")
	assert.False(t, ok)

	_, ok = parseContentRangeTotal("")
	assert.False(t, ok)
}
