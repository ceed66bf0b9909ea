package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// byteRange is the window served from a cached blob, recomputed per
// request from the Range header and the blob size.
type byteRange struct {
	start int64
	end   int64
	size  int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

func (r byteRange) contentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, r.size)
}

// parseRange parses a "bytes=<start>-<end?>" header against a blob of the
// given size. A missing end defaults to start+chunkSize-1, capped at the
// blob end; the fixed chunk bounds memory for open-ended progressive
// fetches. Returns ok=false for malformed headers (including multi-range
// requests), which callers treat as "no range supplied". A start beyond
// the blob is a slicing error, also reported as not ok with satisfiable
// set to false.
func parseRange(header string, size, chunkSize int64) (r byteRange, ok, satisfiable bool) {
	if size <= 0 {
		return byteRange{}, false, false
	}

	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return byteRange{}, false, true
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return byteRange{}, false, true
	}

	// Suffix ranges ("bytes=-500") ask for the final N bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, false, true
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, end: size - 1, size: size}, true, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false, true
	}
	if start >= size {
		return byteRange{}, false, false
	}

	var end int64
	if endStr == "" {
		end = start + chunkSize - 1
	} else {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return byteRange{}, false, true
		}
	}
	if end > size-1 {
		end = size - 1
	}

	return byteRange{start: start, end: end, size: size}, true, true
}

// parseContentRangeTotal extracts the total size from a Content-Range
// header like "bytes 0-1023/4096". Returns ok=false when the total is
// absent or unparsable ("bytes 0-1023/*").
func parseContentRangeTotal(header string) (int64, bool) {
	_, totalStr, found := strings.Cut(header, "/")
	if !found {
		return 0, false
	}
	total, err := strconv.ParseInt(strings.TrimSpace(totalStr), 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}
