package store

import (
	"net/http"
	"time"
)

// Metadata headers carried on cached responses. Trim policies read these to
// order entries; the streamer stamps them on writes and hits.
const (
	HeaderDate       = "Date"
	HeaderCachedAt   = "X-Cached-At"
	HeaderLastAccess = "X-Last-Access"
	HeaderServedFrom = "X-Served-From"
	HeaderOffline    = "X-Offline"
)

// Entry is a cached response: status, headers and full body, keyed by the
// range-stripped request URL. Metadata travels in the header map so it
// survives the round trip through durable storage.
type Entry struct {
	Key    string
	Status int
	Header http.Header
	Body   []byte
}

// NewEntry creates an entry with a copied header map.
func NewEntry(key string, status int, header http.Header, body []byte) *Entry {
	e := &Entry{
		Key:    key,
		Status: status,
		Header: make(http.Header, len(header)),
		Body:   body,
	}
	for k, v := range header {
		e.Header[k] = append([]string(nil), v...)
	}
	return e
}

// Size returns the stored body size in bytes.
func (e *Entry) Size() int64 {
	return int64(len(e.Body))
}

// Clone returns a deep copy so callers can mutate headers without racing
// other readers of the same entry.
func (e *Entry) Clone() *Entry {
	c := NewEntry(e.Key, e.Status, e.Header, make([]byte, len(e.Body)))
	copy(c.Body, e.Body)
	return c
}

// Timestamp parses the named metadata header. Malformed or missing values
// fall back to the supplied time so eviction never stalls on bad metadata.
func (e *Entry) Timestamp(name string, fallback time.Time) time.Time {
	v := e.Header.Get(name)
	if v == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.Parse(http.TimeFormat, v); err == nil {
		return t
	}
	return fallback
}

// StampCached records the initial cache write time and last access time.
func (e *Entry) StampCached(now time.Time) {
	ts := now.UTC().Format(time.RFC3339)
	e.Header.Set(HeaderCachedAt, ts)
	e.Header.Set(HeaderLastAccess, ts)
}

// Touch updates the last access time, used by the video LRU policy.
func (e *Entry) Touch(now time.Time) {
	e.Header.Set(HeaderLastAccess, now.UTC().Format(time.RFC3339))
}
