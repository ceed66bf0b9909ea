// Package origin fetches resources from the event platform's upstream:
// the REST backend over HTTP, or the media bucket over S3.
package origin

import (
	"context"
	"io"
	"net/http"
)

// Response is a minimal upstream response. The body is streamed; callers
// own closing it.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Fetcher issues a single upstream request. A returned error means the
// request never produced a response (offline, DNS, connection refused);
// HTTP-level failures come back as a Response with the upstream status.
type Fetcher interface {
	Fetch(ctx context.Context, method, rawURL string, header http.Header) (*Response, error)
}
