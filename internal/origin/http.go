package origin

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// HTTPClient fetches from the platform's HTTP origin. Responses are never
// parsed by the client so large media bodies stream straight through.
type HTTPClient struct {
	client *resty.Client
	logger *log.Entry
}

// NewHTTPClient creates an origin client rooted at baseURL. Relative
// request URLs resolve against it; absolute URLs pass through unchanged.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetDoNotParseResponse(true)

	return &HTTPClient{
		client: client,
		logger: log.WithField("package", "origin"),
	}
}

// Fetch issues the request upstream and returns the streamed response.
func (c *HTTPClient) Fetch(ctx context.Context, method, rawURL string, header http.Header) (*Response, error) {
	req := c.client.R().SetContext(ctx)
	for name, values := range header {
		for _, v := range values {
			req.SetHeader(name, v)
		}
	}

	resp, err := req.Execute(method, rawURL)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status: resp.StatusCode(),
		Header: resp.Header(),
		Body:   resp.RawResponse.Body,
	}, nil
}

// Close releases the underlying client resources.
func (c *HTTPClient) Close() error {
	return c.client.Close()
}
