// Package fetcher performs the outbound GET requests of the relay and the
// registry lookup: a fixed client identity, a bounded timeout, per-host rate
// limiting and no retries.
package fetcher

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
)

// Fetcher defines the interface for fetching remote documents.
type Fetcher interface {
	// Get issues a GET request to url. A non-2xx status is not an error;
	// only transport failures are.
	Get(ctx context.Context, url string) (*Response, error)
}

// Response is a fully read upstream response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the upstream answered with a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text returns the body decoded to UTF-8 according to the charset parameter of
// the Content-Type header. Unknown charsets fall back to the raw bytes.
func (r *Response) Text() string {
	return DecodeBody(r.Body, r.Header.Get("Content-Type"))
}

// DecodeBody converts body to a UTF-8 string using the charset named in
// contentType.
func DecodeBody(body []byte, contentType string) string {
	charset := charsetOf(contentType)
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return string(body)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		zap.L().Debug("fetcher: unknown charset, using raw body", zap.String("charset", charset))
		return string(body)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		zap.L().Debug("fetcher: charset decode failed, using raw body",
			zap.String("charset", charset),
			zap.Error(err),
		)
		return string(body)
	}
	return string(decoded)
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}
