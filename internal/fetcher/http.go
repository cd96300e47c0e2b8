package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Defaults for the outbound client.
const (
	DefaultUserAgent = "EWS-Tool/1.0"
	DefaultTimeout   = 20 * time.Second
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RatePerSecond limits requests per upstream host. Zero disables limiting.
	RatePerSecond float64
	// Burst is the limiter bucket size; defaults to max(1, RatePerSecond).
	Burst     int
	Transport http.RoundTripper
}

// maxRedirects matches the net/http default.
const maxRedirects = 10

// RedirectPolicy vets each redirect target before it is followed. A non-nil
// error stops the request and is returned from Get.
type RedirectPolicy func(target *url.URL) error

type redirectPolicyKey struct{}

// WithRedirectPolicy returns a context whose requests only follow redirects
// that policy accepts.
func WithRedirectPolicy(ctx context.Context, policy RedirectPolicy) context.Context {
	return context.WithValue(ctx, redirectPolicyKey{}, policy)
}

// checkRedirect applies the RedirectPolicy carried by the request context.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return eris.Errorf("fetcher: stopped after %d redirects", maxRedirects)
	}
	if policy, ok := req.Context().Value(redirectPolicyKey{}).(RedirectPolicy); ok && policy != nil {
		if err := policy(req.URL); err != nil {
			zap.L().Warn("fetcher: redirect refused",
				zap.String("from", via[len(via)-1].URL.String()),
				zap.String("to", req.URL.String()),
			)
			return err
		}
	}
	return nil
}

// HTTPFetcher implements Fetcher using net/http. Requests are never retried.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.RatePerSecond))
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:       opts.Timeout,
			Transport:     transport,
			CheckRedirect: checkRedirect,
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the limiter for host, creating it on first use. It
// returns nil when rate limiting is disabled.
func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	if f.opts.RatePerSecond <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.opts.RatePerSecond), f.opts.Burst)
		f.limiters[host] = lim
	}
	return lim
}

// Get fetches rawURL and reads the whole body.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}

	if lim := f.limiterFor(u.Host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		zap.L().Warn("fetcher: request failed",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return nil, eris.Wrap(err, "fetcher: get")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}

	zap.L().Debug("fetcher: fetched",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
