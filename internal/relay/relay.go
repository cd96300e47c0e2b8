// Package relay forwards browser GET requests to an allow-list of geodata
// hosts so the frontend can reach them despite CORS.
package relay

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gwr-relay/internal/fetcher"
)

// DefaultAllowedHosts are the upstreams the relay may contact.
var DefaultAllowedHosts = []string{"api3.geo.admin.ch", "services.geo.sg.ch"}

// forwardedHeaders are the only upstream response headers passed back.
var forwardedHeaders = []string{"Content-Type", "Cache-Control", "Expires", "Last-Modified"}

var (
	// ErrBadRequest is returned for a missing or non-http(s) target URL.
	ErrBadRequest = eris.New("relay: bad request")
	// ErrForbidden is returned for a target host outside the allow-list.
	ErrForbidden = eris.New("relay: host not allowed")
)

// Relay validates target URLs and forwards GET requests upstream.
type Relay struct {
	fetcher fetcher.Fetcher
	allowed map[string]struct{}
}

// New creates a Relay. A nil or empty allowedHosts uses DefaultAllowedHosts.
func New(f fetcher.Fetcher, allowedHosts []string) *Relay {
	if len(allowedHosts) == 0 {
		allowedHosts = DefaultAllowedHosts
	}
	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return &Relay{fetcher: f, allowed: allowed}
}

// Allowed reports whether host is on the allow-list.
func (rl *Relay) Allowed(host string) bool {
	_, ok := rl.allowed[strings.ToLower(host)]
	return ok
}

// Validate checks target without touching the network.
func (rl *Relay) Validate(target string) (*url.URL, error) {
	if strings.TrimSpace(target) == "" {
		return nil, eris.Wrap(ErrBadRequest, "missing url")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, eris.Wrapf(ErrBadRequest, "parse url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, eris.Wrapf(ErrBadRequest, "unsupported scheme %q", u.Scheme)
	}
	if !rl.Allowed(u.Hostname()) {
		return nil, eris.Wrapf(ErrForbidden, "host %q", u.Hostname())
	}
	return u, nil
}

// Forward validates target and fetches it. Validation failures wrap
// ErrBadRequest or ErrForbidden; any other error is an upstream failure.
// Redirects are only followed to allow-listed hosts, and a refused redirect is
// an upstream failure.
func (rl *Relay) Forward(ctx context.Context, target string) (*fetcher.Response, error) {
	u, err := rl.Validate(target)
	if err != nil {
		return nil, err
	}
	ctx = fetcher.WithRedirectPolicy(ctx, rl.checkRedirect)
	resp, err := rl.fetcher.Get(ctx, u.String())
	if err != nil {
		return nil, eris.Wrap(err, "relay: upstream")
	}
	return resp, nil
}

func (rl *Relay) checkRedirect(target *url.URL) error {
	if target.Scheme != "http" && target.Scheme != "https" {
		return eris.Errorf("relay: redirect to unsupported scheme %q", target.Scheme)
	}
	if !rl.Allowed(target.Hostname()) {
		return eris.Errorf("relay: redirect to host %q not allowed", target.Hostname())
	}
	return nil
}

// StatusFor maps a Forward error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case eris.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case eris.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

// ServeHTTP handles GET /proxy?url=<target>.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	resp, err := rl.Forward(r.Context(), target)
	if err != nil {
		status := StatusFor(err)
		if status == http.StatusBadGateway {
			zap.L().Warn("relay: upstream failed", zap.String("url", target), zap.Error(err))
			http.Error(w, err.Error(), status)
			return
		}
		zap.L().Debug("relay: rejected", zap.String("url", target), zap.Int("status", status))
		http.Error(w, http.StatusText(status), status)
		return
	}

	for _, h := range forwardedHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	if resp.Header.Get("Content-Type") == "" {
		// Suppress content sniffing so only upstream headers are sent.
		w.Header()["Content-Type"] = nil
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
