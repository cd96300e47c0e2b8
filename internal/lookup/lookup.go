// Package lookup resolves an EGID to a building record by fetching the
// registry info popup and running the gwr extraction over it.
package lookup

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/gwr-relay/internal/fetcher"
	"github.com/sells-group/gwr-relay/internal/gwr"
)

// DefaultBaseURL is the MapServer layer of the federal building register.
const DefaultBaseURL = "https://api3.geo.admin.ch/rest/services/ech/MapServer/ch.bfs.gebaeude_wohnungs_register"

// ErrInvalidEGID is returned before any network activity for an empty or
// malformed identifier.
var ErrInvalidEGID = eris.New("lookup: invalid egid")

var reEGID = regexp.MustCompile(`^[A-Za-z0-9]{1,20}$`)

// UpstreamError reports a failed popup fetch together with the URL attempted.
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v (url: %s)", e.Err, e.URL)
	}
	return fmt.Sprintf("upstream returned %d %s for url: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Cache stores extracted records between lookups.
type Cache interface {
	// GetRecord returns nil, nil on a miss.
	GetRecord(ctx context.Context, egid string) (gwr.Record, error)
	SetRecord(ctx context.Context, egid string, rec gwr.Record, ttl time.Duration) error
}

// Options configures a Service.
type Options struct {
	BaseURL  string
	Cache    Cache
	CacheTTL time.Duration
}

// Service performs registry lookups. It is safe for concurrent use; concurrent
// lookups of the same EGID share one upstream request.
type Service struct {
	fetcher fetcher.Fetcher
	baseURL string
	cache   Cache
	ttl     time.Duration
	group   singleflight.Group
}

// New creates a lookup Service.
func New(f fetcher.Fetcher, opts Options) *Service {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		fetcher: f,
		baseURL: base,
		cache:   opts.Cache,
		ttl:     ttl,
	}
}

// ValidateEGID checks that egid is a short alphanumeric identifier.
func ValidateEGID(egid string) error {
	if !reEGID.MatchString(egid) {
		return eris.Wrapf(ErrInvalidEGID, "egid %q", egid)
	}
	return nil
}

// URL returns the popup URL for egid.
func (s *Service) URL(egid string) string {
	return fmt.Sprintf("%s/%s_0/extendedHtmlPopup?lang=de", s.baseURL, url.PathEscape(egid))
}

// Lookup fetches and extracts the record for egid. Fetch failures and non-2xx
// upstream statuses are returned as *UpstreamError. A record without any
// resolved field is a successful result.
//
// The shared fetch is detached from the cancellation of the caller that started
// it, so a caller that goes away does not fail the others waiting on the same
// EGID. Each caller still returns as soon as its own ctx is done.
func (s *Service) Lookup(ctx context.Context, egid string) (gwr.Record, error) {
	if err := ValidateEGID(egid); err != nil {
		return nil, err
	}

	if rec := s.cached(ctx, egid); rec != nil {
		return rec, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(egid, func() (any, error) {
		rec, err := s.fetch(detached, egid)
		if err != nil {
			return nil, err
		}
		s.store(detached, egid, rec)
		return rec, nil
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "lookup: egid %s", egid)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rec := res.Val.(gwr.Record)
		if res.Shared {
			rec = maps.Clone(rec)
		}
		return rec, nil
	}
}

func (s *Service) fetch(ctx context.Context, egid string) (gwr.Record, error) {
	link := s.URL(egid)

	resp, err := s.fetcher.Get(ctx, link)
	if err != nil {
		return nil, &UpstreamError{URL: link, Err: err}
	}
	if !resp.OK() {
		return nil, &UpstreamError{URL: link, StatusCode: resp.StatusCode}
	}

	rec := gwr.Extract(resp.Text(), link)
	zap.L().Debug("lookup: extracted record",
		zap.String("egid", egid),
		zap.Strings("fields", rec.Fields()),
	)
	return rec, nil
}

func (s *Service) cached(ctx context.Context, egid string) gwr.Record {
	if s.cache == nil {
		return nil
	}
	rec, err := s.cache.GetRecord(ctx, egid)
	if err != nil {
		zap.L().Warn("lookup: cache read failed", zap.String("egid", egid), zap.Error(err))
		return nil
	}
	return rec
}

func (s *Service) store(ctx context.Context, egid string, rec gwr.Record) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetRecord(ctx, egid, rec, s.ttl); err != nil {
		zap.L().Warn("lookup: cache write failed", zap.String("egid", egid), zap.Error(err))
	}
}
