package lookup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gwr-relay/internal/fetcher"
	"github.com/sells-group/gwr-relay/internal/gwr"
)

const popupHTML = `<table>
	<tr><td>Postleitzahl</td><td>9000</td></tr>
	<tr><td>Eidg. Gebäudeidentifikator (EGID)</td><td>190581</td></tr>
</table>`

func newUpstream(t *testing.T, handler http.HandlerFunc) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc := New(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 2 * time.Second}), Options{BaseURL: srv.URL + "/layer"})
	return svc, srv
}

type mockFetcher struct {
	calls atomic.Int32
	resp  *fetcher.Response
	err   error
}

func (m *mockFetcher) Get(_ context.Context, u string) (*fetcher.Response, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	r := *m.resp
	r.URL = u
	return &r, nil
}

// blockingFetcher holds every request until release is closed or the request
// context is done.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingFetcher) Get(ctx context.Context, u string) (*fetcher.Response, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return &fetcher.Response{URL: u, StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(popupHTML)}, nil
	}
}

type memCache struct {
	mu      sync.Mutex
	records map[string]gwr.Record
	getErr  error
	setErr  error
}

func (c *memCache) GetRecord(_ context.Context, egid string) (gwr.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.records[egid], nil
}

func (c *memCache) SetRecord(_ context.Context, egid string, rec gwr.Record, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	if c.records == nil {
		c.records = map[string]gwr.Record{}
	}
	c.records[egid] = rec
	return nil
}

func TestURL(t *testing.T) {
	svc := New(&mockFetcher{}, Options{})
	assert.Equal(t,
		"https://api3.geo.admin.ch/rest/services/ech/MapServer/ch.bfs.gebaeude_wohnungs_register/190581_0/extendedHtmlPopup?lang=de",
		svc.URL("190581"),
	)

	svc = New(&mockFetcher{}, Options{BaseURL: "http://localhost:9999/layer/"})
	assert.Equal(t, "http://localhost:9999/layer/42_0/extendedHtmlPopup?lang=de", svc.URL("42"))
}

func TestValidateEGID(t *testing.T) {
	for _, ok := range []string{"190581", "1", "A1b2", "12345678901234567890"} {
		assert.NoError(t, ValidateEGID(ok), ok)
	}
	for _, bad := range []string{"", "123456789012345678901", "19 05", "../etc", "1;2", "ä1"} {
		err := ValidateEGID(bad)
		require.Error(t, err, bad)
		assert.True(t, eris.Is(err, ErrInvalidEGID), bad)
	}
}

func TestLookup_EndToEnd(t *testing.T) {
	var gotPath, gotQuery, gotUA string
	svc, srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotUA = r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(popupHTML))
	})

	rec, err := svc.Lookup(context.Background(), "190581")
	require.NoError(t, err)

	link := srv.URL + "/layer/190581_0/extendedHtmlPopup?lang=de"
	assert.Equal(t, gwr.Record{
		gwr.FieldPLZ:  "9000",
		gwr.FieldEGID: "190581",
		gwr.LinkKey:   link,
	}, rec)
	assert.Equal(t, "/layer/190581_0/extendedHtmlPopup", gotPath)
	assert.Equal(t, "lang=de", gotQuery)
	assert.Equal(t, fetcher.DefaultUserAgent, gotUA)
}

func TestLookup_Latin1Popup(t *testing.T) {
	body := []byte("<table><tr><td>Grundst\xfccksnummer</td><td>C2345</td></tr></table>")
	svc, _ := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		_, _ = w.Write(body)
	})

	rec, err := svc.Lookup(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "C2345", rec[gwr.FieldGrundstuecksnummer])
}

func TestLookup_NoMatchIsSuccess(t *testing.T) {
	svc, _ := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>Keine Daten</body></html>"))
	})

	rec, err := svc.Lookup(context.Background(), "999")
	require.NoError(t, err)
	assert.True(t, rec.Empty())
	assert.Contains(t, rec.Link(), "/999_0/extendedHtmlPopup")
}

func TestLookup_NonSuccessStatus(t *testing.T) {
	svc, srv := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := svc.Lookup(context.Background(), "190581")
	require.Error(t, err)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusNotFound, upErr.StatusCode)
	assert.Equal(t, srv.URL+"/layer/190581_0/extendedHtmlPopup?lang=de", upErr.URL)
	assert.Contains(t, err.Error(), "404")
}

func TestLookup_TransportFailure(t *testing.T) {
	m := &mockFetcher{err: eris.New("dial tcp: connection refused")}
	svc := New(m, Options{})

	_, err := svc.Lookup(context.Background(), "190581")
	require.Error(t, err)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, svc.URL("190581"), upErr.URL)
	assert.Contains(t, upErr.Error(), "connection refused")
	assert.Contains(t, err.Error(), svc.URL("190581"))
}

func TestUpstreamError_MessageCarriesURL(t *testing.T) {
	const link = "https://example.test/1_0/extendedHtmlPopup?lang=de"

	err := &UpstreamError{URL: link, Err: eris.New("fetcher: get: timeout")}
	assert.Equal(t, "fetcher: get: timeout (url: "+link+")", err.Error())

	err = &UpstreamError{URL: link, StatusCode: http.StatusBadGateway}
	assert.Equal(t, "upstream returned 502 Bad Gateway for url: "+link, err.Error())
}

func TestLookup_InvalidEGIDMakesNoCall(t *testing.T) {
	m := &mockFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK}}
	svc := New(m, Options{})

	_, err := svc.Lookup(context.Background(), "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidEGID))
	assert.Equal(t, int32(0), m.calls.Load())
}

func TestLookup_UsesCache(t *testing.T) {
	m := &mockFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(popupHTML)}}
	cache := &memCache{}
	svc := New(m, Options{Cache: cache})

	first, err := svc.Lookup(context.Background(), "190581")
	require.NoError(t, err)
	second, err := svc.Lookup(context.Background(), "190581")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), m.calls.Load())
}

func TestLookup_CacheErrorsAreIgnored(t *testing.T) {
	m := &mockFetcher{resp: &fetcher.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(popupHTML)}}
	cache := &memCache{getErr: eris.New("db down"), setErr: eris.New("db down")}
	svc := New(m, Options{Cache: cache})

	rec, err := svc.Lookup(context.Background(), "190581")
	require.NoError(t, err)
	assert.Equal(t, "9000", rec[gwr.FieldPLZ])
}

func TestLookup_FailuresAreNotCached(t *testing.T) {
	m := &mockFetcher{err: eris.New("timeout")}
	cache := &memCache{}
	svc := New(m, Options{Cache: cache})

	_, err := svc.Lookup(context.Background(), "190581")
	require.Error(t, err)
	assert.Empty(t, cache.records)
}

func TestLookup_ConcurrentCallsShareFetch(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	svc, _ := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(popupHTML))
	})

	const n = 5
	var wg sync.WaitGroup
	results := make([]gwr.Record, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := svc.Lookup(context.Background(), "190581")
			assert.NoError(t, err)
			results[i] = rec
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, rec := range results {
		assert.Equal(t, "190581", rec[gwr.FieldEGID])
	}
}

func TestLookup_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	cache := &memCache{}
	svc := New(f, Options{Cache: cache})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Lookup(firstCtx, "190581")
		firstErr <- err
	}()
	<-f.started

	type result struct {
		rec gwr.Record
		err error
	}
	second := make(chan result, 1)
	go func() {
		rec, err := svc.Lookup(context.Background(), "190581")
		second <- result{rec, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	close(f.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "9000", got.rec[gwr.FieldPLZ])
	assert.Equal(t, int32(1), f.calls.Load())

	cached, err := cache.GetRecord(context.Background(), "190581")
	require.NoError(t, err)
	assert.Equal(t, "190581", cached[gwr.FieldEGID])
}
