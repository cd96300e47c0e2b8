// Package server exposes the relay and registry lookups over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gwr-relay/internal/gwr"
	"github.com/sells-group/gwr-relay/internal/lookup"
	"github.com/sells-group/gwr-relay/internal/store"
)

// Looker resolves an EGID to a record.
type Looker interface {
	Lookup(ctx context.Context, egid string) (gwr.Record, error)
	URL(egid string) string
}

// StatsProvider reports record cache statistics.
type StatsProvider interface {
	Stats() store.CacheStats
}

// Options configures the router.
type Options struct {
	Relay          http.Handler
	Lookup         Looker
	AllowedOrigins []string
	// Stats is optional; when set, /health includes cache statistics.
	Stats StatsProvider
}

// NewRouter builds the HTTP handler with all routes and middleware.
func NewRouter(opts Options) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler(opts.Stats))
	if opts.Relay != nil {
		r.Method(http.MethodGet, "/proxy", opts.Relay)
	}
	if opts.Lookup != nil {
		h := &gwrHandler{svc: opts.Lookup}
		r.Get("/api/gwr/{egid}", h.record)
		r.Get("/api/gwr/{egid}/geojson", h.feature)
	}
	return r
}

func healthHandler(stats StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "ok"}
		if stats != nil {
			body["cache"] = stats.Stats()
		}
		writeJSON(w, http.StatusOK, "application/json", body)
	}
}

type gwrHandler struct {
	svc Looker
}

func (h *gwrHandler) record(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, "application/json", rec)
}

func (h *gwrHandler) feature(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, "application/geo+json", rec.Feature())
}

// lookup writes the error response itself and reports whether rec is usable.
func (h *gwrHandler) lookup(w http.ResponseWriter, r *http.Request) (gwr.Record, bool) {
	egid := chi.URLParam(r, "egid")
	rec, err := h.svc.Lookup(r.Context(), egid)
	if err == nil {
		return rec, true
	}

	if eris.Is(err, lookup.ErrInvalidEGID) {
		writeJSON(w, http.StatusBadRequest, "application/json", map[string]string{
			"error": "invalid egid: must be 1-20 letters or digits",
		})
		return nil, false
	}

	sourceURL := h.svc.URL(egid)
	var upErr *lookup.UpstreamError
	if errors.As(err, &upErr) {
		sourceURL = upErr.URL
	}
	zap.L().Warn("gwr lookup failed",
		zap.String("egid", egid),
		zap.String("source_url", sourceURL),
		zap.Error(err),
	)
	writeJSON(w, http.StatusBadGateway, "application/json", map[string]string{
		"error":      err.Error(),
		"source_url": sourceURL,
	})
	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

// accessLog logs one line per request after it completes.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
