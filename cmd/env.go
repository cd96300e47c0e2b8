package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/gwr-relay/internal/fetcher"
	"github.com/sells-group/gwr-relay/internal/lookup"
	"github.com/sells-group/gwr-relay/internal/relay"
	"github.com/sells-group/gwr-relay/internal/server"
	"github.com/sells-group/gwr-relay/internal/store"
)

// appEnv holds the collaborators shared by the serve, lookup and batch commands.
type appEnv struct {
	Store  store.Store // nil when caching is disabled
	Lookup *lookup.Service
	Relay  *relay.Relay
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode, opens the record cache and builds
// the fetcher, lookup service and relay. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, storeOptions())
	if err != nil {
		return nil, err
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       cfg.Fetch.Timeout(),
		RatePerSecond: cfg.Fetch.RatePerSec,
	})

	opts := lookup.Options{
		BaseURL:  cfg.GWR.BaseURL,
		CacheTTL: cfg.Cache.TTL(),
	}
	if st != nil {
		opts.Cache = st
	}

	zap.L().Debug("environment ready",
		zap.String("mode", mode),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.Strings("allowed_hosts", cfg.Relay.AllowedHosts),
	)

	return &appEnv{
		Store:  st,
		Lookup: lookup.New(f, opts),
		Relay:  relay.New(f, cfg.Relay.AllowedHosts),
	}, nil
}

// storeOptions maps the cache settings onto store.Options. Pool tuning is only
// passed when a limit is configured.
func storeOptions() store.Options {
	opts := store.Options{
		Driver:     cfg.Cache.Driver,
		DSN:        cfg.Cache.DSN,
		MaxEntries: cfg.Cache.MaxEntries,
	}
	if cfg.Cache.MaxConns > 0 || cfg.Cache.MinConns > 0 {
		opts.Pool = &store.PoolConfig{
			MaxConns: int32(cfg.Cache.MaxConns),
			MinConns: int32(cfg.Cache.MinConns),
		}
	}
	return opts
}

// handler builds the HTTP router for the environment.
func (e *appEnv) handler() http.Handler {
	opts := server.Options{
		Relay:          e.Relay,
		Lookup:         e.Lookup,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}
	if mem, ok := e.Store.(*store.MemoryStore); ok {
		opts.Stats = mem
	}
	return server.NewRouter(opts)
}

// sweepExpired periodically removes expired cache rows until ctx is done.
func (e *appEnv) sweepExpired(ctx context.Context, every time.Duration) {
	if e.Store == nil || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.Store.DeleteExpired(ctx)
			if err != nil {
				zap.L().Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Debug("cache sweep", zap.Int("removed", n))
			}
		}
	}
}
