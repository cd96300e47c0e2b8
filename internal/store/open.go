package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// DefaultSQLitePath is used when the sqlite driver is selected without a DSN.
const DefaultSQLitePath = "gwr-cache.db"

// Options configures Open.
type Options struct {
	Driver     string
	DSN        string
	MaxEntries int
	Pool       *PoolConfig
}

// Open builds and migrates the configured Store. The "none" driver and an
// empty driver return a nil Store and no error.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		st  Store
		err error
	)
	switch opts.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemory(opts.MaxEntries), nil
	case "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		st, err = NewSQLite(dsn)
	case "postgres":
		if opts.DSN == "" {
			return nil, eris.New("store: postgres driver requires a dsn")
		}
		st, err = NewPostgres(ctx, opts.DSN, opts.Pool)
	default:
		return nil, eris.Errorf("store: unsupported driver: %s", opts.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: open %s", opts.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "store: migrate %s", opts.Driver)
	}
	return st, nil
}
