package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/gwr-relay/internal/gwr"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Timestamps are unix milliseconds so expiry comparisons stay numeric.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS gwr_records (
	id         TEXT PRIMARY KEY,
	egid       TEXT NOT NULL UNIQUE,
	record     TEXT NOT NULL,
	fetched_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_gwr_records_expires_at ON gwr_records(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetRecord(ctx context.Context, egid string) (gwr.Record, error) {
	var recJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM gwr_records WHERE egid = ? AND expires_at > ?`,
		egid, s.now().UnixMilli(),
	).Scan(&recJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get record")
	}

	var rec gwr.Record
	if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record")
	}
	return rec, nil
}

func (s *SQLiteStore) SetRecord(ctx context.Context, egid string, rec gwr.Record, ttl time.Duration) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO gwr_records (id, egid, record, fetched_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (egid) DO UPDATE SET record = excluded.record, fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		uuid.New().String(), egid, string(recJSON), now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	return eris.Wrap(err, "sqlite: set record")
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM gwr_records WHERE expires_at <= ?`,
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}
