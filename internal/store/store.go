// Package store caches extracted registry records between lookups.
package store

import (
	"context"
	"time"

	"github.com/sells-group/gwr-relay/internal/gwr"
)

// Store defines the persistence interface for cached records.
type Store interface {
	// GetRecord returns the unexpired record for egid, or nil, nil on a miss.
	GetRecord(ctx context.Context, egid string) (gwr.Record, error)
	// SetRecord inserts or replaces the record for egid.
	SetRecord(ctx context.Context, egid string, rec gwr.Record, ttl time.Duration) error
	// DeleteExpired removes expired records and returns how many were removed.
	DeleteExpired(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}
