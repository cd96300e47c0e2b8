package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	data, err := json.Marshal(sampleRecord("190581"))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT record FROM gwr_records WHERE egid = \$1 AND expires_at > now\(\)`).
		WithArgs("190581").
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(data))

	rec, err := s.GetRecord(context.Background(), "190581")
	require.NoError(t, err)
	assert.Equal(t, sampleRecord("190581"), rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT record FROM gwr_records`).
		WithArgs("unknown").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetRecord(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT record FROM gwr_records`).
		WithArgs("1").
		WillReturnError(eris.New("connection reset"))

	_, err := s.GetRecord(context.Background(), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: get record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetRecord_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(egid\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "190581", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetRecord(context.Background(), "190581", sampleRecord("190581"), time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetRecord_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO gwr_records`).
		WithArgs(pgxmock.AnyArg(), "1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(eris.New("disk full"))

	err := s.SetRecord(context.Background(), "1", sampleRecord("1"), time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: set record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM gwr_records WHERE expires_at <= now\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS gwr_records`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CloseWithoutPool(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	assert.NoError(t, s.Close())
}
