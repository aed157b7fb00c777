package lock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresLockerPollsUntilAcquired(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	id := AdvisoryKey("k")
	mock.ExpectQuery("SELECT pg_try_advisory_lock($1)").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
	mock.ExpectQuery("SELECT pg_try_advisory_lock($1)").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery("SELECT pg_advisory_unlock($1)").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	l := NewPostgresLocker(db)
	l.pollInterval = time.Millisecond

	release, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLockerReportsUnheldUnlock(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	id := AdvisoryKey("k")
	mock.ExpectQuery("SELECT pg_try_advisory_lock($1)").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery("SELECT pg_advisory_unlock($1)").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(false))

	release, err := NewPostgresLocker(db).Lock(context.Background(), "k")
	require.NoError(t, err)
	assert.Error(t, release(context.Background()))
}

func TestAdvisoryKeyIsStable(t *testing.T) {
	assert.Equal(t, AdvisoryKey("meterflow:subscription:1:2:3"), AdvisoryKey("meterflow:subscription:1:2:3"))
	assert.NotEqual(t, AdvisoryKey("a"), AdvisoryKey("b"))
}
