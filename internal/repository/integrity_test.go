package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"sta-timeseries/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockIntegrityDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *IntegrityRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewIntegrityRepository(db, logger)

	return db, mock, repo
}

func TestDistinctDatastreams(t *testing.T) {
	db, mock, repo := setupMockIntegrityDB(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT datastream_id FROM profiles ORDER BY datastream_id")).
		WillReturnRows(sqlmock.NewRows([]string{"datastream_id"}).AddRow(int64(2)).AddRow(int64(5)))

	ids, err := repo.DistinctDatastreams(context.Background(), domain.KindProfiles)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 5}, ids)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalObservationCounts(t *testing.T) {
	db, mock, repo := setupMockIntegrityDB(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "OBSERVATIONS"`)).
		WithArgs(pq.Array([]int64{1, 2, 3})).
		WillReturnRows(sqlmock.NewRows([]string{"DATASTREAM_ID", "count"}).AddRow(int64(2), int64(40)))

	counts, err := repo.RelationalObservationCounts(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{2: 40}, counts)

	empty, err := repo.RelationalObservationCounts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, mock.ExpectationsWereMet())
}
