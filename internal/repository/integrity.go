package repository

import (
	"context"
	"database/sql"
	"fmt"

	"sta-timeseries/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// IntegrityRepository holds the read-only queries behind the storage
// integrity check.
type IntegrityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIntegrityRepository creates the integrity repository.
func NewIntegrityRepository(db *sql.DB, logger *zap.Logger) *IntegrityRepository {
	return &IntegrityRepository{
		db:     db,
		logger: logger,
	}
}

// DistinctDatastreams lists the datastream ids present in a hypertable.
func (r *IntegrityRepository) DistinctDatastreams(ctx context.Context, kind domain.DataKind) ([]int64, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid data kind %s", kind)
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT datastream_id FROM %s ORDER BY datastream_id", kind.Table()))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("failed to list datastreams in %s", kind.Table()))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err, "failed to scan datastream id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to iterate datastream ids")
	}
	return ids, nil
}

// RelationalObservationCounts returns, for the given datastreams, how many
// rows each has in the relational "OBSERVATIONS" table. Datastreams with no
// rows are absent from the result.
func (r *IntegrityRepository) RelationalObservationCounts(ctx context.Context, datastreamIDs []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64)
	if len(datastreamIDs) == 0 {
		return counts, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT "DATASTREAM_ID", count(*)
		FROM "OBSERVATIONS"
		WHERE "DATASTREAM_ID" = ANY($1)
		GROUP BY "DATASTREAM_ID"
	`, pq.Array(datastreamIDs))
	if err != nil {
		return nil, classify(err, "failed to count relational observations")
	}
	defer rows.Close()

	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, classify(err, "failed to scan observation count")
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to iterate observation counts")
	}
	return counts, nil
}
