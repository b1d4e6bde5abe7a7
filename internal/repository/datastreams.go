package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sta-timeseries/common/database"
	"sta-timeseries/internal/domain"

	"go.uber.org/zap"
)

// DatastreamsRepository reads datastream metadata from the catalog's
// "DATASTREAMS" table. It never writes.
type DatastreamsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDatastreamsRepository creates the catalog repository.
func NewDatastreamsRepository(db *sql.DB, logger *zap.Logger) *DatastreamsRepository {
	return &DatastreamsRepository{
		db:     db,
		logger: logger,
	}
}

const selectDatastreams = `SELECT "ID", "NAME", "PROPERTIES" FROM "DATASTREAMS"`

// ListDatastreams returns every datastream ordered by id.
func (r *DatastreamsRepository) ListDatastreams(ctx context.Context) ([]domain.Datastream, error) {
	rows, err := r.db.QueryContext(ctx, selectDatastreams+` ORDER BY "ID"`)
	if err != nil {
		return nil, classify(err, "failed to list datastreams")
	}
	defer rows.Close()

	var out []domain.Datastream
	for rows.Next() {
		ds, err := scanDatastream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to iterate datastreams")
	}
	return out, nil
}

// GetDatastream returns one datastream or a NotFound error.
func (r *DatastreamsRepository) GetDatastream(ctx context.Context, id int64) (*domain.Datastream, error) {
	row := r.db.QueryRowContext(ctx, selectDatastreams+` WHERE "ID" = $1`, id)
	ds, err := scanDatastream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("datastream %d not found", id)
	}
	return ds, err
}

// GetDatastreamByName returns the datastream with the given NAME.
func (r *DatastreamsRepository) GetDatastreamByName(ctx context.Context, name string) (*domain.Datastream, error) {
	row := r.db.QueryRowContext(ctx, selectDatastreams+` WHERE "NAME" = $1`, name)
	ds, err := scanDatastream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("datastream %q not found", name)
	}
	return ds, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDatastream(s scanner) (*domain.Datastream, error) {
	var (
		ds    domain.Datastream
		name  sql.NullString
		props []byte
	)
	if err := s.Scan(&ds.ID, &name, &props); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, classify(err, "failed to scan datastream")
	}
	ds.Name = name.String
	if len(props) > 0 {
		if err := json.Unmarshal(props, &ds.Properties); err != nil {
			return nil, domain.Configuration("datastream %d has malformed PROPERTIES: %v", ds.ID, err)
		}
	}
	return &ds, nil
}

// classify turns connectivity failures into BackendUnavailable and wraps
// everything else.
func classify(err error, msg string) error {
	if database.IsUnavailable(err) {
		return domain.BackendUnavailable(err, "%s", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
