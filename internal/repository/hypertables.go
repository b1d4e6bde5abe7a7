package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sta-timeseries/common/database"
	"sta-timeseries/internal/domain"
	"sta-timeseries/internal/query"

	"go.uber.org/zap"
)

// HypertablesRepository runs reads and writes against the timeseries,
// profiles and detections hypertables.
type HypertablesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHypertablesRepository creates the hypertable executor.
func NewHypertablesRepository(db *sql.DB, logger *zap.Logger) *HypertablesRepository {
	return &HypertablesRepository{
		db:     db,
		logger: logger,
	}
}

// selectColumns is the column list read per kind, in scan order.
func selectColumns(kind domain.DataKind) string {
	switch kind {
	case domain.KindProfiles:
		return "timestamp, depth, value, qc_flag"
	case domain.KindDetections:
		return "timestamp, value"
	default:
		return "timestamp, value, qc_flag"
	}
}

// naturalKey lists the columns that make rows of kind unique per datastream.
func naturalKey(kind domain.DataKind) []string {
	if kind.HasDepth() {
		return []string{"timestamp", "depth"}
	}
	return []string{"timestamp"}
}

// checkColumns rejects columns the kind's table does not have.
func checkColumns(kind domain.DataKind, cols []string) error {
	for _, c := range cols {
		switch c {
		case "timestamp", "value", "datastream_id":
		case "qc_flag":
			if !kind.HasQuality() {
				return domain.ProtocolSyntax("resultQuality is not available for %s datastreams", kind)
			}
		case "depth":
			if !kind.HasDepth() {
				return domain.ProtocolSyntax("parameters/depth is not available for %s datastreams", kind)
			}
		default:
			return domain.ProtocolSyntax("unsupported column %q", c)
		}
	}
	return nil
}

// buildSelect renders the bounded, ordered SELECT for one page.
func buildSelect(datastreamID int64, kind domain.DataKind, opts *query.Options) (string, []interface{}, error) {
	cols := query.Columns(opts.Filter)
	for _, t := range opts.OrderBy {
		cols = append(cols, t.Column)
	}
	if err := checkColumns(kind, cols); err != nil {
		return "", nil, err
	}

	args := []interface{}{datastreamID}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE datastream_id = $1", selectColumns(kind), kind.Table())
	if opts.Filter != nil {
		pred, fargs := query.SQL(opts.Filter, len(args))
		sb.WriteString(" AND (" + pred + ")")
		args = append(args, fargs...)
	}
	sb.WriteString(" " + query.OrderByClause(opts.OrderBy, naturalKey(kind)...))
	fmt.Fprintf(&sb, " LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, opts.Top, opts.Skip)
	return sb.String(), args, nil
}

// Query returns one page of rows for a datastream.
func (r *HypertablesRepository) Query(ctx context.Context, datastreamID int64, kind domain.DataKind, opts *query.Options) ([]domain.HypertableRow, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid data kind %s", kind)
	}
	q, args, err := buildSelect(datastreamID, kind, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("failed to query %s", kind.Table()))
	}
	defer rows.Close()

	var out []domain.HypertableRow
	for rows.Next() {
		row, err := scanRow(rows, datastreamID, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, fmt.Sprintf("failed to iterate %s", kind.Table()))
	}

	r.logger.Debug("Hypertable query",
		zap.Int64("datastream_id", datastreamID),
		zap.String("kind", kind.String()),
		zap.Int("rows", len(out)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// GetByTimestamp returns the row at epochSeconds. Profiles may hold several
// depths for one timestamp; the shallowest is returned.
func (r *HypertablesRepository) GetByTimestamp(ctx context.Context, datastreamID int64, kind domain.DataKind, epochSeconds int64) (*domain.HypertableRow, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid data kind %s", kind)
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE datastream_id = $1 AND timestamp = to_timestamp($2) %s LIMIT 1",
		selectColumns(kind), kind.Table(), query.OrderByClause(nil, naturalKey(kind)...))

	row := r.db.QueryRowContext(ctx, q, datastreamID, epochSeconds)
	out, err := scanRow(row, datastreamID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("observation not found in datastream %d at %s",
				datastreamID, time.Unix(epochSeconds, 0).UTC().Format(time.RFC3339))
		}
		return nil, err
	}
	return &out, nil
}

func scanRow(s scanner, datastreamID int64, kind domain.DataKind) (domain.HypertableRow, error) {
	row := domain.HypertableRow{DatastreamID: datastreamID}
	var (
		qc    sql.NullInt64
		depth sql.NullFloat64
		err   error
	)
	switch kind {
	case domain.KindProfiles:
		err = s.Scan(&row.Timestamp, &depth, &row.Value, &qc)
	case domain.KindDetections:
		err = s.Scan(&row.Timestamp, &row.Value)
	default:
		err = s.Scan(&row.Timestamp, &row.Value, &qc)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row, err
		}
		return row, classify(err, fmt.Sprintf("failed to scan %s row", kind.Table()))
	}
	row.Timestamp = row.Timestamp.UTC()
	if qc.Valid {
		v := int(qc.Int64)
		row.QCFlag = &v
	}
	if depth.Valid {
		v := depth.Float64
		row.Depth = &v
	}
	return row, nil
}

func insertStatement(obs domain.NewObservation) (string, []interface{}) {
	ts := obs.ResultTime.UTC().Truncate(time.Second)
	switch obs.Kind {
	case domain.KindProfiles:
		return `INSERT INTO profiles (timestamp, depth, value, qc_flag, datastream_id) VALUES ($1, $2, $3, $4, $5)`,
			[]interface{}{ts, obs.Depth, obs.Result, obs.QCFlag, obs.DatastreamID}
	case domain.KindDetections:
		return `INSERT INTO detections (timestamp, value, datastream_id) VALUES ($1, $2, $3)`,
			[]interface{}{ts, int64(obs.Result), obs.DatastreamID}
	default:
		return `INSERT INTO timeseries (timestamp, value, qc_flag, datastream_id) VALUES ($1, $2, $3, $4)`,
			[]interface{}{ts, obs.Result, obs.QCFlag, obs.DatastreamID}
	}
}

// Insert writes one observation inside its own transaction. A duplicate
// natural key is not an error: the row is left as it was and inserted is false.
func (r *HypertablesRepository) Insert(ctx context.Context, obs domain.NewObservation) (inserted bool, err error) {
	if !obs.Kind.Valid() {
		return false, fmt.Errorf("invalid data kind %s", obs.Kind)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify(err, "failed to begin transaction")
	}

	stmt, args := insertStatement(obs)
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Warn("Failed to rollback insert", zap.Error(rbErr))
		}
		if database.IsUniqueViolation(err) {
			r.logger.Debug("Duplicate observation ignored",
				zap.Int64("datastream_id", obs.DatastreamID),
				zap.String("kind", obs.Kind.String()),
				zap.Time("timestamp", obs.ResultTime),
			)
			return false, nil
		}
		return false, classify(err, fmt.Sprintf("failed to insert into %s", obs.Kind.Table()))
	}

	if err := tx.Commit(); err != nil {
		return false, classify(err, "failed to commit insert")
	}
	return true, nil
}
