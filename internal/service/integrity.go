package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sta-timeseries/internal/domain"

	"go.uber.org/zap"
)

// IntegritySource is the storage the integrity check inspects.
type IntegritySource interface {
	DistinctDatastreams(ctx context.Context, kind domain.DataKind) ([]int64, error)
	RelationalObservationCounts(ctx context.Context, datastreamIDs []int64) (map[int64]int64, error)
}

// DatastreamSnapshot lists the whole catalog.
type DatastreamSnapshot interface {
	All(ctx context.Context) ([]domain.Datastream, error)
}

// Violation is one datastream stored where its properties say it must not be.
type Violation struct {
	DatastreamID int64  `json:"datastream_id"`
	Store        string `json:"store"`
	Problem      string `json:"problem"`
}

// IntegrityReport is the result of one check.
type IntegrityReport struct {
	CheckedAt   time.Time   `json:"checked_at"`
	Datastreams int         `json:"datastreams"`
	Violations  []Violation `json:"violations"`
}

// OK reports whether the check found nothing.
func (r *IntegrityReport) OK() bool { return len(r.Violations) == 0 }

// IntegrityService compares where observations are stored with where the
// storage router would look for them. It never repairs anything.
type IntegrityService struct {
	catalog DatastreamSnapshot
	source  IntegritySource
	logger  *zap.Logger
}

func NewIntegrityService(catalog DatastreamSnapshot, source IntegritySource, logger *zap.Logger) *IntegrityService {
	return &IntegrityService{
		catalog: catalog,
		source:  source,
		logger:  logger,
	}
}

// Check verifies that every datastream found in a hypertable routes to that
// hypertable, and that no hypertable datastream has relational rows.
func (s *IntegrityService) Check(ctx context.Context) (*IntegrityReport, error) {
	list, err := s.catalog.All(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*domain.Datastream, len(list))
	for i := range list {
		byID[list[i].ID] = &list[i]
	}

	report := &IntegrityReport{CheckedAt: time.Now().UTC(), Datastreams: len(list), Violations: []Violation{}}

	for _, kind := range domain.Kinds {
		ids, err := s.source.DistinctDatastreams(ctx, kind)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if problem := misplaced(byID[id], kind); problem != "" {
				report.Violations = append(report.Violations, Violation{DatastreamID: id, Store: kind.Table(), Problem: problem})
			}
		}
	}

	var hyper []int64
	for _, ds := range list {
		if route, err := RouteFor(&ds); err == nil && route.Backend == domain.BackendHypertable {
			hyper = append(hyper, ds.ID)
		}
	}
	sort.Slice(hyper, func(i, j int) bool { return hyper[i] < hyper[j] })

	counts, err := s.source.RelationalObservationCounts(ctx, hyper)
	if err != nil {
		return nil, err
	}
	for _, id := range hyper {
		if n := counts[id]; n > 0 {
			report.Violations = append(report.Violations, Violation{
				DatastreamID: id,
				Store:        "OBSERVATIONS",
				Problem:      fmt.Sprintf("%d relational rows for a %s hypertable datastream", n, byID[id].Properties.DataType),
			})
		}
	}

	if !report.OK() {
		s.logger.Warn("Storage integrity violations found", zap.Int("violations", len(report.Violations)))
	}
	return report, nil
}

// misplaced explains why ds must not have rows in kind's hypertable, or
// returns "".
func misplaced(ds *domain.Datastream, kind domain.DataKind) string {
	if ds == nil {
		return "datastream not in catalog"
	}
	route, err := RouteFor(ds)
	if err != nil {
		return err.Error()
	}
	if route.Backend != domain.BackendHypertable {
		return "datastream routes to the relational store"
	}
	if route.Kind != kind {
		return fmt.Sprintf("datastream routes to %s", route.Kind.Table())
	}
	return ""
}
