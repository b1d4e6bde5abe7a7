package service

import (
	"context"
	"time"

	"sta-timeseries/internal/domain"
	"sta-timeseries/internal/metrics"
	"sta-timeseries/internal/obsid"
	"sta-timeseries/internal/query"

	"go.uber.org/zap"
)

// HypertableStore is the hypertable executor.
type HypertableStore interface {
	Query(ctx context.Context, datastreamID int64, kind domain.DataKind, opts *query.Options) ([]domain.HypertableRow, error)
	GetByTimestamp(ctx context.Context, datastreamID int64, kind domain.DataKind, epochSeconds int64) (*domain.HypertableRow, error)
	Insert(ctx context.Context, obs domain.NewObservation) (bool, error)
}

// Page is one page of hypertable-backed observations.
type Page struct {
	Values   []interface{}
	NextLink string
}

// Body renders the page as a SensorThings collection.
func (p *Page) Body() map[string]interface{} {
	body := map[string]interface{}{"value": p.Values}
	if p.NextLink != "" {
		body["@iot.nextLink"] = p.NextLink
	}
	return body
}

// CreateResult describes a hypertable insert.
type CreateResult struct {
	ID       int64
	Location string
	Created  bool // false when the row already existed
}

// ObservationService serves observations stored in hypertables.
type ObservationService struct {
	datastreams DatastreamLookup
	router      *StorageRouter
	store       HypertableStore
	assembler   *Assembler
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewObservationService wires the read/write path. m may be nil.
func NewObservationService(datastreams DatastreamLookup, router *StorageRouter, store HypertableStore, assembler *Assembler, m *metrics.Metrics, logger *zap.Logger) *ObservationService {
	return &ObservationService{
		datastreams: datastreams,
		router:      router,
		store:       store,
		assembler:   assembler,
		metrics:     m,
		logger:      logger,
	}
}

// Route exposes the storage decision for handlers.
func (s *ObservationService) Route(ctx context.Context, datastreamID int64) (domain.Route, error) {
	return s.router.Route(ctx, datastreamID)
}

// List returns one page of a hypertable datastream. currentURL is the
// public URL of the request, used for the next link; pass "" to build a
// Datastreams(id)/Observations link instead.
func (s *ObservationService) List(ctx context.Context, datastreamID int64, kind domain.DataKind, opts *query.Options, currentURL string) (*Page, error) {
	if err := checkExpand(opts); err != nil {
		return nil, err
	}
	ds, err := s.datastreams.Get(ctx, datastreamID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.store.Query(ctx, datastreamID, kind, opts)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveHypertableQuery(kind.String(), len(rows), time.Since(start))

	values, err := s.assembler.Format(rows, ds, kind, opts)
	if err != nil {
		return nil, err
	}
	return &Page{
		Values:   values,
		NextLink: s.assembler.NextLink(len(rows), opts, datastreamID, currentURL),
	}, nil
}

// Get returns the observation with a synthetic id.
func (s *ObservationService) Get(ctx context.Context, id int64, opts *query.Options) (map[string]interface{}, error) {
	if err := checkExpand(opts); err != nil {
		return nil, err
	}
	datastreamID, secs, kind, err := obsid.Decode(id)
	if err != nil {
		return nil, err
	}

	route, err := s.router.Route(ctx, datastreamID)
	if err != nil {
		return nil, err
	}
	if route.Backend != domain.BackendHypertable || route.Kind != kind {
		return nil, domain.NotFound("observation %d not found", id)
	}

	ds, err := s.datastreams.Get(ctx, datastreamID)
	if err != nil {
		return nil, err
	}
	row, err := s.store.GetByTimestamp(ctx, datastreamID, kind, secs)
	if err != nil {
		return nil, err
	}
	return s.assembler.Observation(*row, ds, kind, opts)
}

// Create validates payload and inserts it. Writing a row that already
// exists succeeds with Created false.
func (s *ObservationService) Create(ctx context.Context, datastreamID int64, kind domain.DataKind, payload map[string]interface{}) (*CreateResult, error) {
	obs, err := ValidateObservation(datastreamID, kind, payload)
	if err != nil {
		return nil, err
	}
	id, err := obsid.EncodeTime(datastreamID, obs.ResultTime, kind)
	if err != nil {
		return nil, err
	}

	inserted, err := s.store.Insert(ctx, obs)
	if err != nil {
		s.metrics.IncInsert(kind.String(), "error")
		return nil, err
	}
	if inserted {
		s.metrics.IncInsert(kind.String(), "inserted")
	} else {
		s.metrics.IncInsert(kind.String(), "duplicate")
		s.logger.Info("Observation already stored",
			zap.Int64("datastream_id", datastreamID),
			zap.String("kind", kind.String()),
			zap.Int64("observation_id", id),
		)
	}

	return &CreateResult{
		ID:       id,
		Location: s.assembler.ObservationURL(id),
		Created:  inserted,
	}, nil
}

// ExpandObservations builds the Observations of a datastream for $expand.
// handled is false when the datastream is not hypertable-backed, in which
// case the upstream's expansion stands.
func (s *ObservationService) ExpandObservations(ctx context.Context, datastreamID int64, opts *query.Options) (values []interface{}, nextLink string, handled bool, err error) {
	route, err := s.router.Route(ctx, datastreamID)
	if err != nil {
		return nil, "", false, err
	}
	if route.Backend != domain.BackendHypertable {
		return nil, "", false, nil
	}
	page, err := s.List(ctx, datastreamID, route.Kind, opts, "")
	if err != nil {
		return nil, "", false, err
	}
	return page.Values, page.NextLink, true, nil
}

// checkExpand rejects $expand on hypertable observations, which have no
// related entities to attach. A malformed value is still a syntax error.
func checkExpand(opts *query.Options) error {
	if opts == nil || opts.Expand == "" {
		return nil
	}
	if err := query.ValidateExpand(opts.Expand); err != nil {
		return err
	}
	return domain.NotImplemented("$expand=%s is not supported for observations stored in hypertables", opts.Expand)
}
