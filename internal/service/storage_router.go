package service

import (
	"context"

	"sta-timeseries/internal/domain"

	"go.uber.org/zap"
)

// DatastreamLookup is the part of the properties cache the router needs.
type DatastreamLookup interface {
	Get(ctx context.Context, id int64) (*domain.Datastream, error)
}

// StorageRouter decides which physical store holds a datastream's observations.
type StorageRouter struct {
	datastreams DatastreamLookup
	logger      *zap.Logger
}

// NewStorageRouter creates the router.
func NewStorageRouter(datastreams DatastreamLookup, logger *zap.Logger) *StorageRouter {
	return &StorageRouter{
		datastreams: datastreams,
		logger:      logger,
	}
}

// Route returns the storage decision for datastreamID.
func (r *StorageRouter) Route(ctx context.Context, datastreamID int64) (domain.Route, error) {
	ds, err := r.datastreams.Get(ctx, datastreamID)
	if err != nil {
		return domain.Route{}, err
	}
	route, err := RouteFor(ds)
	if err != nil {
		r.logger.Error("Datastream storage configuration is inconsistent",
			zap.Int64("datastream_id", datastreamID),
			zap.Error(err),
		)
		return domain.Route{}, err
	}
	return route, nil
}

// RouteFor applies the routing rule to one datastream's properties:
// averaged data and non-hypertable data types live in the relational store,
// raw timeseries, profiles and detections live in their hypertable.
func RouteFor(ds *domain.Datastream) (domain.Route, error) {
	p := ds.Properties
	if p.DataType == "" {
		return domain.Route{}, domain.Configuration("datastream %d has no dataType", ds.ID)
	}
	if p.AveragePeriod != "" {
		return domain.Route{Backend: domain.BackendRelational, Averaged: true}, nil
	}

	kind, ok := domain.ParseDataKind(p.DataType)
	if !ok {
		return domain.Route{Backend: domain.BackendRelational}, nil
	}

	raw, present := p.Raw()
	if !present {
		return domain.Route{}, domain.Configuration("datastream %d has dataType %s but no rawSensorData flag", ds.ID, p.DataType)
	}
	if !raw {
		return domain.Route{}, domain.Configuration("datastream %d has dataType %s, rawSensorData=false and no averagePeriod", ds.ID, p.DataType)
	}
	return domain.Route{Backend: domain.BackendHypertable, Kind: kind}, nil
}
