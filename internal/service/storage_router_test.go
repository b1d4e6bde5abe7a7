package service

import (
	"context"
	"testing"
	"time"

	"sta-timeseries/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRouteFor(t *testing.T) {
	tests := []struct {
		name    string
		props   domain.DatastreamProperties
		want    domain.Route
		errKind domain.ErrorKind
	}{
		{
			name:  "raw timeseries",
			props: domain.DatastreamProperties{DataType: "timeseries", RawSensorData: boolPtr(true)},
			want:  domain.Route{Backend: domain.BackendHypertable, Kind: domain.KindTimeseries},
		},
		{
			name:  "averaged timeseries",
			props: domain.DatastreamProperties{DataType: "timeseries", AveragePeriod: "30min"},
			want:  domain.Route{Backend: domain.BackendRelational, Averaged: true},
		},
		{
			name:  "averaged wins over raw flag",
			props: domain.DatastreamProperties{DataType: "profiles", RawSensorData: boolPtr(true), AveragePeriod: "1h"},
			want:  domain.Route{Backend: domain.BackendRelational, Averaged: true},
		},
		{
			name:  "raw profiles",
			props: domain.DatastreamProperties{DataType: "profiles", RawSensorData: boolPtr(true)},
			want:  domain.Route{Backend: domain.BackendHypertable, Kind: domain.KindProfiles},
		},
		{
			name:  "legacy fullData flag",
			props: domain.DatastreamProperties{DataType: "detections", FullData: boolPtr(true)},
			want:  domain.Route{Backend: domain.BackendHypertable, Kind: domain.KindDetections},
		},
		{
			name:  "other data type",
			props: domain.DatastreamProperties{DataType: "pictures"},
			want:  domain.Route{Backend: domain.BackendRelational},
		},
		{
			name:    "no data type",
			props:   domain.DatastreamProperties{},
			errKind: domain.KindConfiguration,
		},
		{
			name:    "missing raw flag",
			props:   domain.DatastreamProperties{DataType: "timeseries"},
			errKind: domain.KindConfiguration,
		},
		{
			name:    "not raw and not averaged",
			props:   domain.DatastreamProperties{DataType: "timeseries", RawSensorData: boolPtr(false)},
			errKind: domain.KindConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := RouteFor(&domain.Datastream{ID: 1, Properties: tt.props})
			if tt.errKind != domain.KindInternal {
				require.Error(t, err)
				assert.Equal(t, tt.errKind, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, route)
		})
	}
}

func TestStorageRouter_Route(t *testing.T) {
	catalog := newFakeCatalog(rawDatastream(7, "temp", "timeseries", 3))
	cache := NewDatastreamCache(catalog, nil, time.Minute, nil, zap.NewNop())
	router := NewStorageRouter(cache, zap.NewNop())
	ctx := context.Background()

	route, err := router.Route(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.BackendHypertable, route.Backend)
	assert.Equal(t, domain.KindTimeseries, route.Kind)

	// same datastream after the catalog switched it to averaged data
	catalog.set(averagedDatastream(7, "temp", "timeseries", 3))
	require.NoError(t, cache.Invalidate(ctx, 7))

	route, err = router.Route(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.BackendRelational, route.Backend)
	assert.True(t, route.Averaged)

	_, err = router.Route(ctx, 404)
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
