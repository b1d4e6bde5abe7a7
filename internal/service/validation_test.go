package service

import (
	"encoding/json"
	"testing"
	"time"

	"sta-timeseries/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateObservation(t *testing.T) {
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		kind    domain.DataKind
		payload map[string]interface{}
		want    domain.NewObservation
	}{
		{
			name: "timeseries",
			kind: domain.KindTimeseries,
			payload: map[string]interface{}{
				"resultTime":    "2020-01-01T00:00:00.750Z",
				"result":        json.Number("12.5"),
				"resultQuality": map[string]interface{}{"qc_flag": json.Number("1")},
			},
			want: domain.NewObservation{DatastreamID: 7, Kind: domain.KindTimeseries, ResultTime: ts, Result: 12.5, QCFlag: 1},
		},
		{
			name: "timeseries integer result",
			kind: domain.KindTimeseries,
			payload: map[string]interface{}{
				"resultTime":    "2020-01-01T01:00:00+01:00",
				"result":        float64(3),
				"resultQuality": map[string]interface{}{"qc_flag": float64(2)},
			},
			want: domain.NewObservation{DatastreamID: 7, Kind: domain.KindTimeseries, ResultTime: ts, Result: 3, QCFlag: 2},
		},
		{
			name: "profiles",
			kind: domain.KindProfiles,
			payload: map[string]interface{}{
				"resultTime":    "2020-01-01T00:00:00z",
				"result":        json.Number("14.1"),
				"resultQuality": map[string]interface{}{"qc_flag": json.Number("1")},
				"parameters":    map[string]interface{}{"depth": json.Number("2.5")},
			},
			want: domain.NewObservation{DatastreamID: 7, Kind: domain.KindProfiles, ResultTime: ts, Result: 14.1, QCFlag: 1, Depth: 2.5},
		},
		{
			name: "detections",
			kind: domain.KindDetections,
			payload: map[string]interface{}{
				"resultTime": "2020-01-01T00:00:00Z",
				"result":     json.Number("4"),
			},
			want: domain.NewObservation{DatastreamID: 7, Kind: domain.KindDetections, ResultTime: ts, Result: 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateObservation(7, tt.kind, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Result, got.Result)
			assert.Equal(t, tt.want.QCFlag, got.QCFlag)
			assert.Equal(t, tt.want.Depth, got.Depth)
			assert.True(t, tt.want.ResultTime.Equal(got.ResultTime), "got %s", got.ResultTime)
			assert.Equal(t, tt.want.DatastreamID, got.DatastreamID)
			assert.Equal(t, tt.want.Kind, got.Kind)
		})
	}
}

func TestValidateObservation_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		kind    domain.DataKind
		payload map[string]interface{}
	}{
		{"missing resultTime", domain.KindDetections, map[string]interface{}{"result": json.Number("1")}},
		{"numeric resultTime", domain.KindDetections, map[string]interface{}{"resultTime": json.Number("1577836800"), "result": json.Number("1")}},
		{"bad resultTime", domain.KindDetections, map[string]interface{}{"resultTime": "yesterday", "result": json.Number("1")}},
		{"fractional detection", domain.KindDetections, map[string]interface{}{"resultTime": "2020-01-01T00:00:00Z", "result": json.Number("1.5")}},
		{"string result", domain.KindTimeseries, map[string]interface{}{
			"resultTime":    "2020-01-01T00:00:00Z",
			"result":        "12.5",
			"resultQuality": map[string]interface{}{"qc_flag": json.Number("1")},
		}},
		{"missing qc_flag", domain.KindTimeseries, map[string]interface{}{
			"resultTime": "2020-01-01T00:00:00Z",
			"result":     json.Number("12.5"),
		}},
		{"missing depth", domain.KindProfiles, map[string]interface{}{
			"resultTime":    "2020-01-01T00:00:00Z",
			"result":        json.Number("12.5"),
			"resultQuality": map[string]interface{}{"qc_flag": json.Number("1")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateObservation(7, tt.kind, tt.payload)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
			assert.Contains(t, err.Error(), "expected fields")
		})
	}
}
