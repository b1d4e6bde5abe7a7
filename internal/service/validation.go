package service

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"sta-timeseries/internal/domain"
)

// ValidateObservation checks a write payload against the fields required
// for kind and converts it. Numbers may be json.Number or float64.
func ValidateObservation(datastreamID int64, kind domain.DataKind, payload map[string]interface{}) (domain.NewObservation, error) {
	obs := domain.NewObservation{DatastreamID: datastreamID, Kind: kind}

	ts, err := resultTime(payload)
	if err != nil {
		return obs, domain.Validation("%s data not properly formatted: %v; %s", kind, err, expectedFields(kind))
	}
	obs.ResultTime = ts

	switch kind {
	case domain.KindDetections:
		v, ok := integer(payload["result"])
		if !ok {
			return obs, domain.Validation("%s data not properly formatted: result must be an integer; %s", kind, expectedFields(kind))
		}
		obs.Result = float64(v)
	case domain.KindTimeseries, domain.KindProfiles:
		v, ok := number(payload["result"])
		if !ok {
			return obs, domain.Validation("%s data not properly formatted: result must be a number; %s", kind, expectedFields(kind))
		}
		obs.Result = v

		qc, ok := integer(nested(payload, "resultQuality", "qc_flag"))
		if !ok {
			return obs, domain.Validation("%s data not properly formatted: resultQuality/qc_flag must be an integer; %s", kind, expectedFields(kind))
		}
		obs.QCFlag = int(qc)

		if kind == domain.KindProfiles {
			depth, ok := number(nested(payload, "parameters", "depth"))
			if !ok {
				return obs, domain.Validation("%s data not properly formatted: parameters/depth must be a number; %s", kind, expectedFields(kind))
			}
			obs.Depth = depth
		}
	default:
		return obs, domain.Configuration("cannot write observations of kind %s", kind)
	}
	return obs, nil
}

func expectedFields(kind domain.DataKind) string {
	switch kind {
	case domain.KindProfiles:
		return "expected fields 'resultTime' (str), 'result' (float), 'parameters/depth' (float) and 'resultQuality/qc_flag' (int)"
	case domain.KindDetections:
		return "expected fields 'resultTime' (str) and 'result' (int)"
	default:
		return "expected fields 'resultTime' (str), 'result' (float) and 'resultQuality/qc_flag' (int)"
	}
}

type fieldError string

func (e fieldError) Error() string { return string(e) }

func resultTime(payload map[string]interface{}) (time.Time, error) {
	raw, ok := payload["resultTime"].(string)
	if !ok {
		return time.Time{}, fieldError("resultTime must be a string")
	}
	s := raw
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fieldError("resultTime " + raw + " is not an ISO-8601 date-time")
	}
	return t.UTC().Truncate(time.Second), nil
}

func nested(payload map[string]interface{}, outer, inner string) interface{} {
	m, ok := payload[outer].(map[string]interface{})
	if !ok {
		return nil
	}
	return m[inner]
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func integer(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
