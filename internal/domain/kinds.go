package domain

import "fmt"

// DataKind identifies which hypertable holds a datastream's raw rows.
type DataKind int

const (
	KindUnknown DataKind = iota
	KindTimeseries
	KindProfiles
	KindDetections
)

// Kinds lists the hypertable kinds in table order.
var Kinds = []DataKind{KindTimeseries, KindProfiles, KindDetections}

func (k DataKind) String() string {
	switch k {
	case KindTimeseries:
		return "timeseries"
	case KindProfiles:
		return "profiles"
	case KindDetections:
		return "detections"
	default:
		return "unknown"
	}
}

// Table returns the hypertable name for k.
func (k DataKind) Table() string {
	return k.String()
}

// Valid reports whether k is one of the hypertable kinds.
func (k DataKind) Valid() bool {
	return k >= KindTimeseries && k <= KindDetections
}

// HasQuality reports whether rows of this kind carry a qc_flag column.
func (k DataKind) HasQuality() bool {
	return k == KindTimeseries || k == KindProfiles
}

// HasDepth reports whether rows of this kind carry a depth column.
func (k DataKind) HasDepth() bool {
	return k == KindProfiles
}

// ParseDataKind maps a catalog dataType to a hypertable kind.
// The second result is false for every other dataType (json, files, ...).
func ParseDataKind(dataType string) (DataKind, bool) {
	switch dataType {
	case "timeseries":
		return KindTimeseries, true
	case "profiles":
		return KindProfiles, true
	case "detections":
		return KindDetections, true
	default:
		return KindUnknown, false
	}
}

// Backend is the physical store a datastream's observations live in.
type Backend int

const (
	BackendRelational Backend = iota
	BackendHypertable
)

func (b Backend) String() string {
	switch b {
	case BackendRelational:
		return "relational"
	case BackendHypertable:
		return "hypertable"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// Route is the storage decision for one datastream.
type Route struct {
	Backend  Backend
	Kind     DataKind // set only for BackendHypertable
	Averaged bool
}
