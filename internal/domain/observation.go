package domain

import "time"

// HypertableRow is one row read from timeseries, profiles or detections.
// QCFlag is nil for detections, Depth is nil unless the row is a profile.
type HypertableRow struct {
	DatastreamID int64
	Timestamp    time.Time
	Value        float64
	QCFlag       *int
	Depth        *float64
}

// NewObservation is a validated write payload destined for a hypertable.
type NewObservation struct {
	DatastreamID int64
	Kind         DataKind
	ResultTime   time.Time // truncated to seconds
	Result       float64
	QCFlag       int
	Depth        float64
}

// Row converts the payload into the row shape used on reads.
func (o NewObservation) Row() HypertableRow {
	row := HypertableRow{
		DatastreamID: o.DatastreamID,
		Timestamp:    o.ResultTime,
		Value:        o.Result,
	}
	if o.Kind.HasQuality() {
		qc := o.QCFlag
		row.QCFlag = &qc
	}
	if o.Kind.HasDepth() {
		d := o.Depth
		row.Depth = &d
	}
	return row
}
