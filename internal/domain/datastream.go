package domain

// Datastream is the catalog view the proxy needs: id, name and the
// storage-relevant properties.
type Datastream struct {
	ID         int64                `json:"id"`
	Name       string               `json:"name,omitempty"`
	Properties DatastreamProperties `json:"properties"`
}

// DatastreamProperties holds the fields read from the catalog's PROPERTIES
// document. Pointers distinguish "absent" from the zero value.
type DatastreamProperties struct {
	DataType                 string `json:"dataType,omitempty"`
	RawSensorData            *bool  `json:"rawSensorData,omitempty"`
	FullData                 *bool  `json:"fullData,omitempty"` // legacy alias of RawSensorData
	AveragePeriod            string `json:"averagePeriod,omitempty"`
	DefaultFeatureOfInterest *int64 `json:"defaultFeatureOfInterest,omitempty"`
}

// Raw returns the raw-data flag, falling back to the legacy fullData flag.
// ok is false when neither is present.
func (p DatastreamProperties) Raw() (raw bool, ok bool) {
	if p.RawSensorData != nil {
		return *p.RawSensorData, true
	}
	if p.FullData != nil {
		return *p.FullData, true
	}
	return false, false
}

// FeatureOfInterest returns the default feature of interest id, or 0.
func (p DatastreamProperties) FeatureOfInterest() int64 {
	if p.DefaultFeatureOfInterest == nil {
		return 0
	}
	return *p.DefaultFeatureOfInterest
}
