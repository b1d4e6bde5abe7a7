package service

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"sta-timeseries/internal/domain"
	"sta-timeseries/internal/obsid"
	"sta-timeseries/internal/query"
)

// TimeFormat is the layout of phenomenonTime and resultTime.
const TimeFormat = "2006-01-02T15:04:05Z"

// Assembler turns hypertable rows into SensorThings observation objects.
type Assembler struct {
	serviceURL string
}

// NewAssembler creates an assembler that builds links under serviceURL.
func NewAssembler(serviceURL string) *Assembler {
	return &Assembler{serviceURL: strings.TrimRight(serviceURL, "/")}
}

// Observation builds one observation object with $select applied.
func (a *Assembler) Observation(row domain.HypertableRow, ds *domain.Datastream, kind domain.DataKind, opts *query.Options) (map[string]interface{}, error) {
	id, err := obsid.EncodeTime(ds.ID, row.Timestamp, kind)
	if err != nil {
		return nil, err
	}
	t := row.Timestamp.UTC().Format(TimeFormat)

	var result interface{} = row.Value
	if kind == domain.KindDetections {
		result = int64(row.Value)
	}

	obs := map[string]interface{}{
		"@iot.id":                       id,
		"phenomenonTime":                t,
		"result":                        result,
		"resultTime":                    t,
		"@iot.selfLink":                 fmt.Sprintf("%s/Observations(%d)", a.serviceURL, id),
		"Datastream@iot.navigationLink": fmt.Sprintf("%s/Datastreams(%d)", a.serviceURL, ds.ID),
	}
	if foi := ds.Properties.FeatureOfInterest(); foi > 0 {
		obs["FeatureOfInterest@iot.navigationLink"] = fmt.Sprintf("%s/FeaturesOfInterest(%d)", a.serviceURL, foi)
	}
	if kind.HasQuality() {
		var qc interface{}
		if row.QCFlag != nil {
			qc = *row.QCFlag
		}
		obs["resultQuality"] = map[string]interface{}{"qc_flag": qc}
	}
	if kind.HasDepth() {
		var depth interface{}
		if row.Depth != nil {
			depth = *row.Depth
		}
		obs["parameters"] = map[string]interface{}{"depth": depth}
	}

	if opts != nil && opts.Select != nil {
		for k := range obs {
			if !opts.Selected(k) {
				delete(obs, k)
			}
		}
	}
	return obs, nil
}

// Format builds the observation list for rows, in order.
func (a *Assembler) Format(rows []domain.HypertableRow, ds *domain.Datastream, kind domain.DataKind, opts *query.Options) ([]interface{}, error) {
	out := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		obs, err := a.Observation(row, ds, kind, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}

// NextLink returns the link to the following page, or "" when n rows is
// less than a full page. When currentURL is set its $skip is advanced,
// otherwise a Datastreams(id)/Observations link is built from opts.
func (a *Assembler) NextLink(n int, opts *query.Options, datastreamID int64, currentURL string) string {
	if opts.Top <= 0 || n < opts.Top {
		return ""
	}
	next := opts.Skip + opts.Top

	if currentURL != "" {
		return withSkip(currentURL, next)
	}

	params := []string{
		"$top=" + strconv.Itoa(opts.Top),
		"$skip=" + strconv.Itoa(next),
	}
	for _, key := range []string{"$filter", "$orderBy", "$select"} {
		if v, ok := opts.Raw[key]; ok {
			params = append(params, key+"="+url.QueryEscape(v))
		}
	}
	return fmt.Sprintf("%s/Datastreams(%d)/Observations?%s", a.serviceURL, datastreamID, strings.Join(params, "&"))
}

// NavigationLink is the Observations link of a datastream or feature of interest.
func (a *Assembler) NavigationLink(entitySet string, id int64) string {
	return fmt.Sprintf("%s/%s(%d)/Observations", a.serviceURL, entitySet, id)
}

// ObservationURL is the public URL of one observation.
func (a *Assembler) ObservationURL(id int64) string {
	return fmt.Sprintf("%s/Observations(%d)", a.serviceURL, id)
}

// withSkip sets $skip in rawURL's query, leaving the other parameters as
// they were written.
func withSkip(rawURL string, skip int) string {
	base, rawQuery := rawURL, ""
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		base, rawQuery = rawURL[:i], rawURL[i+1:]
	}
	param := "$skip=" + strconv.Itoa(skip)

	var parts []string
	replaced := false
	if rawQuery != "" {
		for _, p := range strings.Split(rawQuery, "&") {
			key := p
			if eq := strings.IndexByte(p, '='); eq >= 0 {
				key = p[:eq]
			}
			if k, err := url.QueryUnescape(key); err == nil && k == "$skip" {
				if !replaced {
					parts = append(parts, param)
					replaced = true
				}
				continue
			}
			parts = append(parts, p)
		}
	}
	if !replaced {
		parts = append([]string{param}, parts...)
	}
	return base + "?" + strings.Join(parts, "&")
}
