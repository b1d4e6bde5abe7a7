// Package query parses SensorThings query options into a canonical option
// set and translates filter and ordering expressions into backend SQL.
package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"sta-timeseries/internal/domain"
)

const (
	DefaultTop   = 100
	DefaultSkip  = 0
	DefaultCount = true
)

// AllowedOptions is the full set of accepted query parameters, in the order
// they are reported in errors.
var AllowedOptions = []string{"$top", "$skip", "$count", "$select", "$filter", "$orderBy", "$expand"}

// Options is the canonical option set for one request. Built fresh per
// request and never shared.
type Options struct {
	Top     int
	Skip    int
	Count   bool
	Select  []string
	Filter  Expr        // nil when no $filter was given
	OrderBy []OrderTerm // nil when no $orderBy was given
	Expand  string      // opaque, decomposed by ParseExpand

	// Raw keeps the untranslated values, used to build next links.
	Raw map[string]string
}

// Defaults returns an option set with no parameters applied.
func Defaults() *Options {
	return &Options{
		Top:   DefaultTop,
		Skip:  DefaultSkip,
		Count: DefaultCount,
		Raw:   map[string]string{},
	}
}

// ParseValues parses URL query values. Only the first value of a key is used.
func ParseValues(values url.Values) (*Options, error) {
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		} else {
			params[k] = ""
		}
	}
	return Parse(params)
}

// CheckAllowed rejects parameters outside AllowedOptions without parsing
// the values. Used for requests passed to the upstream untouched.
func CheckAllowed(values url.Values) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !allowed(k) {
			return domain.ProtocolSyntax("unknown option %s, expecting one of %s", k, strings.Join(AllowedOptions, " "))
		}
	}
	return nil
}

func allowed(key string) bool {
	for _, a := range AllowedOptions {
		if a == key {
			return true
		}
	}
	return false
}

// Parse builds an option set from a flat key/value mapping.
func Parse(params map[string]string) (*Options, error) {
	opts := Defaults()

	// sorted so the first reported error does not depend on map order
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := params[key]
		switch key {
		case "$top":
			n, err := parseNonNegative(key, value)
			if err != nil {
				return nil, err
			}
			opts.Top = n
		case "$skip":
			n, err := parseNonNegative(key, value)
			if err != nil {
				return nil, err
			}
			opts.Skip = n
		case "$count":
			switch strings.ToLower(value) {
			case "true":
				opts.Count = true
			case "false":
				opts.Count = false
			default:
				return nil, domain.ProtocolSyntax("true or false expected for $count, got %q", value)
			}
		case "$select":
			sel, err := parseSelect(value)
			if err != nil {
				return nil, err
			}
			opts.Select = sel
		case "$filter":
			expr, err := ParseFilter(value)
			if err != nil {
				return nil, err
			}
			opts.Filter = expr
		case "$orderBy":
			terms, err := ParseOrderBy(value)
			if err != nil {
				return nil, err
			}
			opts.OrderBy = terms
		case "$expand":
			if strings.TrimSpace(value) == "" {
				return nil, domain.ProtocolSyntax("empty $expand")
			}
			opts.Expand = value
		default:
			return nil, domain.ProtocolSyntax("unknown option %s, expecting one of %s", key, strings.Join(AllowedOptions, " "))
		}
		opts.Raw[key] = value
	}
	return opts, nil
}

func parseNonNegative(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, domain.ProtocolSyntax("integer expected for %s, got %q", key, value)
	}
	if n < 0 {
		return 0, domain.ProtocolSyntax("%s must not be negative, got %d", key, n)
	}
	return n, nil
}

func parseSelect(value string) ([]string, error) {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch p {
		case "":
			return nil, domain.ProtocolSyntax("empty field in $select %q", value)
		case "resultQuality/qc_flag":
			p = "resultQuality"
		case "id":
			p = "@iot.id"
		}
		out = append(out, p)
	}
	return out, nil
}

// Selected reports whether field survives the $select projection.
func (o *Options) Selected(field string) bool {
	if o.Select == nil {
		return true
	}
	for _, s := range o.Select {
		if s == field {
			return true
		}
	}
	return false
}

// WithFilter returns a copy with the filter replaced by f and the raw
// $filter value set to raw (removed when empty).
func (o *Options) WithFilter(f Expr, raw string) *Options {
	cp := *o
	cp.Filter = f
	cp.Raw = make(map[string]string, len(o.Raw))
	for k, v := range o.Raw {
		cp.Raw[k] = v
	}
	if raw == "" {
		delete(cp.Raw, "$filter")
	} else {
		cp.Raw["$filter"] = raw
	}
	return &cp
}
