// Package obsid encodes and decodes the synthetic identifiers given to
// hypertable rows, which have no primary key of their own.
//
// An identifier is the decimal string kindDigit || (datastream*1e10 + seconds).
// Native relational ids stay below 1e10; synthetic ids are always at least 1e11.
package obsid

import (
	"strconv"
	"time"

	"sta-timeseries/internal/domain"
)

const (
	// SecondsSpan is the multiplier separating datastream id from epoch seconds.
	SecondsSpan = int64(10_000_000_000)
	// MaxDatastreamID keeps the encoded value inside int64.
	MaxDatastreamID = int64(99_999_999)
	// MinSynthetic is the smallest id Encode can produce.
	MinSynthetic = int64(100_000_000_000)
)

// Encode returns the synthetic id for a row.
func Encode(datastreamID, epochSeconds int64, kind domain.DataKind) (int64, error) {
	digit, ok := kindDigit(kind)
	if !ok {
		return 0, domain.MalformedIdentifier("cannot encode id for data kind %s", kind)
	}
	if datastreamID < 1 || datastreamID > MaxDatastreamID {
		return 0, domain.MalformedIdentifier("datastream id %d out of range [1, %d]", datastreamID, MaxDatastreamID)
	}
	if epochSeconds < 0 || epochSeconds >= SecondsSpan {
		return 0, domain.MalformedIdentifier("timestamp %d out of range", epochSeconds)
	}

	base := datastreamID*SecondsSpan + epochSeconds
	id, err := strconv.ParseInt(string(digit)+strconv.FormatInt(base, 10), 10, 64)
	if err != nil {
		return 0, domain.MalformedIdentifier("cannot encode id: %v", err)
	}
	return id, nil
}

// EncodeTime is Encode for a timestamp, truncated to seconds.
func EncodeTime(datastreamID int64, ts time.Time, kind domain.DataKind) (int64, error) {
	return Encode(datastreamID, ts.Unix(), kind)
}

// Decode is the inverse of Encode.
func Decode(id int64) (datastreamID, epochSeconds int64, kind domain.DataKind, err error) {
	if id < SecondsSpan {
		return 0, 0, domain.KindUnknown, domain.MalformedIdentifier("id %d is not a synthetic observation id", id)
	}

	s := strconv.FormatInt(id, 10)
	kind, ok := digitKind(s[0])
	if !ok {
		return 0, 0, domain.KindUnknown, domain.MalformedIdentifier("id %d has unknown kind prefix %q", id, s[0])
	}

	rest := s[1:]
	// rest must be datastream digits (no leading zero) followed by ten digits of seconds
	if len(rest) <= 10 || rest[0] == '0' {
		return 0, 0, domain.KindUnknown, domain.MalformedIdentifier("id %d does not encode a datastream", id)
	}
	base, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, 0, domain.KindUnknown, domain.MalformedIdentifier("id %d: %v", id, err)
	}

	datastreamID = base / SecondsSpan
	epochSeconds = base % SecondsSpan
	if datastreamID > MaxDatastreamID {
		return 0, 0, domain.KindUnknown, domain.MalformedIdentifier("id %d: datastream id out of range", id)
	}
	return datastreamID, epochSeconds, kind, nil
}

// IsSynthetic reports whether id lies in the synthetic id space.
func IsSynthetic(id int64) bool {
	return id >= SecondsSpan
}

func kindDigit(k domain.DataKind) (byte, bool) {
	switch k {
	case domain.KindTimeseries:
		return '1', true
	case domain.KindProfiles:
		return '2', true
	case domain.KindDetections:
		return '3', true
	default:
		return 0, false
	}
}

func digitKind(d byte) (domain.DataKind, bool) {
	switch d {
	case '1':
		return domain.KindTimeseries, true
	case '2':
		return domain.KindProfiles, true
	case '3':
		return domain.KindDetections, true
	default:
		return domain.KindUnknown, false
	}
}
