package obsid

import (
	"math/rand"
	"testing"
	"time"

	"sta-timeseries/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Known(t *testing.T) {
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	id, err := EncodeTime(7, ts, domain.KindTimeseries)
	require.NoError(t, err)
	assert.Equal(t, int64(1_71577836800), id)

	id, err = Encode(7, ts.Unix(), domain.KindProfiles)
	require.NoError(t, err)
	assert.Equal(t, int64(2_71577836800), id)

	id, err = Encode(123, 0, domain.KindDetections)
	require.NoError(t, err)
	assert.Equal(t, int64(3_1230000000000), id)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	edges := [][2]int64{
		{1, 0},
		{1, 1 << 31},
		{1_000_000, 0},
		{1_000_000, 1 << 31},
		{MaxDatastreamID, SecondsSpan - 1},
	}
	for i := 0; i < 2000; i++ {
		edges = append(edges, [2]int64{rng.Int63n(1_000_000) + 1, rng.Int63n(1<<31 + 1)})
	}

	for _, kind := range domain.Kinds {
		for _, e := range edges {
			id, err := Encode(e[0], e[1], kind)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, id, MinSynthetic)
			assert.True(t, IsSynthetic(id))

			ds, secs, k, err := Decode(id)
			require.NoError(t, err)
			assert.Equal(t, e[0], ds)
			assert.Equal(t, e[1], secs)
			assert.Equal(t, kind, k)
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a, err := Encode(42, 1_600_000_000, domain.KindProfiles)
	require.NoError(t, err)
	b, err := Encode(42, 1_600_000_000, domain.KindProfiles)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncode_OutOfRange(t *testing.T) {
	tests := []struct {
		name string
		ds   int64
		secs int64
		kind domain.DataKind
	}{
		{"zero datastream", 0, 10, domain.KindTimeseries},
		{"datastream too large", MaxDatastreamID + 1, 10, domain.KindTimeseries},
		{"negative seconds", 1, -1, domain.KindTimeseries},
		{"seconds overflow", 1, SecondsSpan, domain.KindTimeseries},
		{"unknown kind", 1, 10, domain.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.ds, tt.secs, tt.kind)
			require.Error(t, err)
			assert.Equal(t, domain.KindMalformedIdentifier, domain.KindOf(err))
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		id   int64
	}{
		{"relational id", 12345},
		{"just below synthetic space", SecondsSpan - 1},
		{"unknown prefix", 4_71577836800},
		{"prefix nine", 9_10000000000},
		{"leading zero datastream", 1_01577836800},
		{"no datastream digits", 11577836800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := Decode(tt.id)
			require.Error(t, err)
			assert.Equal(t, domain.KindMalformedIdentifier, domain.KindOf(err))
		})
	}
}

func TestIdSpaceSeparation(t *testing.T) {
	for _, native := range []int64{1, 999, 1_000_000, SecondsSpan - 1} {
		assert.False(t, IsSynthetic(native))
	}
}
