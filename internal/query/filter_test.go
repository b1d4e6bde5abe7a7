package query

import (
	"testing"

	"sta-timeseries/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter_Translation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"phenomenonTime ge 2020-01-01T00:00:00Z", "timestamp >= '2020-01-01T00:00:00Z'"},
		{"resultTime lt 2020-01-01", "timestamp < '2020-01-01'"},
		{"result eq 3", "value = 3"},
		{"resultQuality/qc_flag ne 4", "qc_flag != 4"},
		{"parameters/depth le 10.5", "depth <= 10.5"},
		{"date(phenomenonTime) eq 2020-02-03", "date(timestamp) = '2020-02-03'"},
		{"year(resultTime) gt 2019", "extract(year from timestamp) > 2019"},
		{"result gt 1 and result lt 5", "value > 1 and value < 5"},
		{"(result gt 1 or result lt 0) and qc_flag eq 1", "(value > 1 or value < 0) and qc_flag = 1"},
		{"not (result eq 0)", "not (value = 0)"},
		{"resultQuality/qc_flag eq null", "qc_flag is null"},
		{"result ne null", "value is not null"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, err := ParseFilter(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.String())
			assert.Equal(t, tt.in, e.Protocol())
		})
	}
}

func TestParseFilter_Deterministic(t *testing.T) {
	in := "phenomenonTime ge 2020-01-01T00:00:00Z and phenomenonTime lt 2020-02-01T00:00:00Z"
	a, err := ParseFilter(in)
	require.NoError(t, err)
	b, err := ParseFilter(in)
	require.NoError(t, err)
	assert.Equal(t, a.String(), b.String())
	assert.Contains(t, a.String(), "timestamp >= '2020-01-01T00:00:00Z'")
}

func TestParseFilter_Precedence(t *testing.T) {
	e, err := ParseFilter("result eq 1 or result eq 2 and qc_flag eq 1")
	require.NoError(t, err)

	or, ok := e.(*Logical)
	require.True(t, ok)
	assert.Equal(t, "or", or.Op)
	and, ok := or.Right.(*Logical)
	require.True(t, ok)
	assert.Equal(t, "and", and.Op)
}

func TestParseFilter_QuotedString(t *testing.T) {
	e, err := ParseFilter("result eq 'it''s a test'")
	require.NoError(t, err)

	c := e.(*Comparison)
	lit := c.Right.(Literal)
	assert.Equal(t, LiteralString, lit.Kind)
	assert.Equal(t, "it's a test", lit.Text)
	assert.Equal(t, "value = 'it''s a test'", e.String())
}

func TestParseFilter_Errors(t *testing.T) {
	tests := []string{
		"",
		"foo eq 1",
		"result like 3",
		"result eq",
		"lower(result) eq 1",
		"(result eq 1",
		"result eq 1)",
		"result eq 'open",
		"result eq 1 and",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParseFilter(in)
			require.Error(t, err)
			assert.Equal(t, domain.KindProtocolSyntax, domain.KindOf(err))
		})
	}
}

func TestSQL_Parameterized(t *testing.T) {
	e, err := ParseFilter("phenomenonTime ge 2020-01-01T00:00:00Z and result gt 2.5 and qc_flag eq 1")
	require.NoError(t, err)

	sql, args := SQL(e, 1)
	assert.Equal(t, "timestamp >= $2 and value > $3 and qc_flag = $4", sql)
	assert.Equal(t, []interface{}{"2020-01-01T00:00:00Z", 2.5, int64(1)}, args)
}

func TestSQL_Injection(t *testing.T) {
	e, err := ParseFilter("result eq '1; drop table timeseries'")
	require.NoError(t, err)

	sql, args := SQL(e, 0)
	assert.Equal(t, "value = $1", sql)
	assert.Equal(t, []interface{}{"1; drop table timeseries"}, args)
}

func TestIsDate(t *testing.T) {
	assert.True(t, IsDate("2020-01-01"))
	assert.True(t, IsDate("2020-01-01T00:00:00Z"))
	assert.True(t, IsDate("2020-01-01T00:00:00.000z"))
	assert.False(t, IsDate("2020-01-01T00:00:00"))
	assert.False(t, IsDate("20200101"))
	assert.False(t, IsDate("result"))
}

func TestColumns(t *testing.T) {
	e, err := ParseFilter("date(phenomenonTime) eq 2020-01-01 and parameters/depth gt 2")
	require.NoError(t, err)
	assert.Equal(t, []string{"timestamp", "depth"}, Columns(e))
	assert.Nil(t, Columns(nil))
}

func TestSplitDatastream(t *testing.T) {
	tests := []struct {
		in   string
		id   int64
		rest string
	}{
		{"Datastream/id eq 12", 12, ""},
		{"Datastream/@iot.id eq 12", 12, ""},
		{"Datastream/id eq 3 and result gt 1", 3, "result gt 1"},
		{"result gt 1 and Datastream/id eq 3 and qc_flag eq 1", 3, "result gt 1 and qc_flag eq 1"},
		{"(result gt 1 or result lt 0) and Datastream/id eq 9", 9, "(result gt 1 or result lt 0)"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, err := ParseFilter(tt.in)
			require.NoError(t, err)

			id, rest, err := SplitDatastream(e)
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			if tt.rest == "" {
				assert.Nil(t, rest)
			} else {
				require.NotNil(t, rest)
				assert.Equal(t, tt.rest, rest.Protocol())
			}
		})
	}
}

func TestSplitDatastream_NotImplemented(t *testing.T) {
	tests := []string{
		"result gt 1",
		"Datastream/id eq 1 or Datastream/id eq 2",
		"not Datastream/id eq 1",
		"Datastream/id gt 1",
		"Datastream/id eq 1 and Datastream/id eq 2",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			e, err := ParseFilter(in)
			require.NoError(t, err)
			_, _, err = SplitDatastream(e)
			require.Error(t, err)
			assert.Equal(t, domain.KindNotImplemented, domain.KindOf(err))
		})
	}

	_, _, err := SplitDatastream(nil)
	assert.Equal(t, domain.KindNotImplemented, domain.KindOf(err))
}
