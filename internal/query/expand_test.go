package query

import (
	"testing"

	"sta-timeseries/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpand_Simple(t *testing.T) {
	specs, err := ParseExpand("Observations")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "Observations", specs[0].Key)
	assert.Equal(t, 100, specs[0].Options.Top)
}

func TestParseExpand_Options(t *testing.T) {
	specs, err := ParseExpand("Observations($top=2;$skip=1;$filter=result gt 3;$select=id,result)")
	require.NoError(t, err)
	require.Len(t, specs, 1)

	opts := specs[0].Options
	assert.Equal(t, 2, opts.Top)
	assert.Equal(t, 1, opts.Skip)
	assert.Equal(t, "value > 3", opts.Filter.String())
	assert.Equal(t, []string{"@iot.id", "result"}, opts.Select)
}

func TestParseExpand_Nested(t *testing.T) {
	specs, err := ParseExpand("Datastreams($top=1;$expand=Observations($top=2;$filter=date(phenomenonTime) eq 2020-01-01)),Sensor")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "Datastreams", specs[0].Key)
	assert.Equal(t, 1, specs[0].Options.Top)
	assert.Equal(t, "Observations($top=2;$filter=date(phenomenonTime) eq 2020-01-01)", specs[0].Options.Expand)
	assert.Equal(t, "Sensor", specs[1].Key)

	inner, err := ParseExpand(specs[0].Options.Expand)
	require.NoError(t, err)
	require.Len(t, inner, 1)
	assert.Equal(t, "Observations", inner[0].Key)
	assert.Equal(t, 2, inner[0].Options.Top)
	assert.Equal(t, "date(timestamp) = '2020-01-01'", inner[0].Options.Filter.String())
}

func TestParseExpand_Path(t *testing.T) {
	specs, err := ParseExpand("Datastreams/Observations($top=3)")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "Datastreams", specs[0].Key)
	assert.Equal(t, "Observations($top=3)", specs[0].Options.Expand)
}

func TestParseExpand_Errors(t *testing.T) {
	tests := []string{
		"Observations($top=2",
		"Observations($top=2))",
		"Observations($top=2)x",
		"Observations($unknown=1)",
		"Observations($top)",
		"($top=1)",
		"Observations,,Sensor",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParseExpand(in)
			require.Error(t, err)
			assert.Equal(t, domain.KindProtocolSyntax, domain.KindOf(err))
		})
	}
}

func TestValidateExpand(t *testing.T) {
	assert.NoError(t, ValidateExpand("Datastreams($expand=Observations($top=2;$expand=FeatureOfInterest)),Sensor"))

	for _, expand := range []string{
		"Observations($top=2;$expand=FeatureOfInterest($top=abc))",
		"Datastreams($expand=Observations($expand=FeatureOfInterest($bogus=1)))",
		"Datastreams/Observations($skip=-1)",
	} {
		err := ValidateExpand(expand)
		require.Error(t, err, expand)
		assert.Equal(t, domain.KindProtocolSyntax, domain.KindOf(err), expand)
	}
}
