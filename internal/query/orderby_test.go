package query

import (
	"testing"

	"sta-timeseries/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderBy(t *testing.T) {
	terms, err := ParseOrderBy("phenomenonTime desc, parameters/depth")
	require.NoError(t, err)
	assert.Equal(t, []OrderTerm{
		{Field: "phenomenonTime", Column: "timestamp", Desc: true},
		{Field: "parameters/depth", Column: "depth"},
	}, terms)

	_, err = ParseOrderBy("name asc")
	require.Error(t, err)
	assert.Equal(t, domain.KindProtocolSyntax, domain.KindOf(err))

	_, err = ParseOrderBy("result asc extra")
	require.Error(t, err)
}

func TestOrderByClause(t *testing.T) {
	assert.Equal(t, "order by timestamp asc", OrderByClause(nil, "timestamp"))
	assert.Equal(t, "order by timestamp asc, depth asc", OrderByClause(nil, "timestamp", "depth"))

	terms, err := ParseOrderBy("result desc")
	require.NoError(t, err)
	assert.Equal(t, "order by value desc, timestamp asc", OrderByClause(terms, "timestamp"))

	terms, err = ParseOrderBy("phenomenonTime desc")
	require.NoError(t, err)
	assert.Equal(t, "order by timestamp desc, depth asc", OrderByClause(terms, "timestamp", "depth"))
}
