package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("route datastream 5: %w", NotFound("datastream %d not found", 5))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))

	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestBackendUnavailable_Unwrap(t *testing.T) {
	err := BackendUnavailable(context.DeadlineExceeded, "query timeseries")
	assert.Equal(t, KindBackendUnavailable, KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "query timeseries: context deadline exceeded", err.Error())
}

func TestDatastreamProperties_Raw(t *testing.T) {
	yes, no := true, false

	raw, ok := DatastreamProperties{RawSensorData: &yes, FullData: &no}.Raw()
	assert.True(t, ok)
	assert.True(t, raw)

	raw, ok = DatastreamProperties{FullData: &no}.Raw()
	assert.True(t, ok)
	assert.False(t, raw)

	_, ok = DatastreamProperties{}.Raw()
	assert.False(t, ok)
}

func TestParseDataKind(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseDataKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseDataKind("json")
	assert.False(t, ok)
	_, ok = ParseDataKind("files")
	assert.False(t, ok)
}
