package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"sta-timeseries/internal/domain"
	"sta-timeseries/internal/query"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func boolPtr(b bool) *bool        { return &b }
func int64Ptr(v int64) *int64     { return &v }
func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func rawDatastream(id int64, name, dataType string, foi int64) domain.Datastream {
	return domain.Datastream{
		ID:   id,
		Name: name,
		Properties: domain.DatastreamProperties{
			DataType:                 dataType,
			RawSensorData:            boolPtr(true),
			DefaultFeatureOfInterest: int64Ptr(foi),
		},
	}
}

func averagedDatastream(id int64, name, dataType string, foi int64) domain.Datastream {
	return domain.Datastream{
		ID:   id,
		Name: name,
		Properties: domain.DatastreamProperties{
			DataType:                 dataType,
			AveragePeriod:            "30min",
			DefaultFeatureOfInterest: int64Ptr(foi),
		},
	}
}

// fakeCatalog is an in-memory DatastreamCatalog counting its calls.
type fakeCatalog struct {
	mu      sync.Mutex
	items   map[int64]domain.Datastream
	gets    int
	lists   int
	listErr error

	afterRead func() // runs after a catalog read, before it returns
}

func newFakeCatalog(list ...domain.Datastream) *fakeCatalog {
	c := &fakeCatalog{items: make(map[int64]domain.Datastream)}
	for _, ds := range list {
		c.items[ds.ID] = ds
	}
	return c
}

func (c *fakeCatalog) ListDatastreams(ctx context.Context) ([]domain.Datastream, error) {
	c.mu.Lock()
	c.lists++
	if c.listErr != nil {
		c.mu.Unlock()
		return nil, c.listErr
	}
	out := make([]domain.Datastream, 0, len(c.items))
	for _, ds := range c.items {
		out = append(out, ds)
	}
	afterRead := c.afterRead
	c.mu.Unlock()
	if afterRead != nil {
		afterRead()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCatalog) GetDatastream(ctx context.Context, id int64) (*domain.Datastream, error) {
	c.mu.Lock()
	c.gets++
	ds, ok := c.items[id]
	afterRead := c.afterRead
	c.mu.Unlock()
	if afterRead != nil {
		afterRead()
	}
	if !ok {
		return nil, domain.NotFound("datastream %d not found", id)
	}
	return &ds, nil
}

func (c *fakeCatalog) GetDatastreamByName(ctx context.Context, name string) (*domain.Datastream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	for _, ds := range c.items {
		if ds.Name == name {
			return &ds, nil
		}
	}
	return nil, domain.NotFound("datastream %q not found", name)
}

func (c *fakeCatalog) set(ds domain.Datastream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[ds.ID] = ds
}

// memoryStore is a HypertableStore keeping rows per datastream in natural
// key order. $filter is not evaluated.
type memoryStore struct {
	mu   sync.Mutex
	rows map[int64][]domain.HypertableRow
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[int64][]domain.HypertableRow)}
}

func (s *memoryStore) seed(datastreamID int64, start time.Time, n int) {
	for i := 0; i < n; i++ {
		_, _ = s.Insert(context.Background(), domain.NewObservation{
			DatastreamID: datastreamID,
			Kind:         domain.KindTimeseries,
			ResultTime:   start.Add(time.Duration(i) * time.Minute),
			Result:       float64(i),
			QCFlag:       1,
		})
	}
}

func (s *memoryStore) count(datastreamID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[datastreamID])
}

func (s *memoryStore) Query(ctx context.Context, datastreamID int64, kind domain.DataKind, opts *query.Options) ([]domain.HypertableRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.rows[datastreamID]
	if opts.Skip >= len(all) {
		return nil, nil
	}
	end := opts.Skip + opts.Top
	if end > len(all) {
		end = len(all)
	}
	out := make([]domain.HypertableRow, end-opts.Skip)
	copy(out, all[opts.Skip:end])
	return out, nil
}

func (s *memoryStore) GetByTimestamp(ctx context.Context, datastreamID int64, kind domain.DataKind, epochSeconds int64) (*domain.HypertableRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows[datastreamID] {
		if r.Timestamp.Unix() == epochSeconds {
			row := r
			return &row, nil
		}
	}
	return nil, domain.NotFound("observation not found")
}

func (s *memoryStore) Insert(ctx context.Context, obs domain.NewObservation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := obs.Row()
	rows := s.rows[obs.DatastreamID]
	for _, r := range rows {
		if r.Timestamp.Equal(row.Timestamp) && sameDepth(r.Depth, row.Depth) {
			return false, nil
		}
	}
	rows = append(rows, row)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	s.rows[obs.DatastreamID] = rows
	return true, nil
}

func sameDepth(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

const testServiceURL = "http://proxy.test/sta-timeseries/v1.1"

type testEnv struct {
	catalog      *fakeCatalog
	cache        *DatastreamCache
	router       *StorageRouter
	store        *memoryStore
	assembler    *Assembler
	observations *ObservationService
	resolver     *ExpansionResolver
}

func newTestEnv(t *testing.T, list ...domain.Datastream) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	env := &testEnv{
		catalog:   newFakeCatalog(list...),
		store:     newMemoryStore(),
		assembler: NewAssembler(testServiceURL),
	}
	env.cache = NewDatastreamCache(env.catalog, nil, time.Minute, nil, logger)
	env.router = NewStorageRouter(env.cache, logger)
	env.observations = NewObservationService(env.cache, env.router, env.store, env.assembler, nil, logger)
	env.resolver = NewExpansionResolver(env.cache, env.observations, env.router, env.assembler, logger)
	return env
}

func mustOptions(t *testing.T, params map[string]string) *query.Options {
	t.Helper()
	opts, err := query.Parse(params)
	require.NoError(t, err)
	return opts
}
