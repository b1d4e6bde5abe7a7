package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sta-timeseries/internal/domain"
	"sta-timeseries/internal/metrics"
	"sta-timeseries/internal/store"

	"go.uber.org/zap"
)

const datastreamKeyPrefix = "sta:datastream:"

// DatastreamCatalog is the read-only catalog the cache loads from.
type DatastreamCatalog interface {
	ListDatastreams(ctx context.Context) ([]domain.Datastream, error)
	GetDatastream(ctx context.Context, id int64) (*domain.Datastream, error)
	GetDatastreamByName(ctx context.Context, name string) (*domain.Datastream, error)
}

type cacheEntry struct {
	ds       domain.Datastream
	loadedAt time.Time
}

// DatastreamCache keeps datastream properties in process, optionally backed
// by a shared KV. Readers never observe a half-applied refresh: Refresh
// builds new maps and swaps them under the write lock.
type DatastreamCache struct {
	catalog DatastreamCatalog
	kv      store.KV // optional
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	byID     map[int64]cacheEntry
	byName   map[string]int64
	byFOI    map[int64][]int64
	loadedAt time.Time // zero until the first full load
	gen      uint64    // bumped by every invalidation

	refreshMu sync.Mutex
}

// NewDatastreamCache creates the cache. kv and m may be nil.
func NewDatastreamCache(catalog DatastreamCatalog, kv store.KV, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *DatastreamCache {
	return &DatastreamCache{
		catalog: catalog,
		kv:      kv,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		byID:    make(map[int64]cacheEntry),
		byName:  make(map[string]int64),
		byFOI:   make(map[int64][]int64),
	}
}

func datastreamKey(id int64) string {
	return fmt.Sprintf("%s%d", datastreamKeyPrefix, id)
}

func (c *DatastreamCache) fresh(t time.Time) bool {
	return c.ttl <= 0 || c.now().Sub(t) < c.ttl
}

// Get returns the datastream with id, loading it on a miss.
func (c *DatastreamCache) Get(ctx context.Context, id int64) (*domain.Datastream, error) {
	c.mu.RLock()
	e, ok := c.byID[id]
	gen := c.gen
	c.mu.RUnlock()
	if ok && c.fresh(e.loadedAt) {
		c.metrics.IncCacheLookup("hit")
		ds := e.ds
		return &ds, nil
	}

	if ds, ok := c.getKV(ctx, id); ok {
		c.metrics.IncCacheLookup("kv_hit")
		c.put(ds, gen)
		return ds, nil
	}

	c.metrics.IncCacheLookup("miss")
	ds, err := c.catalog.GetDatastream(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.put(ds, gen) {
		c.setKV(ctx, ds)
	}
	return ds, nil
}

// GetByName resolves a datastream by its catalog name.
func (c *DatastreamCache) GetByName(ctx context.Context, name string) (*domain.Datastream, error) {
	c.mu.RLock()
	id, ok := c.byName[name]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		return c.Get(ctx, id)
	}

	c.metrics.IncCacheLookup("miss")
	ds, err := c.catalog.GetDatastreamByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if c.put(ds, gen) {
		c.setKV(ctx, ds)
	}
	return ds, nil
}

// DatastreamsForFeature lists the datastreams whose default feature of
// interest is foiID. It needs the full catalog and loads it if missing or stale.
func (c *DatastreamCache) DatastreamsForFeature(ctx context.Context, foiID int64) ([]int64, error) {
	c.mu.RLock()
	loadedAt := c.loadedAt
	c.mu.RUnlock()
	if loadedAt.IsZero() || !c.fresh(loadedAt) {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byFOI[foiID]
	out := make([]int64, len(ids))
	copy(out, ids)
	return out, nil
}

// All returns a snapshot of every cached datastream, loading the catalog if needed.
func (c *DatastreamCache) All(ctx context.Context) ([]domain.Datastream, error) {
	c.mu.RLock()
	loadedAt := c.loadedAt
	c.mu.RUnlock()
	if loadedAt.IsZero() || !c.fresh(loadedAt) {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Datastream, 0, len(c.byID))
	for _, e := range c.byID {
		out = append(out, e.ds)
	}
	return out, nil
}

// Refresh reloads the whole catalog and swaps it in atomically. A load
// overtaken by an invalidation is retried once, then left unmarked so the
// next use reloads.
func (c *DatastreamCache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		done, err := c.refresh(ctx)
		if err != nil || done {
			return err
		}
	}
	c.logger.Warn("Datastream cache refresh kept racing invalidations")
	return nil
}

func (c *DatastreamCache) refresh(ctx context.Context) (bool, error) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	list, err := c.catalog.ListDatastreams(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to refresh datastream cache: %w", err)
	}

	now := c.now()
	byID := make(map[int64]cacheEntry, len(list))
	byName := make(map[string]int64, len(list))
	byFOI := make(map[int64][]int64)
	for _, ds := range list {
		byID[ds.ID] = cacheEntry{ds: ds, loadedAt: now}
		if ds.Name != "" {
			byName[ds.Name] = ds.ID
		}
		if foi := ds.Properties.FeatureOfInterest(); foi != 0 {
			byFOI[foi] = append(byFOI[foi], ds.ID)
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false, nil
	}
	c.byID, c.byName, c.byFOI, c.loadedAt = byID, byName, byFOI, now
	c.mu.Unlock()

	c.metrics.IncCacheRefresh()
	c.logger.Info("Datastream cache refreshed", zap.Int("datastreams", len(list)))
	return true, nil
}

// Invalidate drops one datastream from both cache levels. The feature of
// interest index is rebuilt on next use.
func (c *DatastreamCache) Invalidate(ctx context.Context, id int64) error {
	c.mu.Lock()
	if e, ok := c.byID[id]; ok {
		delete(c.byName, e.ds.Name)
		delete(c.byID, id)
	}
	c.loadedAt = time.Time{}
	c.gen++
	c.mu.Unlock()

	if c.kv != nil {
		if err := c.kv.Del(ctx, datastreamKey(id)); err != nil {
			return fmt.Errorf("failed to invalidate datastream %d: %w", id, err)
		}
	}
	c.logger.Debug("Datastream invalidated", zap.Int64("datastream_id", id))
	return nil
}

// InvalidateAll empties both cache levels.
func (c *DatastreamCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	c.byID = make(map[int64]cacheEntry)
	c.byName = make(map[string]int64)
	c.byFOI = make(map[int64][]int64)
	c.loadedAt = time.Time{}
	c.gen++
	c.mu.Unlock()

	if c.kv != nil {
		keys, err := c.kv.ScanKeys(ctx, datastreamKeyPrefix+"*")
		if err != nil {
			return fmt.Errorf("failed to scan cached datastreams: %w", err)
		}
		if err := c.kv.Del(ctx, keys...); err != nil {
			return fmt.Errorf("failed to invalidate cached datastreams: %w", err)
		}
	}
	c.logger.Info("Datastream cache invalidated")
	return nil
}

// put stores ds unless an invalidation ran since gen was read, in which
// case ds may predate it and is only returned to the caller.
func (c *DatastreamCache) put(ds *domain.Datastream, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.byID[ds.ID] = cacheEntry{ds: *ds, loadedAt: c.now()}
	if ds.Name != "" {
		c.byName[ds.Name] = ds.ID
	}
	return true
}

func (c *DatastreamCache) getKV(ctx context.Context, id int64) (*domain.Datastream, bool) {
	if c.kv == nil {
		return nil, false
	}
	raw, err := c.kv.Get(ctx, datastreamKey(id))
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			c.logger.Warn("Datastream KV lookup failed", zap.Int64("datastream_id", id), zap.Error(err))
		}
		return nil, false
	}
	var ds domain.Datastream
	if err := json.Unmarshal([]byte(raw), &ds); err != nil {
		c.logger.Warn("Dropping malformed cached datastream", zap.Int64("datastream_id", id), zap.Error(err))
		return nil, false
	}
	return &ds, true
}

func (c *DatastreamCache) setKV(ctx context.Context, ds *domain.Datastream) {
	if c.kv == nil {
		return
	}
	b, err := json.Marshal(ds)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, datastreamKey(ds.ID), string(b), c.ttl); err != nil {
		c.logger.Warn("Datastream KV write failed", zap.Int64("datastream_id", ds.ID), zap.Error(err))
	}
}
