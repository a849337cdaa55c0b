// Package cache memoizes built snapshots by table and version.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/florinutz/deltashare/internal/safegoroutine"
	"github.com/florinutz/deltashare/metrics"
	"github.com/florinutz/deltashare/snapshot"
)

const (
	DefaultSize = 256
	DefaultTTL  = 10 * time.Minute
)

// Key identifies a snapshot. Versions are immutable once committed, so a
// cached entry never goes stale; only resolving "latest" needs the log tip.
type Key struct {
	TableID string
	Version int64
}

func (k Key) String() string {
	return k.TableID + "@" + strconv.FormatInt(k.Version, 10)
}

// BuildFunc produces the snapshot for a key on a miss.
type BuildFunc func(ctx context.Context) (*snapshot.Snapshot, error)

// Cache is a bounded, expiring snapshot cache with single-flight builds.
type Cache struct {
	lru    *expirable.LRU[Key, *snapshot.Snapshot]
	group  singleflight.Group
	logger *slog.Logger

	mu  sync.Mutex
	gen map[string]uint64 // per table, bumped by Invalidate
}

// New creates a cache holding at most size snapshots for up to ttl each.
// Non-positive values select the defaults.
func New(size int, ttl time.Duration, logger *slog.Logger) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		logger: logger.With("component", "snapshot_cache"),
		gen:    make(map[string]uint64),
	}
	c.lru = expirable.NewLRU[Key, *snapshot.Snapshot](size, func(Key, *snapshot.Snapshot) {
		metrics.CacheEvictions.Inc()
	}, ttl)
	return c
}

// Get returns the snapshot for key, building it with build on a miss.
// Concurrent misses for the same key share one build. The build runs
// detached from ctx cancellation so that a caller giving up does not fail
// the other waiters; the caller itself stops waiting when ctx is done.
// Failed builds are not cached.
func (c *Cache) Get(ctx context.Context, key Key, build BuildFunc) (*snapshot.Snapshot, error) {
	if snap, ok := c.lru.Get(key); ok {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return snap, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		// Another caller may have finished the build between our lookup and
		// joining the flight.
		if snap, ok := c.lru.Peek(key); ok {
			return snap, nil
		}
		gen := c.generation(key.TableID)
		snap, err := c.run(detached, key, build)
		if err != nil {
			return nil, err
		}
		if c.generation(key.TableID) == gen {
			c.lru.Add(key, snap)
			metrics.CacheEntries.Set(float64(c.lru.Len()))
		}
		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, key Key, build BuildFunc) (snap *snapshot.Snapshot, err error) {
	defer func() {
		if err != nil {
			snap = nil
			c.logger.Debug("snapshot build failed", "key", key.String(), "error", err)
		}
	}()
	defer safegoroutine.Recover(c.logger, "snapshot_cache", &err)
	return build(ctx)
}

func (c *Cache) generation(tableID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[tableID]
}

// Invalidate drops every cached version of a table. Builds for the table
// already in flight complete for their waiters but are not stored.
func (c *Cache) Invalidate(tableID string) int {
	c.mu.Lock()
	c.gen[tableID]++
	c.mu.Unlock()

	n := 0
	for _, k := range c.lru.Keys() {
		if k.TableID == tableID && c.lru.Remove(k) {
			n++
		}
	}
	metrics.CacheEntries.Set(float64(c.lru.Len()))
	if n > 0 {
		c.logger.Info("invalidated snapshots", "table_id", tableID, "count", n)
	}
	return n
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	return c.lru.Len()
}
