// Package configcache keeps the Dan/Rate/Season point tables in memory.
//
// Readers share a snapshot under a read lock. Writers go through Write, which
// serializes them and bumps a generation counter once the write lands; any
// snapshot loaded under an older generation is treated as stale, even if its
// load finished after the write.
package configcache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"mahjong-league/logging"
	"mahjong-league/metrics"
	"mahjong-league/models"
	"mahjong-league/ranking"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Snapshot is an immutable set of point tables. Do not modify a snapshot returned by Get.
type Snapshot struct {
	Dan           ranking.DanTable
	Rate          ranking.RateTable
	DefaultSeason ranking.SeasonRule
	Seasons       map[string]ranking.SeasonRule

	// Rows as stored, for display and versioned edits.
	DanRows     []models.DanConfig
	RateRows    []models.RateConfig
	RateSetting models.RateSetting
	SeasonRows  []models.SeasonConfig

	Generation uint64
	LoadedAt   time.Time
}

// SeasonRule returns the season's own rule, or the league default.
func (s *Snapshot) SeasonRule(seasonID string) ranking.SeasonRule {
	if r, ok := s.Seasons[seasonID]; ok {
		return r
	}
	return s.DefaultSeason
}

func (s *Snapshot) Tables() ranking.Tables {
	return ranking.Tables{Dan: s.Dan, Rate: s.Rate, Season: s.SeasonRule}
}

// Loader reads the tables from their source of truth.
type Loader interface {
	LoadTables(ctx context.Context) (*Snapshot, error)
}

type Cache struct {
	loader  Loader
	ttl     time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	current   *Snapshot
	gen       uint64
	loadedGen uint64

	writeMu sync.Mutex
	group   singleflight.Group
}

// New returns an empty cache. ttl <= 0 disables time-based expiry.
func New(loader Loader, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		loader:  loader,
		ttl:     ttl,
		metrics: m,
		now:     time.Now,
	}
}

func (c *Cache) validLocked() bool {
	if c.current == nil || c.loadedGen != c.gen {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(c.current.LoadedAt) < c.ttl
}

// Get returns the current snapshot, loading it if missing or stale. Concurrent
// callers share one load. If a reload fails the previous snapshot is served.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap, valid, gen := c.current, c.validLocked(), c.gen
	c.mu.RUnlock()
	if valid {
		c.metrics.RecordConfigCacheHit()
		return snap, nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		return c.reload(context.WithoutCancel(ctx), gen)
	})
	if err != nil {
		if snap != nil {
			logging.L().Warn("[CONFIG_CACHE] reload failed, serving previous tables",
				zap.Uint64("generation", snap.Generation), zap.Error(err))
			return snap, nil
		}
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Cache) reload(ctx context.Context, gen uint64) (*Snapshot, error) {
	start := time.Now()
	snap, err := c.loader.LoadTables(ctx)
	c.metrics.RecordConfigCacheReload(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap.Generation = gen
	snap.LoadedAt = c.now()
	// A newer snapshot may already be in place if an invalidation raced this load.
	if c.current == nil || gen >= c.loadedGen {
		c.current = snap
		c.loadedGen = gen
	}
	logging.L().Debug("[CONFIG_CACHE] tables loaded",
		zap.Uint64("generation", gen), zap.Int("dan_rules", len(snap.Dan.Rules)),
		zap.Int("rate_brackets", len(snap.Rate.Brackets)), zap.Int("season_rules", len(snap.Seasons)))
	return snap, nil
}

// Invalidate forces the next Get to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// Write runs fn with writers serialized, then invalidates the cache if fn succeeded.
// Readers keep the previous snapshot until the write has committed.
func (c *Cache) Write(ctx context.Context, fn func(ctx context.Context) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := fn(ctx); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Refresh reloads unconditionally; used by the periodic job so that tables
// edited by another instance show up.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	c.Invalidate()
	return c.Get(ctx)
}

// Generation is bumped on every invalidation.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}
