package tenant

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"

	"github.com/campuscare/caresync/internal/metrics"
	"github.com/campuscare/caresync/internal/tenant/campus"
)

// Static defaults.  main.go passes them to New; tests shrink them.
const (
	IdleTTL       = 30 * time.Minute
	MaxEntries    = 500
	EvictInterval = 5 * time.Minute
)

// ErrNotFound is returned when an id resolves to no live campus.
var ErrNotFound = errors.New("campus not found")

// Cache lazily loads campuses, stores them in a sync.Map, and evicts them
// on idle TTL or LRU pressure.
type Cache struct {
	db          *sqlx.DB
	sfg         singleflight.Group
	m           sync.Map // uint64 → *entry
	evictTicker *time.Ticker
	idleTTL     time.Duration
	maxEntries  int
}

// New constructs a Cache and starts the background evictor.
func New(db *sqlx.DB, idleTTL time.Duration, maxEntries int) *Cache {
	c := &Cache{
		db:         db,
		idleTTL:    idleTTL,
		maxEntries: maxEntries,
	}
	c.evictTicker = time.NewTicker(EvictInterval)
	go c.evictLoop()
	return c
}

// Get returns the Tenant for a campus id, loading it on demand.
func (c *Cache) Get(ctx context.Context, id uint64) (*Tenant, error) {
	if v, ok := c.m.Load(id); ok {
		ent := v.(*entry)
		atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
		return ent.tenant, nil
	}

	v, err, _ := c.sfg.Do(strconv.FormatUint(id, 10), func() (interface{}, error) {
		// Double-check after singleflight barrier.
		if v, ok := c.m.Load(id); ok {
			ent := v.(*entry)
			atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
			return ent.tenant, nil
		}
		ten, err := loadCampus(ctx, c.db, id)
		if err != nil {
			metrics.TenantLoadErrorsTotal.Inc()
			return nil, err
		}
		ent := &entry{
			tenant:   ten,
			lastSeen: time.Now().UnixNano(),
		}
		c.m.Store(id, ent)
		metrics.TenantLoadTotal.Inc()
		metrics.ActiveTenants.Inc()
		return ten, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tenant), nil
}

// GetByChurchID resolves the core system's church identifier to a Tenant.
// The id lookup always hits the database, so a suspension takes effect on
// the next webhook even while the entry is cached.
func (c *Cache) GetByChurchID(ctx context.Context, churchID string) (*Tenant, error) {
	rec, err := campus.ByChurchID(ctx, c.db, churchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c.Get(ctx, rec.ID)
}

// Invalidate drops a campus from the cache.  Config saves and secret
// rotations call it so the next lookup reloads fresh state.
func (c *Cache) Invalidate(id uint64) {
	if _, ok := c.m.LoadAndDelete(id); ok {
		metrics.ActiveTenants.Dec()
	}
}

// Stop halts the background evictor.  For process shutdown only; cached
// entries stay resident.
func (c *Cache) Stop() { c.evictTicker.Stop() }
