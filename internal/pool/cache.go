// Package pool implements the bounded, time-aware tunnel cache and the
// cached-connect facade in front of the spawn driver.
//
// The cache never creates tunnels itself: callers donate handles after
// use and check them out again by endpoint. Every mutation runs a full
// garbage-collect pass under the cache lock, so eviction effects are
// visible to the very next operation from any goroutine.
package pool

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/events"
	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/obs"
	"github.com/pmoss/stunnel-pool/internal/stunnel"
)

// ErrNotFound reports a cache miss. It is expected, not exceptional; the
// facade converts it into a fresh connect.
var ErrNotFound = errors.New("no cached tunnel for endpoint")

// Limits bound the cache by entry count, total tunnel lifetime, and time
// since last donation.
type Limits struct {
	MaxCount int
	MaxAge   time.Duration
	MaxIdle  time.Duration
}

// DefaultLimits returns the standard pool bounds.
func DefaultLimits() Limits {
	return Limits{MaxCount: 22, MaxAge: 180 * time.Minute, MaxIdle: 5 * time.Minute}
}

// LimitsFromConfig converts configured pool bounds.
func LimitsFromConfig(cfg appconfig.PoolConfig) Limits {
	return Limits{
		MaxCount: cfg.MaxCount,
		MaxAge:   time.Duration(cfg.MaxAgeMinutes) * time.Minute,
		MaxIdle:  time.Duration(cfg.MaxIdleMinutes) * time.Minute,
	}
}

// Cache is the endpoint-indexed tunnel pool. Three mappings (endpoint to
// cached ids, id to donation time, id to handle) are kept mutually
// consistent under one lock; no caller can observe a partial update.
type Cache struct {
	mu      sync.Mutex
	limits  Limits
	nextID  uint64
	ids     map[model.Endpoint][]uint64
	donated map[uint64]time.Time
	tunnels map[uint64]*stunnel.Tunnel

	// now is a test seam; production code keeps time.Now.
	now     func() time.Time
	journal *events.Store
}

// NewCache creates an empty cache with the given limits.
func NewCache(limits Limits) *Cache {
	return &Cache{
		limits:  limits,
		ids:     make(map[model.Endpoint][]uint64),
		donated: make(map[uint64]time.Time),
		tunnels: make(map[uint64]*stunnel.Tunnel),
		now:     time.Now,
	}
}

// SetJournal installs an event journal for eviction/flush records.
func (c *Cache) SetJournal(j *events.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal = j
}

// Add donates a tunnel to the cache, assigning it a fresh id and the
// current time as its donation timestamp, then garbage-collects. The
// cache owns the handle from here until checkout or eviction.
func (c *Cache) Add(t *stunnel.Tunnel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	ep := t.Endpoint()
	c.ids[ep] = append(c.ids[ep], id)
	c.donated[id] = c.now()
	c.tunnels[id] = t
	c.gc()
	obs.PoolSize.Set(float64(len(c.tunnels)))
}

// Remove checks out the longest-idle cached tunnel for the endpoint,
// transferring ownership to the caller. Garbage collection runs first so
// an expired entry is never handed out. Returns ErrNotFound on a miss.
func (c *Cache) Remove(host string, port int) (*stunnel.Tunnel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gc()
	ep := model.Endpoint{Host: host, Port: port}
	cands := c.ids[ep]
	if len(cands) == 0 {
		return nil, ErrNotFound
	}
	// Oldest donation first spreads reuse across the pool instead of
	// hammering the most recently donated tunnel.
	oldest := cands[0]
	for _, id := range cands[1:] {
		if c.donated[id].Before(c.donated[oldest]) {
			oldest = id
		}
	}
	t := c.tunnels[oldest]
	c.unlink(ep, oldest)
	obs.PoolSize.Set(float64(len(c.tunnels)))
	return t, nil
}

// Flush disconnects every cached tunnel and clears the index. Used for
// full pool teardown.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.tunnels)
	for _, t := range c.tunnels {
		if err := stunnel.Disconnect(t, true, false); err != nil {
			slog.Warn("flush disconnect failed", "endpoint", t.Endpoint().String(), "error", err)
		}
		c.record(events.Event{Endpoint: t.Endpoint().String(), TunnelID: t.UniqueID, EventType: events.TypeFlush, PID: t.Pid()})
	}
	c.ids = make(map[model.Endpoint][]uint64)
	c.donated = make(map[uint64]time.Time)
	c.tunnels = make(map[uint64]*stunnel.Tunnel)
	obs.PoolSize.Set(0)
	if n > 0 {
		obs.FlushesTotal.Inc()
		slog.Info("tunnel pool flushed", "count", n)
	}
}

// Sweep runs a garbage-collect pass without any other mutation, so idle
// and age expiry still happen on a quiet pool.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gc()
	obs.PoolSize.Set(float64(len(c.tunnels)))
}

// Len reports how many tunnels are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tunnels)
}

// Snapshot returns a read-only view of the cached entries sorted by id.
func (c *Cache) Snapshot() []model.PoolEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]model.PoolEntry, 0, len(c.tunnels))
	for id, t := range c.tunnels {
		donated := c.donated[id]
		out = append(out, model.PoolEntry{
			ID:          id,
			Endpoint:    t.Endpoint(),
			PID:         t.Pid(),
			UniqueID:    t.UniqueID,
			Verified:    t.Verified,
			ConnectedAt: t.ConnectedAt,
			DonatedAt:   donated,
			AgeSec:      int64(now.Sub(t.ConnectedAt).Seconds()),
			IdleSec:     int64(now.Sub(donated).Seconds()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// gc evicts entries whose age or idle time exceeded its limit, then trims
// capacity overflow by keeping only the youngest-donated MaxCount
// survivors. Runs with c.mu held. The cache may transiently hold
// MaxCount+1 entries between an Add and this pass; that slack is
// intentional.
func (c *Cache) gc() {
	now := c.now()
	reasons := make(map[uint64]string)
	for id, t := range c.tunnels {
		if now.Sub(t.ConnectedAt) > c.limits.MaxAge {
			reasons[id] = "age"
		} else if now.Sub(c.donated[id]) > c.limits.MaxIdle {
			reasons[id] = "idle"
		}
	}
	if len(c.tunnels)-len(reasons) > c.limits.MaxCount {
		survivors := make([]uint64, 0, len(c.tunnels))
		for id := range c.tunnels {
			if _, marked := reasons[id]; !marked {
				survivors = append(survivors, id)
			}
		}
		sort.Slice(survivors, func(i, j int) bool {
			return c.donated[survivors[i]].After(c.donated[survivors[j]])
		})
		for _, id := range survivors[c.limits.MaxCount:] {
			reasons[id] = "capacity"
		}
	}
	for id, reason := range reasons {
		t := c.tunnels[id]
		slog.Debug("evicting cached tunnel",
			"endpoint", t.Endpoint().String(),
			"tunnel", t.UniqueID,
			"pid", t.Pid(),
			"reason", reason)
		if err := stunnel.Disconnect(t, true, false); err != nil {
			slog.Warn("eviction disconnect failed", "endpoint", t.Endpoint().String(), "error", err)
		}
		c.unlink(t.Endpoint(), id)
		obs.EvictionsTotal.WithLabelValues(reason).Inc()
		c.record(events.Event{Endpoint: t.Endpoint().String(), TunnelID: t.UniqueID, EventType: events.TypeEvict, PID: t.Pid(), Message: reason})
	}
}

// unlink removes one id from all three mappings. Runs with c.mu held.
func (c *Cache) unlink(ep model.Endpoint, id uint64) {
	list := c.ids[ep]
	for i, v := range list {
		if v == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.ids, ep)
	} else {
		c.ids[ep] = list
	}
	delete(c.donated, id)
	delete(c.tunnels, id)
}

func (c *Cache) record(evt events.Event) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(evt); err != nil {
		slog.Warn("failed to journal pool event", "type", evt.EventType, "error", err)
	}
}
