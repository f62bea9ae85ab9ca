package pool

import (
	"errors"
	"log/slog"

	"github.com/pmoss/stunnel-pool/internal/events"
	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/obs"
	"github.com/pmoss/stunnel-pool/internal/stunnel"
)

// ConnectFunc abstracts fresh tunnel creation for testing.
type ConnectFunc func(host string, port int, opts stunnel.Options) (*stunnel.Tunnel, error)

// Pool is the cached-connect facade: checkout from the cache first, spawn
// fresh on a miss. It never surfaces ErrNotFound to callers.
type Pool struct {
	cache   *Cache
	connect ConnectFunc
	journal *events.Store
}

// New creates a pool with the given limits. A nil connect falls back to
// the real spawn driver.
func New(limits Limits, connect ConnectFunc) *Pool {
	if connect == nil {
		connect = stunnel.Connect
	}
	return &Pool{cache: NewCache(limits), connect: connect}
}

// SetJournal installs an event journal for lifecycle records.
func (p *Pool) SetJournal(j *events.Store) {
	p.journal = j
	p.cache.SetJournal(j)
}

// Connect returns a live tunnel to host:port, reusing a cached one when
// available. The caller owns the returned handle exclusively; it can be
// returned for reuse with Donate or destroyed with stunnel.Disconnect.
func (p *Pool) Connect(host string, port int, opts stunnel.Options) (*stunnel.Tunnel, error) {
	t, err := p.cache.Remove(host, port)
	if err == nil {
		obs.HitsTotal.Inc()
		slog.Debug("reusing cached tunnel",
			"endpoint", t.Endpoint().String(),
			"tunnel", t.UniqueID,
			"pid", t.Pid())
		p.record(events.Event{Endpoint: t.Endpoint().String(), TunnelID: t.UniqueID, EventType: events.TypeCheckout, PID: t.Pid()})
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	ep := model.Endpoint{Host: host, Port: port}
	obs.MissesTotal.Inc()
	slog.Debug("pool miss, connecting fresh", "endpoint", ep.String())
	t, err = p.connect(host, port, opts)
	if err != nil {
		return nil, err
	}
	p.record(events.Event{Endpoint: t.Endpoint().String(), TunnelID: t.UniqueID, EventType: events.TypeConnect, PID: t.Pid()})
	return t, nil
}

// Donate returns a tunnel to the cache for reuse by a later caller. The
// pool owns the handle from here; the caller must not touch it again.
func (p *Pool) Donate(t *stunnel.Tunnel) {
	if t == nil {
		return
	}
	obs.DonationsTotal.Inc()
	p.record(events.Event{Endpoint: t.Endpoint().String(), TunnelID: t.UniqueID, EventType: events.TypeDonate, PID: t.Pid()})
	p.cache.Add(t)
}

// Flush tears down every cached tunnel.
func (p *Pool) Flush() {
	p.cache.Flush()
}

// Sweep runs one garbage-collect pass; serve mode calls this on a timer.
func (p *Pool) Sweep() {
	p.cache.Sweep()
}

// Snapshot returns the current cached entries.
func (p *Pool) Snapshot() []model.PoolEntry {
	return p.cache.Snapshot()
}

// Len reports how many tunnels are cached.
func (p *Pool) Len() int {
	return p.cache.Len()
}

func (p *Pool) record(evt events.Event) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Append(evt); err != nil {
		slog.Warn("failed to journal pool event", "type", evt.EventType, "error", err)
	}
}
