// Package obs holds process-wide observability instruments for the tunnel
// pool, registered on the default prometheus registry.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolSize       = promauto.NewGauge(prometheus.GaugeOpts{Name: "stunnelpool_cached_tunnels", Help: "Tunnels currently held by the pool"})
	HitsTotal      = promauto.NewCounter(prometheus.CounterOpts{Name: "stunnelpool_hits_total", Help: "Connect requests served from the pool"})
	MissesTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "stunnelpool_misses_total", Help: "Connect requests that fell through to a fresh spawn"})
	DonationsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "stunnelpool_donations_total", Help: "Tunnels returned to the pool for reuse"})
	EvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "stunnelpool_evictions_total", Help: "Tunnels evicted by the garbage collector, by reason"}, []string{"reason"})
	ConnectRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "stunnelpool_connect_retries_total", Help: "Spawn attempts retried after a lost startup race"})
	FlushesTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "stunnelpool_flushes_total", Help: "Full pool teardowns"})
)
