package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/pool"
	"github.com/pmoss/stunnel-pool/internal/stunnel"
)

func testModel(t *testing.T) modelUI {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	fresh := func(host string, port int, opts stunnel.Options) (*stunnel.Tunnel, error) {
		return &stunnel.Tunnel{Host: host, Port: port, ConnectedAt: time.Now()}, nil
	}
	return modelUI{
		cfg:     appconfig.Default(),
		pool:    pool.New(pool.DefaultLimits(), fresh),
		connect: fresh,
		targets: []model.TargetEntry{
			{Alias: "db-primary", Host: "db.internal", Port: 443},
			{Alias: "db-replica", Host: "db-ro.internal", Port: 443},
			{Alias: "web", Host: "web.internal", Port: 8443},
		},
	}
}

func TestApplyFilter(t *testing.T) {
	m := testModel(t)
	m.applyFilter()
	if len(m.filtered) != 3 {
		t.Fatalf("empty filter kept %d targets", len(m.filtered))
	}

	m.filter = "db"
	m.sel = 2
	m.applyFilter()
	if len(m.filtered) != 2 {
		t.Fatalf("filter db matched %d", len(m.filtered))
	}
	// Selection clamps into the filtered range.
	if m.sel != 1 {
		t.Fatalf("sel=%d after filter", m.sel)
	}

	m.filter = "web.internal"
	m.applyFilter()
	if len(m.filtered) != 1 || m.filtered[0].Alias != "web" {
		t.Fatalf("endpoint filter: %+v", m.filtered)
	}

	m.filter = "nothing"
	m.applyFilter()
	if len(m.filtered) != 0 || m.sel != 0 {
		t.Fatalf("no-match filter: filtered=%d sel=%d", len(m.filtered), m.sel)
	}
}

func TestWarmAndCheckout(t *testing.T) {
	m := testModel(t)
	target := m.targets[0]

	m.warmTarget(target)
	if m.pool.Len() != 1 {
		t.Fatalf("pool len=%d after warm", m.pool.Len())
	}
	if m.pooledCount(target.Endpoint()) != 1 {
		t.Fatal("snapshot not refreshed after warm")
	}
	if !strings.Contains(m.status, "Pooled tunnel") {
		t.Fatalf("status=%q", m.status)
	}

	m.checkoutTarget(target)
	if m.pool.Len() != 0 {
		t.Fatalf("pool len=%d after checkout", m.pool.Len())
	}
	if !strings.Contains(m.status, "Checked out pooled tunnel") {
		t.Fatalf("status=%q", m.status)
	}

	// A second checkout has nothing cached and spawns fresh.
	m.checkoutTarget(target)
	if !strings.Contains(m.status, "spawned and closed a fresh one") {
		t.Fatalf("status=%q", m.status)
	}
}

func TestPooledCountIsolatesEndpoints(t *testing.T) {
	m := testModel(t)
	m.warmTarget(m.targets[0])
	m.warmTarget(m.targets[0])
	m.warmTarget(m.targets[2])

	if got := m.pooledCount(m.targets[0].Endpoint()); got != 2 {
		t.Fatalf("db pooled=%d", got)
	}
	if got := m.pooledCount(m.targets[1].Endpoint()); got != 0 {
		t.Fatalf("replica pooled=%d", got)
	}
}

func TestGuidanceForTarget(t *testing.T) {
	m := testModel(t)
	target := m.targets[0]

	if g := m.guidanceForTarget(target); !strings.Contains(g, "press w") && !strings.Contains(g, "Press w") {
		t.Fatalf("empty-pool guidance: %q", g)
	}
	m.warmTarget(target)
	if g := m.guidanceForTarget(target); !strings.Contains(g, "longest-idle") {
		t.Fatalf("pooled guidance: %q", g)
	}
}

func TestSecondsString(t *testing.T) {
	if got := secondsString(90); got != "1m30s" {
		t.Fatalf("got %q", got)
	}
	if got := secondsString(-5); got != "0s" {
		t.Fatalf("negative seconds: %q", got)
	}
}
