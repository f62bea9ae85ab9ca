package pool

import (
	"errors"
	"testing"

	"github.com/pmoss/stunnel-pool/internal/stunnel"
)

func TestPool_MissSpawnsFresh(t *testing.T) {
	clock := newTestClock()
	spawned := 0
	p := New(DefaultLimits(), func(host string, port int, opts stunnel.Options) (*stunnel.Tunnel, error) {
		spawned++
		return fakeTunnel(host, port, clock), nil
	})
	p.cache.now = clock.now

	tun, err := p.Connect("db", 443, stunnel.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if spawned != 1 {
		t.Fatalf("spawned=%d", spawned)
	}
	if tun.Host != "db" || tun.Port != 443 {
		t.Fatalf("wrong endpoint %s:%d", tun.Host, tun.Port)
	}
	if p.Len() != 0 {
		t.Fatal("fresh connect must not populate the pool")
	}
}

func TestPool_HitSkipsSpawn(t *testing.T) {
	clock := newTestClock()
	spawned := 0
	p := New(DefaultLimits(), func(host string, port int, opts stunnel.Options) (*stunnel.Tunnel, error) {
		spawned++
		return fakeTunnel(host, port, clock), nil
	})
	p.cache.now = clock.now

	donated := fakeTunnel("db", 443, clock)
	p.Donate(donated)
	if p.Len() != 1 {
		t.Fatalf("len=%d after donate", p.Len())
	}

	tun, err := p.Connect("db", 443, stunnel.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if tun != donated {
		t.Fatal("expected the donated handle back")
	}
	if spawned != 0 {
		t.Fatalf("spawned %d despite cached tunnel", spawned)
	}
	if p.Len() != 0 {
		t.Fatal("checkout left the handle cached")
	}
}

func TestPool_ConnectErrorPropagates(t *testing.T) {
	boom := errors.New("no route to host")
	p := New(DefaultLimits(), func(host string, port int, opts stunnel.Options) (*stunnel.Tunnel, error) {
		return nil, boom
	})
	if _, err := p.Connect("db", 443, stunnel.Options{}); !errors.Is(err, boom) {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestPool_DonateNil(t *testing.T) {
	p := New(DefaultLimits(), func(host string, port int, opts stunnel.Options) (*stunnel.Tunnel, error) {
		return nil, ErrNotFound
	})
	p.Donate(nil)
	if p.Len() != 0 {
		t.Fatal("nil donation cached")
	}
}

func TestPool_FlushAndSnapshot(t *testing.T) {
	clock := newTestClock()
	p := New(DefaultLimits(), func(host string, port int, opts stunnel.Options) (*stunnel.Tunnel, error) {
		return fakeTunnel(host, port, clock), nil
	})
	p.cache.now = clock.now

	p.Donate(fakeTunnel("db", 443, clock))
	p.Donate(fakeTunnel("web", 8443, clock))
	if len(p.Snapshot()) != 2 {
		t.Fatalf("snapshot size %d", len(p.Snapshot()))
	}
	p.Flush()
	if p.Len() != 0 || len(p.Snapshot()) != 0 {
		t.Fatal("pool not empty after flush")
	}
}
