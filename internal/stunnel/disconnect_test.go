package stunnel

import (
	"os"
	"testing"
	"time"
)

func TestDisconnect_NilHandle(t *testing.T) {
	if err := Disconnect(nil, true, false); err != nil {
		t.Fatal(err)
	}
}

func TestDisconnect_NoProcess(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	tun := &Tunnel{DataSocket: r}
	if err := Disconnect(tun, true, false); err != nil {
		t.Fatal(err)
	}
	// Second disconnect must not double-close the socket.
	if err := Disconnect(tun, true, false); err != nil {
		t.Fatal(err)
	}
}

func TestDisconnect_WaitReaps(t *testing.T) {
	p := &fakeProcess{pid: 4242}
	tun := &Tunnel{Proc: p}
	if err := Disconnect(tun, true, false); err != nil {
		t.Fatal(err)
	}
	if p.waits != 1 {
		t.Fatalf("expected one blocking wait, got %d", p.waits)
	}
}

func TestDisconnect_PollWithoutForce(t *testing.T) {
	p := &fakeProcess{pid: 4242, killsUntilDead: 1}
	tun := &Tunnel{Proc: p}
	if err := Disconnect(tun, false, false); err != nil {
		t.Fatal(err)
	}
	if p.kills != 0 {
		t.Fatalf("killed a live process without force, kills=%d", p.kills)
	}
}

func TestDisconnect_ForceKillsUntilGone(t *testing.T) {
	oldSleep := sleepFunc
	sleepFunc = func(time.Duration) {}
	defer func() { sleepFunc = oldSleep }()

	p := &fakeProcess{pid: 4242, killsUntilDead: 3}
	tun := &Tunnel{Proc: p}
	if err := Disconnect(tun, false, true); err != nil {
		t.Fatal(err)
	}
	if p.kills != 3 {
		t.Fatalf("expected 3 kills before exit confirmed, got %d", p.kills)
	}
}
