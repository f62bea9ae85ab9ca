package cli

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/bundle"
	"github.com/pmoss/stunnel-pool/internal/events"
	"github.com/pmoss/stunnel-pool/internal/history"
	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/pool"
	"github.com/pmoss/stunnel-pool/internal/stunnel"
)

func setupRegistryForCLI(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(stunnel.EnvBinary, "")
	stunnel.SetBinaryPath("")
	t.Cleanup(func() { stunnel.SetBinaryPath("") })

	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "stunnel-pool")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	cfg := strings.Join([]string{
		"target db",
		"  host db.internal",
		"  port 443",
		"",
		"target web",
		"  host web.internal",
		"  port 8443",
		"  verify no",
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "targets.conf"), []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestTargetsListOutput(t *testing.T) {
	setupRegistryForCLI(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"targets", "list"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "db.internal:443") || !strings.Contains(out, "web.internal:8443") {
		t.Fatalf("expected both targets listed, got: %s", out)
	}
}

func TestTargetsListRecentOrdering(t *testing.T) {
	setupRegistryForCLI(t)
	if err := history.Touch(model.Endpoint{Host: "web.internal", Port: 8443}); err != nil {
		t.Fatal(err)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"targets", "list"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 3 {
		t.Fatalf("unexpected output: %s", out)
	}
	if !strings.Contains(lines[1], "web") {
		t.Fatalf("expected recently connected target first, got: %s", lines[1])
	}
}

func TestTargetsAddRoundtrip(t *testing.T) {
	setupRegistryForCLI(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"targets", "add", "cache", "cache.internal", "6379", "--verify", "no", "--diagnosis"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := resolveTarget("cache")
	if err != nil {
		t.Fatal(err)
	}
	if got.Host != "cache.internal" || got.Port != 6379 || got.Verify != model.VerifyNever || !got.Diagnosis {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestTargetsAddRejectsBadInput(t *testing.T) {
	setupRegistryForCLI(t)

	for _, args := range [][]string{
		{"targets", "add", "bad", "host.internal", "0"},
		{"targets", "add", "bad", "host.internal", "not-a-port"},
		{"targets", "add", "db", "host.internal", "443"}, // duplicate alias
		{"targets", "add", "bad", "host.internal", "443", "--verify", "maybe"},
	} {
		cmd := NewRootCommand()
		cmd.SetArgs(args)
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		if _, err := captureStdout(func() error { return cmd.Execute() }); err == nil {
			t.Fatalf("args %v accepted", args)
		}
	}
}

func TestResolveTarget(t *testing.T) {
	setupRegistryForCLI(t)

	literal, err := resolveTarget("10.1.2.3:8443")
	if err != nil {
		t.Fatal(err)
	}
	if literal.Host != "10.1.2.3" || literal.Port != 8443 {
		t.Fatalf("literal endpoint: %+v", literal)
	}

	alias, err := resolveTarget("web")
	if err != nil {
		t.Fatal(err)
	}
	if alias.Host != "web.internal" || alias.Verify != model.VerifyNever {
		t.Fatalf("alias lookup: %+v", alias)
	}

	for _, bad := range []string{"unknown-alias", ":443", "host:", "host:zero"} {
		if _, err := resolveTarget(bad); err == nil {
			t.Fatalf("input %q resolved", bad)
		}
	}
}

func TestTargetsRemoveCommand(t *testing.T) {
	setupRegistryForCLI(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"targets", "remove", "db"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(out, "removed db") {
		t.Fatalf("unexpected output: %s", out)
	}
	if _, err := resolveTarget("db"); err == nil {
		t.Fatal("removed target still resolves")
	}
	if _, err := resolveTarget("web"); err != nil {
		t.Fatalf("unrelated target lost: %v", err)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"targets", "remove", "db"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if _, err := captureStdout(func() error { return cmd.Execute() }); err == nil {
		t.Fatal("second remove of the same target succeeded")
	}
}

// newAdminTestServer stands in for a running serve daemon: the real
// admin mux over a pool whose spawns are faked.
func newAdminTestServer(t *testing.T) (*httptest.Server, *pool.Pool) {
	t.Helper()
	fresh := func(host string, port int, opts stunnel.Options) (*stunnel.Tunnel, error) {
		return &stunnel.Tunnel{Host: host, Port: port, ConnectedAt: time.Now(), UniqueID: "pooled-fixture-id"}, nil
	}
	p := pool.New(pool.DefaultLimits(), fresh)
	srv := httptest.NewServer(newAdminMux(p, appconfig.Default(), fresh))
	t.Cleanup(srv.Close)
	return srv, p
}

func TestPoolStatusAndFlushCommands(t *testing.T) {
	setupRegistryForCLI(t)
	srv, p := newAdminTestServer(t)

	p.Donate(&stunnel.Tunnel{Host: "db.internal", Port: 443, ConnectedAt: time.Now(), UniqueID: "donated-fixture-id"})

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"pool", "status", "--addr", srv.URL})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("pool status: %v", err)
	}
	if !strings.Contains(out, "db.internal:443") || !strings.Contains(out, "1 cached") {
		t.Fatalf("unexpected status output: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"pool", "flush", "--addr", srv.URL})
	out, err = captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("pool flush: %v", err)
	}
	if !strings.Contains(out, "flushed 1 tunnels") {
		t.Fatalf("unexpected flush output: %s", out)
	}
	if p.Len() != 0 {
		t.Fatalf("daemon still caches %d tunnels after flush", p.Len())
	}
}

func TestPoolStatusRequiresAddress(t *testing.T) {
	setupRegistryForCLI(t)
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"pool", "status"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if _, err := captureStdout(func() error { return cmd.Execute() }); err == nil {
		t.Fatal("status without an admin address succeeded")
	}
}

func TestWarmCommandDonatesToDaemon(t *testing.T) {
	setupRegistryForCLI(t)
	if err := bundle.Create("daily", []bundle.Entry{{TargetAlias: "db", Count: 2}, {TargetAlias: "web", Count: 1}}); err != nil {
		t.Fatal(err)
	}
	srv, p := newAdminTestServer(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"warm", "daily", "--addr", srv.URL})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("warm: %v", err)
	}
	if !strings.Contains(out, "bundle daily warmed, 3 tunnels cached") {
		t.Fatalf("unexpected warm output: %s", out)
	}
	if p.Len() != 3 {
		t.Fatalf("daemon caches %d tunnels after warm", p.Len())
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"warm", "absent-bundle", "--addr", srv.URL})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if _, err := captureStdout(func() error { return cmd.Execute() }); err == nil {
		t.Fatal("warming an unknown bundle succeeded")
	}
}

func TestBundlesLifecycle(t *testing.T) {
	setupRegistryForCLI(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"bundles", "add", "daily", "--target", "db:2", "--target", "web"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("add bundle: %v", err)
	}

	def, err := bundle.Get("daily")
	if err != nil {
		t.Fatal(err)
	}
	if len(def.Entries) != 2 || def.Entries[0].TargetAlias != "db" || def.Entries[0].Count != 2 {
		t.Fatalf("unexpected bundle: %+v", def)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"bundles", "list"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list bundles: %v", err)
	}
	if !strings.Contains(out, "daily") || !strings.Contains(out, "db x2") {
		t.Fatalf("expected bundle in list output, got: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"bundles", "remove", "daily"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("remove bundle: %v", err)
	}
	if _, err := bundle.Get("daily"); err == nil {
		t.Fatal("bundle still present after remove")
	}
}

func TestEventsJSONOutput(t *testing.T) {
	setupRegistryForCLI(t)
	store := events.NewStore()
	if err := store.Append(events.Event{
		Timestamp: time.Now().UTC(),
		Endpoint:  "db.internal:443",
		TunnelID:  "abc-123",
		EventType: events.TypeDonate,
		PID:       4242,
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"events", "--endpoint", "db.internal:443", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("events json: %v", err)
	}
	var payload []map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid events json: %v", err)
	}
	if len(payload) != 1 || payload[0]["event_type"] != events.TypeDonate {
		t.Fatalf("unexpected events payload: %v", payload)
	}
}

func TestDoctorJSONOutput(t *testing.T) {
	setupRegistryForCLI(t)
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"doctor", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("doctor json: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid doctor json: %v", err)
	}
	if _, ok := payload["issues"]; !ok {
		t.Fatalf("expected issues key in doctor output: %s", out)
	}
}

func captureStdout(fn func() error) (string, error) {
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = orig
	b, readErr := io.ReadAll(r)
	if readErr != nil {
		return "", readErr
	}
	return string(b), runErr
}
