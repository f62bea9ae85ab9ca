package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/model"
)

func TestAppendTarget_Roundtrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	entry := model.TargetEntry{Alias: "db", Host: "db.internal", Port: 443, Verify: model.VerifyNever, Diagnosis: true}
	if err := AppendTarget(entry); err != nil {
		t.Fatal(err)
	}
	if err := AppendTarget(model.TargetEntry{Alias: "web", Host: "web.internal", Port: 8443}); err != nil {
		t.Fatal(err)
	}

	res, err := ParseDefault()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("roundtrip warnings: %v", res.Warnings)
	}
	if len(res.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(res.Targets))
	}
	if res.Targets[0] != entry {
		t.Fatalf("roundtrip mismatch: %+v", res.Targets[0])
	}
}

func TestFormatTargetBlock_OmitsDefaults(t *testing.T) {
	block := FormatTargetBlock(model.TargetEntry{Alias: "web", Host: "web.internal", Port: 8443})
	if strings.Contains(block, "verify") || strings.Contains(block, "diagnosis") {
		t.Fatalf("default fields rendered:\n%s", block)
	}
}

func TestValidateAlias(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, bad := range []string{"", "  ", "has space", "has#hash", "has=eq"} {
		if err := ValidateAlias(bad); err == nil {
			t.Fatalf("alias %q accepted", bad)
		}
	}
	if err := ValidateAlias("db-primary"); err != nil {
		t.Fatal(err)
	}
	if err := AppendTarget(model.TargetEntry{Alias: "db-primary", Host: "db.internal", Port: 443}); err != nil {
		t.Fatal(err)
	}
	if err := ValidateAlias("DB-Primary"); err == nil {
		t.Fatal("case-insensitive collision accepted")
	}
}

func TestRemoveTarget(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path, err := writeTargetsFixture(
		"# production endpoints",
		"",
		"target db",
		"  host db.internal",
		"  port 443",
		"",
		"target web",
		"  host web.internal",
		"  port 8443",
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := RemoveTarget("DB"); err != nil {
		t.Fatal(err)
	}
	res, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Targets) != 1 || res.Targets[0].Alias != "web" {
		t.Fatalf("unexpected survivors: %+v", res.Targets)
	}

	// Comments outside the removed block stay put.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# production endpoints") {
		t.Fatalf("comment lost:\n%s", data)
	}
	if strings.Contains(string(data), "db.internal") {
		t.Fatalf("removed block leaked:\n%s", data)
	}

	if err := RemoveTarget("db"); err == nil {
		t.Fatal("second remove of the same target succeeded")
	}
}

func TestRemoveTarget_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := RemoveTarget("db"); err == nil {
		t.Fatal("remove against an absent registry succeeded")
	}
}

func writeTargetsFixture(lines ...string) (string, error) {
	path, err := appconfig.TargetsFilePath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

func TestFindTarget(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := AppendTarget(model.TargetEntry{Alias: "db", Host: "db.internal", Port: 443}); err != nil {
		t.Fatal(err)
	}
	got, err := FindTarget("db")
	if err != nil {
		t.Fatal(err)
	}
	if got.Host != "db.internal" {
		t.Fatalf("found %+v", got)
	}
	if _, err := FindTarget("absent"); err == nil {
		t.Fatal("missing target resolved")
	}
}
