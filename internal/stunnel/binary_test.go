package stunnel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestResolveBinary_EnvWins(t *testing.T) {
	d := t.TempDir()
	env := writeExecutable(t, d, "env-stunnel")
	override := writeExecutable(t, d, "cfg-stunnel")
	got, err := resolveBinary(env, override, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != env {
		t.Fatalf("expected env path %s, got %s", env, got)
	}
}

func TestResolveBinary_EnvNotExecutable(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "stunnel")
	if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := resolveBinary(p, "", nil)
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("expected ErrBinaryMissing, got %v", err)
	}
}

func TestResolveBinary_OverrideBeforeCandidates(t *testing.T) {
	d := t.TempDir()
	override := writeExecutable(t, d, "cfg-stunnel")
	cand := writeExecutable(t, d, "cand-stunnel")
	got, err := resolveBinary("", override, []string{cand})
	if err != nil {
		t.Fatal(err)
	}
	if got != override {
		t.Fatalf("expected override %s, got %s", override, got)
	}
}

func TestResolveBinary_FirstExecutableCandidate(t *testing.T) {
	d := t.TempDir()
	missing := filepath.Join(d, "absent")
	cand := writeExecutable(t, d, "stunnel")
	got, err := resolveBinary("", "", []string{missing, cand})
	if err != nil {
		t.Fatal(err)
	}
	if got != cand {
		t.Fatalf("expected candidate %s, got %s", cand, got)
	}
}

func TestResolveBinary_NothingFound(t *testing.T) {
	_, err := resolveBinary("", "", []string{filepath.Join(t.TempDir(), "absent")})
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("expected ErrBinaryMissing, got %v", err)
	}
}
