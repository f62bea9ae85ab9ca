// Package util provides small helpers and constants shared across
// stunnel-pool. It is kept dependency-free (no other internal/* imports)
// so it can sit underneath every package without cycles.
package util

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinPort = 1
	MaxPort = 65535

	// DefaultRefreshSeconds is the fallback interval for the TUI
	// dashboard's periodic pool snapshot refresh.
	DefaultRefreshSeconds = 2

	// JournalReadLimit caps how many events the CLI shows by default.
	JournalReadLimit = 50

	// FlushTimeout bounds how long daemon shutdown waits for the pool to
	// disconnect its remaining tunnels before giving up and exiting.
	FlushTimeout = 30 * time.Second
)

// ValidatePort checks if port is in valid range (1-65535).
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("port %d out of range (must be %d-%d)", port, MinPort, MaxPort)
	}
	return nil
}

// DefaultString returns the fallback value if v is empty or whitespace-only.
func DefaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// EmptyDash returns "-" for blank strings so table output stays readable.
func EmptyDash(s string) string {
	return DefaultString(s, "-")
}
