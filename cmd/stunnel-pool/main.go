// Package main is the entry point for the stunnel-pool binary.
//
// stunnel-pool is a terminal application that combines a TUI dashboard (built
// with Bubble Tea) and a CLI (built with Cobra) for running and pooling TLS
// tunnels backed by the external stunnel binary.
//
// When invoked without arguments, it launches the interactive TUI dashboard.
// When invoked with subcommands (e.g. "probe", "serve", "targets list"), it
// runs the corresponding CLI operation and exits.
//
// Usage:
//
//	stunnel-pool              # launch the TUI dashboard
//	stunnel-pool targets list # list targets from targets.conf
//	stunnel-pool probe db:443 # spawn a tunnel, check it, tear it down
//	stunnel-pool serve        # run a long-lived pool with metrics
//
// The CLI is constructed in internal/cli and the TUI in internal/ui. This file
// simply wires them together and handles top-level error reporting.
package main

import (
	"fmt"
	"os"

	"github.com/pmoss/stunnel-pool/internal/cli"
)

func main() {
	// Build the root Cobra command tree, which includes all subcommands
	// (probe, serve, targets, bundles, events, doctor) and defaults to
	// launching the TUI dashboard when no subcommand is provided.
	cmd := cli.NewRootCommand()

	// Execute the resolved command. Cobra handles argument parsing,
	// subcommand routing, and help/usage output automatically.
	// Any error returned by a RunE handler is printed to stderr
	// and the process exits with a non-zero status code.
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
