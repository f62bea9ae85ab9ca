// Package stunnel manages short-lived external stunnel client processes.
//
// This package is responsible for launching TLS tunnel processes — it does
// NOT implement TLS itself. Instead it fork/execs the system's stunnel
// binary in client mode, hands the child one end of a socketpair as its
// stdin/stdout, and exposes the other end to the caller as a plaintext
// data socket whose remote side is the encrypted connection.
//
// The primary operations are:
//
//   - Connect: spawn, configure and verify an stunnel process for a
//     host:port, retrying the narrow startup race where the child dies
//     before reading its configuration.
//   - Disconnect: close the data socket and reap the child, optionally
//     escalating to SIGKILL until the process is confirmed gone.
//   - Diagnose: replay a preserved stunnel log after a failure and map
//     known fatal signatures onto typed errors.
package stunnel

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pmoss/stunnel-pool/internal/model"
)

// Tunnel is one live stunnel process together with the local end of its
// plaintext data channel.
//
// A Tunnel with a non-nil Proc owns exactly one OS process and one socket
// pair; both are released together by Disconnect, never one without the
// other. After Disconnect the handle must not be reused or re-cached.
type Tunnel struct {
	Host string
	Port int

	// Proc is the child's process identity: directly forked, obtained
	// from a privileged helper, or nil for a handle that never started.
	Proc Process

	// DataSocket carries plaintext application bytes. The remote end was
	// handed to the child as its stdin/stdout before exec.
	DataSocket *os.File

	// ConnectedAt bounds total lifetime in the pool's age expiry rule.
	ConnectedAt time.Time

	// UniqueID is a caller-supplied (or generated) correlation id used
	// only for logging and identification.
	UniqueID string

	// LogFile is set when the process was started with extended
	// diagnosis, in which case the stderr log is preserved for Diagnose.
	LogFile string

	// Verified records whether certificate verification was requested.
	// Informational only; the pool never re-checks it.
	Verified bool

	closeOnce sync.Once
	logger    func(string)
}

func (t *Tunnel) Endpoint() model.Endpoint {
	return model.Endpoint{Host: t.Host, Port: t.Port}
}

// Pid returns the child's pid, or zero for a not-started handle.
func (t *Tunnel) Pid() int {
	if t.Proc == nil {
		return 0
	}
	return t.Proc.Pid()
}

// closeSocket closes the data socket at most once; later calls and
// already-closed sockets are silently accepted.
func (t *Tunnel) closeSocket() {
	t.closeOnce.Do(func() {
		if t.DataSocket != nil {
			_ = t.DataSocket.Close()
		}
	})
}

func (t *Tunnel) log(msg string) {
	if t.logger != nil {
		t.logger(msg)
		return
	}
	slog.Debug("stunnel", "tunnel", t.UniqueID, "endpoint", t.Endpoint().String(), "line", msg)
}
