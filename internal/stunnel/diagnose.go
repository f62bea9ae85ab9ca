package stunnel

import (
	"bufio"
	"os"
	"strings"
)

// fatalSignatures are log substrings that identify a fatal runtime
// condition; the matched substring becomes the TunnelError reason.
var fatalSignatures = []string{
	"Connection refused",
	"No host resolved",
	"No route to host",
	"Invalid argument",
}

const (
	verifyMarker = "VERIFY ERROR"
	errorMarker  = "error="
)

// Diagnose replays the tunnel's preserved log file line by line, forwards
// each line to the logging sink, and returns a typed error for the first
// recognized failure signature: VerifyError for certificate verification
// failures, TunnelError for known fatal conditions. It returns nil when
// nothing is recognized (or no log was preserved) — diagnosis is
// best-effort enrichment for a caller that already holds some error.
func Diagnose(t *Tunnel) error {
	if t == nil || t.LogFile == "" {
		return nil
	}
	f, err := os.Open(t.LogFile)
	if err != nil {
		return nil
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		t.log(line)
		if strings.Contains(line, verifyMarker) {
			return &VerifyError{Detail: verifyDetail(line)}
		}
		for _, sig := range fatalSignatures {
			if strings.Contains(line, sig) {
				return &TunnelError{Reason: sig}
			}
		}
	}
	return nil
}

// verifyDetail extracts the substring following "error=" up to the next
// comma, e.g. "VERIFY ERROR: ... error=18,..." yields "18".
func verifyDetail(line string) string {
	i := strings.Index(line, errorMarker)
	if i < 0 {
		return ""
	}
	rest := line[i+len(errorMarker):]
	if j := strings.Index(rest, ","); j >= 0 {
		return rest[:j]
	}
	return rest
}
