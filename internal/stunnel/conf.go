package stunnel

import (
	"fmt"
	"os"
	"strings"

	"github.com/pmoss/stunnel-pool/internal/model"
)

// Fixed well-known paths used by certificate verification directives.
const (
	CAPath  = "/etc/stunnel/certs"
	CRLPath = "/etc/stunnel/crls"
)

// DefaultVerifySentinel is the file whose existence turns certificate
// verification on when a caller does not specify a preference.
const DefaultVerifySentinel = "/etc/stunnel/verify-certificates"

// verifySentinel is mutable so configuration can relocate it.
var verifySentinel = DefaultVerifySentinel

// SetVerifySentinel changes the sentinel file consulted by VerifyByDefault.
func SetVerifySentinel(path string) {
	if strings.TrimSpace(path) != "" {
		verifySentinel = path
	}
}

// VerifyByDefault reports whether certificate verification should be
// requested when the caller expressed no preference.
func VerifyByDefault() bool {
	_, err := os.Stat(verifySentinel)
	return err == nil
}

// ResolveVerify maps a target's verify mode onto a concrete decision.
func ResolveVerify(mode model.VerifyMode) bool {
	switch mode {
	case model.VerifyAlways:
		return true
	case model.VerifyNever:
		return false
	}
	return VerifyByDefault()
}

// RenderConfig produces the configuration document written to the child's
// configuration pipe. Lines are joined with "\n"; directive order matters
// to stunnel only in that connect must appear, but it is kept stable here
// so logs and tests read the same way everywhere.
func RenderConfig(host string, port int, verify, debug bool) string {
	lines := []string{
		"client=yes",
		"foreground=yes",
		"socket = r:TCP_NODELAY=1",
		fmt.Sprintf("connect=%s:%d", host, port),
	}
	if debug {
		lines = append(lines, "debug=4")
	}
	if verify {
		lines = append(lines,
			"verify=2",
			"CApath="+CAPath,
			"CRLpath="+CRLPath,
		)
	}
	return strings.Join(lines, "\n")
}

// LegacyArgs builds the command line for the argument-driven binary
// variant, which takes its target on argv instead of reading a config
// pipe. Certificate verification was never implemented for this variant;
// launch panics if the two are combined.
func LegacyArgs(host string, port int, debug bool) []string {
	var args []string
	if debug {
		args = append(args, "-v")
	}
	return append(args, "-m", "client", "-s", "-", "-d", fmt.Sprintf("%s:%d", host, port))
}
