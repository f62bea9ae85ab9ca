package stunnel

import (
	"fmt"
	"os"
	"sync"
)

// EnvBinary names the environment variable that selects an explicit
// stunnel executable, bypassing the candidate path search.
const EnvBinary = "STUNNEL"

// candidatePaths is searched in order when neither the environment nor
// configuration names a binary; the first executable entry wins.
var candidatePaths = []string{
	"/usr/sbin/stunnel",
	"/usr/bin/stunnel",
	"/usr/local/sbin/stunnel",
	"/usr/local/bin/stunnel",
}

var (
	binaryMu       sync.Mutex
	binaryOverride string
	binaryResolved string
	binaryErr      error
	binaryDone     bool
)

// SetBinaryPath installs a configured executable path, consulted after the
// environment override but before the candidate search. Calling it clears
// any previously resolved path.
func SetBinaryPath(path string) {
	binaryMu.Lock()
	defer binaryMu.Unlock()
	binaryOverride = path
	binaryDone = false
}

// BinaryPath resolves the stunnel executable. The result is cached for the
// process lifetime, so the filesystem search happens at most once.
func BinaryPath() (string, error) {
	binaryMu.Lock()
	defer binaryMu.Unlock()
	if !binaryDone {
		binaryResolved, binaryErr = resolveBinary(os.Getenv(EnvBinary), binaryOverride, candidatePaths)
		binaryDone = true
	}
	return binaryResolved, binaryErr
}

func resolveBinary(envPath, override string, candidates []string) (string, error) {
	if envPath != "" {
		if isExecutable(envPath) {
			return envPath, nil
		}
		return "", fmt.Errorf("%w: $%s=%s is not executable", ErrBinaryMissing, EnvBinary, envPath)
	}
	if override != "" {
		if isExecutable(override) {
			return override, nil
		}
		return "", fmt.Errorf("%w: configured path %s is not executable", ErrBinaryMissing, override)
	}
	for _, p := range candidates {
		if isExecutable(p) {
			return p, nil
		}
	}
	return "", ErrBinaryMissing
}

func isExecutable(path string) bool {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return false
	}
	return st.Mode().Perm()&0o111 != 0
}
