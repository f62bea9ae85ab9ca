package stunnel

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// configPipeFd is the descriptor the child reads its configuration from.
// The spawner passes extra files starting at 3, and the config pipe is the
// only extra file, so this is stable.
const configPipeFd = 3

// launch performs one spawn attempt and returns a started Tunnel.
//
// When the config write loses the race against a dying child, the error
// wraps ErrInitFailed and the partially started handle is returned
// alongside it so the caller can tear it down before retrying. Every
// other failure returns a nil handle with nothing left open.
func launch(host string, port int, verify bool, opts Options) (*Tunnel, error) {
	if opts.LegacyArgs && verify {
		panic("stunnel: certificate verification is not supported with legacy argument mode")
	}

	binary, err := BinaryPath()
	if err != nil {
		return nil, err
	}

	spawner, err := spawnerFor(opts.UseHelper)
	if err != nil {
		return nil, err
	}

	// Data channel: the child end becomes the child's stdin/stdout, the
	// parent end is the caller's plaintext socket.
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("create data socketpair: %w", err)
	}
	parentSock := os.NewFile(uintptr(fds[0]), "stunnel-data")
	childSock := os.NewFile(uintptr(fds[1]), "stunnel-data-child")

	var (
		logFile *os.File
		logPath string
	)
	if opts.ExtendedDiagnosis {
		logFile, err = os.CreateTemp("", "stunnel-*.log")
		if err != nil {
			parentSock.Close()
			childSock.Close()
			return nil, fmt.Errorf("create diagnosis log: %w", err)
		}
		logPath = logFile.Name()
	}

	var (
		args  []string
		confR *os.File
		confW *os.File
	)
	if opts.LegacyArgs {
		args = LegacyArgs(host, port, opts.ExtendedDiagnosis)
	} else {
		confR, confW, err = os.Pipe()
		if err != nil {
			parentSock.Close()
			childSock.Close()
			removeLog(logFile, logPath)
			return nil, fmt.Errorf("create config pipe: %w", err)
		}
		args = []string{"-fd", fmt.Sprintf("%d", configPipeFd)}
	}

	var extra []*os.File
	if confR != nil {
		extra = append(extra, confR)
	}
	proc, err := spawner.Spawn(binary, args, childSock, childSock, logFile, extra)

	// The child holds its own copies now (or never started); the parent's
	// copies of child-side descriptors are closed either way.
	childSock.Close()
	if confR != nil {
		confR.Close()
	}
	if logFile != nil {
		logFile.Close()
	}

	if err != nil {
		parentSock.Close()
		if confW != nil {
			confW.Close()
		}
		removeLog(nil, logPath)
		return nil, fmt.Errorf("spawn %s: %w", binary, err)
	}

	t := &Tunnel{
		Host:        host,
		Port:        port,
		Proc:        proc,
		DataSocket:  parentSock,
		ConnectedAt: nowFunc(),
		UniqueID:    opts.UniqueID,
		LogFile:     logPath,
		Verified:    verify,
		logger:      opts.Logger,
	}

	if confW != nil {
		// This write races the child's own startup failure: if the child
		// died or closed its end before reading, the pipe breaks and the
		// whole attempt is retryable.
		_, werr := confW.WriteString(RenderConfig(host, port, verify, opts.ExtendedDiagnosis))
		confW.Close()
		if werr != nil {
			return t, fmt.Errorf("%w: writing configuration: %v", ErrInitFailed, werr)
		}
	}

	return t, nil
}

func removeLog(f *os.File, path string) {
	if f != nil {
		f.Close()
	}
	if path != "" {
		_ = os.Remove(path)
	}
}
