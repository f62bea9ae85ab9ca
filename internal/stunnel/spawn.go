package stunnel

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Process is a waitable child created by a Spawner.
type Process interface {
	Pid() int
	// Wait blocks until the process exits and returns its exit status. A
	// child that was already reaped elsewhere reports a benign-unknown
	// exit (status zero, nil error) rather than a lookup failure.
	Wait() (int, error)
	// TryWait polls without blocking. running reports whether the process
	// is still alive; status is only meaningful when running is false.
	TryWait() (status int, running bool, err error)
	// Kill sends SIGKILL. A process that is already gone is not an error.
	Kill() error
}

// Spawner creates tunnel processes with prepared descriptors. stdin,
// stdout and stderr become the child's standard streams (nil stderr is
// discarded); extra files are passed starting at descriptor 3 in order.
//
// The default implementation fork/execs directly. A privileged
// process-helper can be installed with SetHelperSpawner for environments
// where the caller may not spawn children itself.
type Spawner interface {
	Spawn(path string, args []string, stdin, stdout, stderr *os.File, extra []*os.File) (Process, error)
}

var (
	defaultSpawner Spawner = execSpawner{}
	helperSpawner  Spawner
)

// SetHelperSpawner installs the privileged helper used when a connect
// request asks for helper-based spawning.
func SetHelperSpawner(s Spawner) {
	helperSpawner = s
}

func spawnerFor(useHelper bool) (Spawner, error) {
	if !useHelper {
		return defaultSpawner, nil
	}
	if helperSpawner == nil {
		return nil, fmt.Errorf("helper process spawning requested but no helper spawner is installed")
	}
	return helperSpawner, nil
}

// execSpawner launches children with exec.Cmd, which performs the
// post-fork descriptor plumbing (dup onto 0/1/2, extra files onto 3+,
// close everything else) and terminates the child on a failed exec.
type execSpawner struct{}

func (execSpawner) Spawn(path string, args []string, stdin, stdout, stderr *os.File, extra []*os.File) (Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	if stderr != nil {
		cmd.Stderr = stderr
	}
	cmd.ExtraFiles = extra
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	pid := cmd.Process.Pid
	// Reaping happens through wait4 below, never through cmd.Wait.
	_ = cmd.Process.Release()
	return &unixProcess{pid: pid}, nil
}

// unixProcess reaps a child by pid with wait4, so blocking and
// non-blocking waits can be mixed freely on the same handle.
type unixProcess struct {
	pid int
}

func (p *unixProcess) Pid() int { return p.pid }

func (p *unixProcess) Wait() (int, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(p.pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			// Already reaped by an unrelated wait: benign-unknown exit.
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if wpid == p.pid {
			return exitStatus(ws), nil
		}
	}
}

func (p *unixProcess) TryWait() (int, bool, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(p.pid, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		if wpid == 0 {
			return 0, true, nil
		}
		return exitStatus(ws), false, nil
	}
}

func (p *unixProcess) Kill() error {
	if err := unix.Kill(p.pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}

func exitStatus(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	}
	return 0
}
