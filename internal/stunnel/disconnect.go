package stunnel

import "time"

// killPollInterval paces the force-kill loop so it does not spin between
// sending SIGKILL and the kernel making the child reapable.
const killPollInterval = 10 * time.Millisecond

// Disconnect closes the tunnel's data socket and reaps its process.
//
// The socket close is unconditional and idempotent; the process wait is
// blocking when wait is true and a non-blocking poll otherwise. With
// force set, a poll that still sees the process alive sends SIGKILL
// (ignoring the process already being gone) and polls again until the
// exit is confirmed. Calling Disconnect on a handle whose process already
// exited, or calling it twice, is safe.
func Disconnect(t *Tunnel, wait, force bool) error {
	if t == nil {
		return nil
	}
	t.closeSocket()
	if t.Proc == nil {
		return nil
	}

	if wait {
		_, err := t.Proc.Wait()
		return err
	}
	for {
		_, running, err := t.Proc.TryWait()
		if err != nil {
			return err
		}
		if !running || !force {
			return nil
		}
		if err := t.Proc.Kill(); err != nil {
			return err
		}
		sleepFunc(killPollInterval)
	}
}
