package stunnel

import "errors"

var (
	// ErrBinaryMissing means no usable stunnel executable was found. It is
	// fatal and never retried.
	ErrBinaryMissing = errors.New("no usable stunnel binary found")

	// ErrInitFailed means the stunnel child exited before reading its
	// configuration, so the config write lost the startup race. Connect
	// retries this a bounded number of times before giving up.
	ErrInitFailed = errors.New("stunnel process initialization failed")
)

// TunnelError is a recognized fatal runtime condition extracted from the
// stunnel log, such as a refused connection. It is raised for the caller
// to decide on; the diagnoser never retries anything itself.
type TunnelError struct {
	Reason string
}

func (e *TunnelError) Error() string {
	return "stunnel: " + e.Reason
}

// VerifyError reports a certificate verification failure. Detail carries
// the error code parsed from the stunnel log (the substring following
// "error=" up to the next comma).
type VerifyError struct {
	Detail string
}

func (e *VerifyError) Error() string {
	return "stunnel: certificate verify error " + e.Detail
}
