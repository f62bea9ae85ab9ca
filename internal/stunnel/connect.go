package stunnel

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pmoss/stunnel-pool/internal/events"
	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/obs"
	"github.com/pmoss/stunnel-pool/internal/util"
)

const (
	// DefaultAttempts bounds how many times Connect retries the whole
	// spawn when the child loses its startup race.
	DefaultAttempts = 5

	// DefaultBackoff is the fixed delay between attempts.
	DefaultBackoff = 3 * time.Second
)

// nowFunc and sleepFunc are seams for tests; production code never
// changes them.
var (
	nowFunc   = time.Now
	sleepFunc = time.Sleep
)

// journal receives retry records when installed; appends are best-effort.
var journal *events.Store

// SetJournal installs an event journal for connect retry records.
func SetJournal(j *events.Store) {
	journal = j
}

// Options controls one logical connect request.
type Options struct {
	// Verify overrides the certificate verification decision. The default
	// consults the verification sentinel file.
	Verify model.VerifyMode

	// ExtendedDiagnosis preserves the child's stderr log for Diagnose.
	ExtendedDiagnosis bool

	// UniqueID correlates log lines for this tunnel; generated when empty.
	UniqueID string

	// UseHelper spawns through the installed privileged helper instead of
	// fork/exec in this process.
	UseHelper bool

	// LegacyArgs selects the argument-driven binary variant, which cannot
	// be combined with certificate verification.
	LegacyArgs bool

	// Logger receives progress and diagnostic lines; nil falls back to
	// slog at debug level.
	Logger func(string)

	// Attempts and Backoff override the retry budget; zero values keep
	// the defaults.
	Attempts int
	Backoff  time.Duration
}

// Connect establishes a TLS tunnel to host:port and returns the live
// handle. The whole spawn is retried on ErrInitFailed because by the time
// the lost race is observed the child is already gone; any other error
// propagates immediately. Exhausting the budget returns ErrInitFailed.
func Connect(host string, port int, opts Options) (*Tunnel, error) {
	if err := util.ValidatePort(port); err != nil {
		return nil, err
	}
	if opts.UniqueID == "" {
		opts.UniqueID = uuid.NewString()
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	verify := ResolveVerify(opts.Verify)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		t, err := launch(host, port, verify, opts)
		if err == nil {
			slog.Debug("stunnel connected",
				"endpoint", t.Endpoint().String(),
				"pid", t.Pid(),
				"tunnel", t.UniqueID,
				"verify", verify,
				"attempt", attempt)
			return t, nil
		}
		if !errors.Is(err, ErrInitFailed) {
			return nil, err
		}
		// The child died before reading its configuration. Tear the
		// partial handle down completely, then retry the whole spawn.
		if t != nil {
			_ = Disconnect(t, true, false)
		}
		lastErr = err
		obs.ConnectRetries.Inc()
		if journal != nil {
			if jerr := journal.Append(events.Event{
				Endpoint:  fmt.Sprintf("%s:%d", host, port),
				TunnelID:  opts.UniqueID,
				EventType: events.TypeRetry,
				Message:   err.Error(),
			}); jerr != nil {
				slog.Warn("failed to journal connect retry", "error", jerr)
			}
		}
		slog.Warn("stunnel initialization raced, retrying",
			"endpoint", fmt.Sprintf("%s:%d", host, port),
			"tunnel", opts.UniqueID,
			"attempt", attempt,
			"error", err)
		if attempt < attempts {
			sleepFunc(backoff)
		}
	}
	return nil, lastErr
}
