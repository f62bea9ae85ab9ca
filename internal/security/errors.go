package security

import (
	"errors"
	"os"
	"strings"
)

// ClassifiedError separates a user-safe message from verbose debug details.
type ClassifiedError struct {
	UserSafe    string
	DebugDetail string
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.UserSafe) == "" {
		return "operation failed"
	}
	return e.UserSafe
}

// NewClassifiedError creates a new error with separated user-safe and debug details.
func NewClassifiedError(userSafe, debugDetail string) error {
	return &ClassifiedError{UserSafe: userSafe, DebugDetail: debugDetail}
}

// UserMessage returns a message safe to show in CLI/TUI contexts.
func UserMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		msg := ce.UserSafe
		if msg == "" {
			msg = "operation failed"
		}
		if redact {
			return RedactMessage(msg)
		}
		return msg
	}
	if redact {
		return RedactMessage(err.Error())
	}
	return err.Error()
}

// DebugMessage returns detailed error text for logs.
func DebugMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if strings.TrimSpace(ce.DebugDetail) != "" {
			return ce.DebugDetail
		}
	}
	return err.Error()
}

// RedactMessage strips the home directory and preserved tunnel log paths
// from user-visible text, since log names embed per-tunnel identifiers.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	out := msg
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = strings.ReplaceAll(out, home, "~")
	}
	out = redactLogNames(out)
	return out
}

func redactLogNames(msg string) string {
	const marker = "stunnel-"
	const suffix = ".log"
	var b strings.Builder
	for {
		i := strings.Index(msg, marker)
		if i < 0 {
			b.WriteString(msg)
			return b.String()
		}
		rest := msg[i+len(marker):]
		end := strings.Index(rest, suffix)
		if end < 0 {
			b.WriteString(msg)
			return b.String()
		}
		// Only a contiguous name is a log file; a broken span means the
		// marker belonged to something else, so keep it and rescan from
		// the next candidate.
		if strings.ContainsAny(rest[:end], " \t\n/") || strings.Contains(rest[:end], marker) {
			b.WriteString(msg[:i+len(marker)])
			msg = rest
			continue
		}
		b.WriteString(msg[:i])
		b.WriteString("stunnel-[redacted]" + suffix)
		msg = rest[end+len(suffix):]
	}
}
