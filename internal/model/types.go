package model

import (
	"fmt"
	"time"
)

// Endpoint identifies a remote TLS target. Two endpoints are equal iff
// host and port match exactly; no DNS normalization is applied.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// VerifyMode controls certificate verification for a target.
type VerifyMode string

const (
	// VerifyDefault consults the verification sentinel file at connect time.
	VerifyDefault VerifyMode = ""
	VerifyAlways  VerifyMode = "yes"
	VerifyNever   VerifyMode = "no"
)

// TargetEntry is a normalized target definition extracted from targets.conf.
type TargetEntry struct {
	Alias     string     `json:"alias"`
	Host      string     `json:"host"`
	Port      int        `json:"port"`
	Verify    VerifyMode `json:"verify,omitempty"`
	Diagnosis bool       `json:"diagnosis,omitempty"`
}

func (t TargetEntry) Endpoint() Endpoint {
	return Endpoint{Host: t.Host, Port: t.Port}
}

func (t TargetEntry) DisplayTarget() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// PoolEntry is a read-only snapshot of one cached tunnel.
type PoolEntry struct {
	ID          uint64    `json:"id"`
	Endpoint    Endpoint  `json:"endpoint"`
	PID         int       `json:"pid,omitempty"`
	UniqueID    string    `json:"unique_id,omitempty"`
	Verified    bool      `json:"verified"`
	ConnectedAt time.Time `json:"-"`
	DonatedAt   time.Time `json:"-"`
	AgeSec      int64     `json:"age_seconds"`
	IdleSec     int64     `json:"idle_seconds"`
}
