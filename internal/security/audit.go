// Package security audits local file posture around the tunnel pool and
// classifies errors for user-facing output.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/stunnel"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// RunLocalAudit inspects stunnel-pool and certificate store file posture.
func RunLocalAudit() (AuditReport, error) {
	var findings []Finding

	if path, err := stunnel.BinaryPath(); err == nil {
		checkWorldWritable(&findings, path, "the tunnel binary must not be writable by other users")
	}

	if stunnel.VerifyByDefault() {
		// Verification is on by default, so the certificate stores must
		// actually be usable.
		checkCertDir(&findings, stunnel.CAPath, "certificate verification is enabled but the CA store is missing")
		checkCertDir(&findings, stunnel.CRLPath, "certificate verification is enabled but the CRL store is missing")
	}

	cfgDir, err := appconfig.ConfigDir()
	if err == nil {
		checkPathPerm(&findings, cfgDir, 0o755, false)
		checkPathPerm(&findings, filepath.Join(cfgDir, "config.yaml"), 0o644, true)
		checkPathPerm(&findings, filepath.Join(cfgDir, "targets.conf"), 0o600, true)
		checkPathPerm(&findings, filepath.Join(cfgDir, "events.jsonl"), 0o600, true)
		checkPathPerm(&findings, filepath.Join(cfgDir, "history.json"), 0o600, true)
		checkPathPerm(&findings, filepath.Join(cfgDir, "bundles.yaml"), 0o600, true)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}, nil
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func checkWorldWritable(findings *[]Finding, path, why string) {
	st, err := os.Stat(path)
	if err != nil {
		return
	}
	if st.Mode().Perm()&0o022 != 0 {
		*findings = append(*findings, Finding{
			Severity:       SeverityHigh,
			Target:         path,
			Message:        fmt.Sprintf("writable by group or others (%#o)", st.Mode().Perm()),
			Recommendation: why,
		})
	}
}

func checkCertDir(findings *[]Finding, path, why string) {
	st, err := os.Stat(path)
	if err != nil {
		*findings = append(*findings, Finding{
			Severity:       SeverityHigh,
			Target:         path,
			Message:        "directory is missing or unreadable",
			Recommendation: why,
		})
		return
	}
	if !st.IsDir() {
		*findings = append(*findings, Finding{
			Severity:       SeverityHigh,
			Target:         path,
			Message:        "expected a directory",
			Recommendation: why,
		})
		return
	}
	checkWorldWritable(findings, path, "certificate stores must not be writable by other users")
}

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode > max {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityMedium,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
