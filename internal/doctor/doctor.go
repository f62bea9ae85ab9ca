// Package doctor runs local environment diagnostics for tunnel operations.
package doctor

import (
	"fmt"
	"sort"

	"github.com/pmoss/stunnel-pool/internal/config"
	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/security"
	"github.com/pmoss/stunnel-pool/internal/stunnel"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Run executes local diagnostics for stunnel-pool operations.
func Run() (Report, error) {
	var issues []Issue

	if _, err := stunnel.BinaryPath(); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "stunnel-binary",
			Target:         "$" + stunnel.EnvBinary + " / search paths",
			Message:        err.Error(),
			Recommendation: "install stunnel or point $" + stunnel.EnvBinary + " at the executable",
		})
	}

	res, err := config.ParseDefault()
	if err == nil {
		for _, w := range res.Warnings {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "targets-warning",
				Target:         "targets.conf",
				Message:        w,
				Recommendation: "fix malformed target directives",
			})
		}
		issues = append(issues, duplicateEndpointIssues(res.Targets)...)
	}

	if audit, err := security.RunLocalAudit(); err == nil {
		for _, f := range audit.Findings {
			sev := SeverityLow
			if f.Severity == security.SeverityMedium {
				sev = SeverityMedium
			}
			if f.Severity == security.SeverityHigh {
				sev = SeverityHigh
			}
			issues = append(issues, Issue{
				Severity:       sev,
				Check:          "security-audit",
				Target:         f.Target,
				Message:        f.Message,
				Recommendation: f.Recommendation,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

// duplicateEndpointIssues flags aliases that resolve to the same
// host:port. The pool keys on endpoint, so such targets silently share
// cached tunnels, which usually surprises whoever wrote the registry.
func duplicateEndpointIssues(targets []model.TargetEntry) []Issue {
	seen := map[string][]string{}
	for _, t := range targets {
		key := t.Endpoint().String()
		seen[key] = append(seen[key], t.Alias)
	}
	var issues []Issue
	for ep, aliases := range seen {
		if len(aliases) < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "duplicate-endpoint",
			Target:         ep,
			Message:        fmt.Sprintf("endpoint is defined by %d targets", len(aliases)),
			Recommendation: "targets with the same endpoint share pooled tunnels; merge them if that is unintended",
		})
	}
	return issues
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
