// Package config parses and writes the targets.conf registry of named
// TLS endpoints.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/model"
	"github.com/pmoss/stunnel-pool/internal/util"
)

type ParseResult struct {
	Targets  []model.TargetEntry
	Warnings []string
}

type rawTarget struct {
	alias  string
	values map[string]string
	line   int
}

// ParseDefault parses targets.conf from the application config directory.
func ParseDefault() (ParseResult, error) {
	path, err := appconfig.TargetsFilePath()
	if err != nil {
		return ParseResult{}, err
	}
	return ParseFile(path)
}

// ParseFile parses one targets file. The grammar is block-oriented:
//
//	target <alias>
//	  host <hostname>
//	  port <port>
//	  verify yes|no
//	  diagnosis yes|no
//
// Directives also accept "key = value" form; comments start with '#'.
func ParseFile(path string) (ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ParseResult{Warnings: []string{fmt.Sprintf("targets file not found: %s", path)}}, nil
		}
		return ParseResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		raws     []rawTarget
		warnings []string
		current  *rawTarget
	)

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = stripInlineComment(line)
		if line == "" {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s:%d invalid directive", path, lineNo))
			continue
		}

		if strings.EqualFold(key, "target") {
			if current != nil {
				raws = append(raws, *current)
			}
			current = &rawTarget{alias: value, values: map[string]string{}, line: lineNo}
			continue
		}
		if current == nil {
			warnings = append(warnings, fmt.Sprintf("%s:%d directive outside target block", path, lineNo))
			continue
		}
		lowerKey := strings.ToLower(key)
		switch lowerKey {
		case "host", "port", "verify", "diagnosis":
			current.values[lowerKey] = value
		default:
			warnings = append(warnings, fmt.Sprintf("%s:%d unsupported directive %q", path, lineNo, key))
		}
	}
	if err := sc.Err(); err != nil {
		return ParseResult{}, fmt.Errorf("scan %s: %w", path, err)
	}
	if current != nil {
		raws = append(raws, *current)
	}

	targets, compileWarnings := compileTargets(path, raws)
	return ParseResult{Targets: targets, Warnings: append(warnings, compileWarnings...)}, nil
}

// compileTargets validates raw blocks. The first block wins on duplicate
// aliases; later duplicates warn and are dropped.
func compileTargets(path string, raws []rawTarget) ([]model.TargetEntry, []string) {
	var (
		targets  []model.TargetEntry
		warnings []string
		seen     = map[string]struct{}{}
	)
	for _, r := range raws {
		if _, dup := seen[r.alias]; dup {
			warnings = append(warnings, fmt.Sprintf("%s:%d duplicate target %q ignored", path, r.line, r.alias))
			continue
		}
		host := strings.TrimSpace(r.values["host"])
		if host == "" {
			warnings = append(warnings, fmt.Sprintf("%s:%d target %q missing host", path, r.line, r.alias))
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(r.values["port"]))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s:%d target %q has invalid port", path, r.line, r.alias))
			continue
		}
		if err := util.ValidatePort(port); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s:%d target %q: %v", path, r.line, r.alias, err))
			continue
		}
		verify, ok := parseVerify(r.values["verify"])
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s:%d target %q has invalid verify value", path, r.line, r.alias))
			continue
		}
		seen[r.alias] = struct{}{}
		targets = append(targets, model.TargetEntry{
			Alias:     r.alias,
			Host:      host,
			Port:      port,
			Verify:    verify,
			Diagnosis: isYes(r.values["diagnosis"]),
		})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Alias < targets[j].Alias })
	return targets, warnings
}

func parseVerify(v string) (model.VerifyMode, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return model.VerifyDefault, true
	case "yes", "true":
		return model.VerifyAlways, true
	case "no", "false":
		return model.VerifyNever, true
	}
	return model.VerifyDefault, false
}

func isYes(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true":
		return true
	}
	return false
}

func splitDirective(line string) (key, value string, ok bool) {
	if i := strings.IndexAny(line, " \t"); i > 0 {
		key = strings.TrimSpace(line[:i])
		value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line[i+1:]), "="))
		return key, strings.TrimSpace(value), key != "" && value != ""
	}
	if i := strings.Index(line, "="); i > 0 {
		key = strings.TrimSpace(line[:i])
		value = strings.TrimSpace(line[i+1:])
		return key, value, key != "" && value != ""
	}
	return "", "", false
}

func stripInlineComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return strings.TrimSpace(line)
}
