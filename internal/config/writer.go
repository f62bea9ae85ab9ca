package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/model"
)

// AppendTarget appends a formatted target block to targets.conf.
func AppendTarget(entry model.TargetEntry) error {
	path, err := appconfig.TargetsFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read targets file: %w", err)
	}

	var prefix string
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		prefix = "\n"
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open targets file for append: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(prefix + "\n" + FormatTargetBlock(entry)); err != nil {
		return fmt.Errorf("write target block: %w", err)
	}
	return nil
}

// FormatTargetBlock renders one target block. Only non-default fields are
// included.
func FormatTargetBlock(entry model.TargetEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "target %s\n", entry.Alias)
	fmt.Fprintf(&b, "  host %s\n", entry.Host)
	fmt.Fprintf(&b, "  port %d\n", entry.Port)
	if entry.Verify != model.VerifyDefault {
		fmt.Fprintf(&b, "  verify %s\n", entry.Verify)
	}
	if entry.Diagnosis {
		b.WriteString("  diagnosis yes\n")
	}
	return b.String()
}

// RemoveTarget rewrites targets.conf without the named target's block.
// Lines outside the removed block, comments included, survive verbatim.
func RemoveTarget(alias string) error {
	path, err := appconfig.TargetsFilePath()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("target not found: %s", alias)
		}
		return fmt.Errorf("read targets file: %w", err)
	}

	var (
		kept     []string
		skipping bool
		found    bool
	)
	for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		if name, ok := blockHeader(line); ok {
			skipping = strings.EqualFold(name, alias)
			if skipping {
				found = true
			}
		}
		if skipping {
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return fmt.Errorf("target not found: %s", alias)
	}

	out := strings.Join(kept, "\n")
	if out != "" {
		out += "\n"
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("rewrite targets file: %w", err)
	}
	return nil
}

// blockHeader reports whether a raw line opens a target block and, if
// so, which alias it names.
func blockHeader(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	key, value, ok := splitDirective(stripInlineComment(trimmed))
	if !ok || !strings.EqualFold(key, "target") {
		return "", false
	}
	return value, true
}

// ValidateAlias checks whether a proposed alias is usable and does not
// collide with an existing target.
func ValidateAlias(alias string) error {
	if strings.TrimSpace(alias) == "" {
		return fmt.Errorf("alias cannot be empty")
	}
	if strings.ContainsAny(alias, " \t#=") {
		return fmt.Errorf("alias cannot contain spaces, '#' or '='")
	}
	res, err := ParseDefault()
	if err != nil {
		return nil // unreadable registry should not block adding
	}
	for _, t := range res.Targets {
		if strings.EqualFold(t.Alias, alias) {
			return fmt.Errorf("target %q already exists", alias)
		}
	}
	return nil
}

// FindTarget resolves an alias against the registry.
func FindTarget(alias string) (model.TargetEntry, error) {
	res, err := ParseDefault()
	if err != nil {
		return model.TargetEntry{}, err
	}
	for _, t := range res.Targets {
		if t.Alias == alias {
			return t, nil
		}
	}
	return model.TargetEntry{}, fmt.Errorf("target not found: %s", alias)
}
