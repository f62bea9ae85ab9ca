// Package bundle stores named groups of targets used to pre-warm the
// tunnel pool in one operation.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"gopkg.in/yaml.v3"
)

// Entry names one target to warm, with an optional tunnel count for
// endpoints that benefit from more than one pooled connection.
type Entry struct {
	TargetAlias string `yaml:"target_alias" json:"target_alias"`
	Count       int    `yaml:"count,omitempty" json:"count,omitempty"`
}

// Definition is a named set of bundle entries.
type Definition struct {
	Name    string  `yaml:"name" json:"name"`
	Entries []Entry `yaml:"entries" json:"entries"`
}

type fileModel struct {
	Bundles map[string]Definition `yaml:"bundles"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bundles.yaml"), nil
}

// LoadAll returns all bundles sorted by name.
func LoadAll() ([]Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := make([]Definition, 0, len(fm.Bundles))
	for _, b := range fm.Bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get fetches one bundle by name.
func Get(name string) (Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return Definition{}, err
	}
	b, ok := fm.Bundles[name]
	if !ok {
		return Definition{}, fmt.Errorf("bundle not found: %s", name)
	}
	return b, nil
}

// Create adds or replaces a bundle definition.
func Create(name string, entries []Entry) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("bundle name cannot be empty")
	}
	if len(entries) == 0 {
		return fmt.Errorf("bundle must include at least one target")
	}
	for i := range entries {
		entries[i].TargetAlias = strings.TrimSpace(entries[i].TargetAlias)
		if entries[i].TargetAlias == "" {
			return fmt.Errorf("bundle entry %d missing target alias", i)
		}
		if entries[i].Count < 0 {
			return fmt.Errorf("bundle entry %d has negative count", i)
		}
	}

	fm, err := loadFile()
	if err != nil {
		return err
	}
	fm.Bundles[name] = Definition{Name: name, Entries: entries}
	return saveFile(fm)
}

// Delete removes a bundle by name.
func Delete(name string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if _, ok := fm.Bundles[name]; !ok {
		return fmt.Errorf("bundle not found: %s", name)
	}
	delete(fm.Bundles, name)
	return saveFile(fm)
}

func loadFile() (fileModel, error) {
	path, err := filePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{Bundles: map[string]Definition{}}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse bundles: %w", err)
	}
	if fm.Bundles == nil {
		fm.Bundles = map[string]Definition{}
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
